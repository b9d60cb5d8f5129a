package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/gnssqc/core"
	"github.com/signalsfoundry/gnssqc/internal/config"
	"github.com/signalsfoundry/gnssqc/internal/fops"
	"github.com/signalsfoundry/gnssqc/internal/logging"
	"github.com/signalsfoundry/gnssqc/internal/observability"
	"github.com/signalsfoundry/gnssqc/internal/pipeline"
	"github.com/signalsfoundry/gnssqc/internal/positioning"
	"github.com/signalsfoundry/gnssqc/internal/report"
)

// options are the flags shared by every command.
type options struct {
	files       []string
	dirs        []string
	depth       int
	rxECEF      string
	filters     []string
	workspace   string
	quiet       bool
	metricsFile string

	out    io.Writer
	errOut io.Writer
	// run executes a request; replaced in tests.
	run func(ctx context.Context, cmd *cobra.Command, mode pipeline.Mode) error
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &options{out: out, errOut: errOut}
	opts.run = opts.execute
	return buildRoot(opts)
}

func buildRoot(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "gnssqc",
		Short: "GNSS data quality control and processing",
		Long: `gnssqc gathers RINEX and SP3 files into an analysis context, then runs
one operation on it. Without a command the context report is rendered into
the workspace.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), cmd, pipeline.ReportMode{})
		},
	}
	root.SetOut(opts.out)
	root.SetErr(opts.errOut)

	f := root.PersistentFlags()
	f.StringArrayVarP(&opts.files, "fp", "f", nil, "input file (repeatable)")
	f.StringArrayVarP(&opts.dirs, "dir", "d", nil, "input directory, walked recursively (repeatable)")
	f.IntVar(&opts.depth, "depth", core.DefaultMaxDepth, "maximum directory recursion depth")
	f.StringVar(&opts.rxECEF, "rx-ecef", "", "manual receiver position X,Y,Z in metres")
	f.StringArrayVarP(&opts.filters, "preprocessing", "P", nil, "preprocessing filter, e.g. GPS,GAL or \">2020-06-25 12:00:00\" or decim:30s (repeatable)")
	f.StringVarP(&opts.workspace, "workspace", "w", "", "workspace root (default $GNSSQC_WORKSPACE or WORKSPACE)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "do not open the report")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics to this file at exit")

	root.AddCommand(
		newGenerateCommand(opts),
		newMergeCommand(opts),
		newSplitCommand(opts),
		newTimeBinCommand(opts),
		newDiffCommand(opts),
		newPPPCommand(opts),
		newRTKCommand(opts),
	)
	return root
}

func newGenerateCommand(opts *options) *cobra.Command {
	var gen fops.GenerateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Re-emit every preprocessed file into OUTPUT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), cmd, pipeline.GenerateMode{Options: gen})
		},
	}
	cmd.Flags().BoolVar(&gen.CSV, "csv", false, "also write an epoch index as CSV")
	cmd.Flags().BoolVar(&gen.XLSX, "xlsx", false, "also write an epoch index workbook")
	return cmd
}

func newMergeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "merge FILE",
		Short: "Merge FILE into the matching context file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd, pipeline.MergeMode{Path: args[0]})
		},
	}
}

func newSplitCommand(opts *options) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "split --at INSTANT",
		Short: "Split every context file at an instant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := core.ParseInstant(at)
			if err != nil {
				return fmt.Errorf("split: %w", err)
			}
			return opts.run(cmd.Context(), cmd, pipeline.SplitMode{At: t})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "split instant (RFC3339 or \"2006-01-02 15:04:05\")")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newTimeBinCommand(opts *options) *cobra.Command {
	var mode pipeline.TimeBinMode
	cmd := &cobra.Command{
		Use:   "tbin --interval DURATION",
		Short: "Chunk every context file into time bins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd.Context(), cmd, mode)
		},
	}
	cmd.Flags().DurationVar(&mode.Interval, "interval", 0, "bin length, e.g. 1h or 15m")
	_ = cmd.MarkFlagRequired("interval")
	return cmd
}

func newDiffCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "diff FILE",
		Short: "Difference the context observations against FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), cmd, pipeline.DiffMode{Path: args[0]})
		},
	}
}

func newPPPCommand(opts *options) *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "ppp",
		Short: "Single receiver positioning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := positioning.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return opts.run(cmd.Context(), cmd, pipeline.PPPMode{Config: cfg})
		},
	}
	cmd.Flags().StringVar(&cfgPath, "cfg", "", "solver configuration (YAML)")
	return cmd
}

func newRTKCommand(opts *options) *cobra.Command {
	var (
		cfgPath string
		base    core.Inputs
	)
	cmd := &cobra.Command{
		Use:   "rtk --base-fp FILE | --base-dir DIR",
		Short: "Differential positioning against a base station",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if base.Empty() {
				return fmt.Errorf("rtk: at least one --base-fp or --base-dir is required")
			}
			cfg, err := positioning.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			return opts.run(cmd.Context(), cmd, pipeline.RTKMode{Base: base, Config: cfg})
		},
	}
	cmd.Flags().StringArrayVar(&base.Files, "base-fp", nil, "base station file (repeatable)")
	cmd.Flags().StringArrayVar(&base.Directories, "base-dir", nil, "base station directory (repeatable)")
	cmd.Flags().StringVar(&cfgPath, "cfg", "", "solver configuration (YAML)")
	return cmd
}

// execute wires the stack from the environment and flags, then runs mode.
func (o *options) execute(ctx context.Context, cmd *cobra.Command, mode pipeline.Mode) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("workspace") {
		cfg.WorkspaceRoot = o.workspace
	}
	if flags.Changed("depth") {
		cfg.MaxDepth = o.depth
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = o.metricsFile
	}

	logCfg := cfg.Logging()
	logCfg.Output = o.errOut
	log := logging.New(logCfg)

	if cfg.Tracing.Output == nil {
		cfg.Tracing.Output = o.errOut
	}
	shutdown, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	reg := prometheus.NewRegistry()
	pipelineMetrics, err := observability.NewPipelineCollector(reg)
	if err != nil {
		return err
	}
	solverMetrics, err := observability.NewSolverCollector(reg)
	if err != nil {
		return err
	}
	if cfg.MetricsFile != "" {
		defer func() {
			if err := pipelineMetrics.WriteTextfile(cfg.MetricsFile); err != nil {
				log.Warn(ctx, "metrics not written", logging.Err(err))
			}
		}()
	}

	req := core.BuildRequest{
		Rover:         core.Inputs{Files: o.files, Directories: o.dirs},
		Quiet:         o.quiet,
		WorkspaceRoot: cfg.WorkspaceRoot,
	}
	if o.rxECEF != "" {
		pos, err := parseECEF(o.rxECEF)
		if err != nil {
			return err
		}
		req.ManualPosition = &pos
	}

	loader, err := core.NewLoader(core.LoaderConfig{
		MaxDepth: cfg.MaxDepth,
		Filters:  o.filters,
		Log:      log,
		Metrics:  pipelineMetrics,
	})
	if err != nil {
		return err
	}
	builder := core.NewBuilder(loader,
		core.WithLogger(log),
		core.WithBaselineRecorder(pipelineMetrics),
		core.WithStageRecorder(pipelineMetrics),
	)
	runner := pipeline.NewRunner(builder,
		pipeline.FileOperations{SolverMetrics: solverMetrics},
		report.NewAssembler(report.WithLogger(log)),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(pipelineMetrics),
	)

	res, err := runner.Run(ctx, pipeline.Request{Build: req, Mode: mode})
	if err != nil {
		return err
	}
	for _, path := range res.Written {
		fmt.Fprintln(o.out, path)
	}
	if res.Report != "" {
		fmt.Fprintln(o.out, res.Report)
	}
	return nil
}
