// Command gnssqc loads GNSS observation and orbit files into an analysis
// context and runs one operation on it: file production (generate, merge,
// split, tbin, diff), positioning (ppp, rtk) or, without command, the
// context report.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/signalsfoundry/gnssqc/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := newRootCommand(os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes err followed by each wrapped cause on its own line.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		fmt.Fprintf(w, "  caused by: %v\n", cause)
	}
}

// parseECEF reads "X,Y,Z" in metres.
func parseECEF(s string) (model.ECEF, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return model.ECEF{}, fmt.Errorf("rx-ecef %q: expected X,Y,Z", s)
	}
	var xyz [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.ECEF{}, fmt.Errorf("rx-ecef %q: %w", s, err)
		}
		xyz[i] = v
	}
	return model.ECEF{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}
