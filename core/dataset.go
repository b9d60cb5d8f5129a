package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/signalsfoundry/gnssqc/internal/rinex"
	"github.com/signalsfoundry/gnssqc/internal/sp3"
	"github.com/signalsfoundry/gnssqc/model"
)

var (
	// ErrDuplicateFile indicates a path was merged into a dataset twice.
	ErrDuplicateFile = errors.New("file already part of the dataset")
	// ErrRecordKind indicates a record whose payload does not match its kind.
	ErrRecordKind = errors.New("record payload does not match its kind")
)

// RawFileEntry is a load candidate and the kind it was recognized as,
// KindUnknown when no probe accepted it.
type RawFileEntry struct {
	Path string
	Kind model.Kind
}

// Record is one parsed file. Exactly one of RINEX and SP3 is set, matching
// Kind.
type Record struct {
	Path  string
	Kind  model.Kind
	RINEX *rinex.File
	SP3   *sp3.File
}

// Entry returns the path/kind pair of the record.
func (r Record) Entry() RawFileEntry {
	return RawFileEntry{Path: r.Path, Kind: r.Kind}
}

func (r Record) validate() error {
	switch r.Kind {
	case model.KindRINEX:
		if r.RINEX == nil || r.SP3 != nil {
			return fmt.Errorf("%w: %s", ErrRecordKind, r.Path)
		}
	case model.KindSP3:
		if r.SP3 == nil || r.RINEX != nil {
			return fmt.Errorf("%w: %s", ErrRecordKind, r.Path)
		}
	default:
		return fmt.Errorf("%w: %s has kind %s", ErrRecordKind, r.Path, r.Kind)
	}
	return nil
}

// Dataset is the aggregate of every record loaded for one side of a run.
// It is read-only once returned by the Loader; an empty Dataset is valid.
type Dataset struct {
	records  []Record
	paths    map[string]struct{}
	position *model.ECEF
}

// NewDataset merges records into a frozen Dataset.
func NewDataset(records ...Record) (*Dataset, error) {
	ds := &Dataset{}
	for _, rec := range records {
		if err := ds.merge(rec); err != nil {
			return nil, err
		}
	}
	ds.freeze()
	return ds, nil
}

func (d *Dataset) merge(rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	if d.paths == nil {
		d.paths = make(map[string]struct{})
	}
	key := filepath.Clean(rec.Path)
	if _, ok := d.paths[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFile, rec.Path)
	}
	d.paths[key] = struct{}{}
	d.records = append(d.records, rec)
	return nil
}

// freeze derives the declared position: the first observation file with a
// non-zero APPROX POSITION XYZ.
func (d *Dataset) freeze() {
	d.position = nil
	for _, rec := range d.records {
		if rec.RINEX == nil || rec.RINEX.Header.Type != rinex.TypeObservation {
			continue
		}
		if p := rec.RINEX.Header.ApproxPosition; p != nil && !p.IsZero() {
			pos := *p
			d.position = &pos
			return
		}
	}
}

// withRecords returns a frozen Dataset holding recs.
func (d *Dataset) withRecords(recs []Record) *Dataset {
	out := &Dataset{records: recs, paths: d.paths}
	out.freeze()
	return out
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// IsEmpty reports whether no file was loaded.
func (d *Dataset) IsEmpty() bool { return d.Len() == 0 }

// Records returns a copy of the record list.
func (d *Dataset) Records() []Record {
	if d == nil {
		return nil
	}
	return append([]Record(nil), d.records...)
}

// Paths lists the record paths in load order.
func (d *Dataset) Paths() []string {
	out := make([]string, 0, d.Len())
	for _, rec := range d.Records() {
		out = append(out, rec.Path)
	}
	return out
}

// Position returns the declared geodetic marker, if any.
func (d *Dataset) Position() (model.ECEF, bool) {
	if d == nil || d.position == nil {
		return model.ECEF{}, false
	}
	return *d.position, true
}

// RINEX returns every RINEX record.
func (d *Dataset) RINEX() []*rinex.File {
	var out []*rinex.File
	for _, rec := range d.Records() {
		if rec.RINEX != nil {
			out = append(out, rec.RINEX)
		}
	}
	return out
}

// Observations returns the RINEX observation records.
func (d *Dataset) Observations() []*rinex.File {
	var out []*rinex.File
	for _, f := range d.RINEX() {
		if f.Header.Type == rinex.TypeObservation {
			out = append(out, f)
		}
	}
	return out
}

// SP3 returns every SP3 record.
func (d *Dataset) SP3() []*sp3.File {
	var out []*sp3.File
	for _, rec := range d.Records() {
		if rec.SP3 != nil {
			out = append(out, rec.SP3)
		}
	}
	return out
}

// Stem returns the file stem of the first record, or "" for an empty dataset.
func (d *Dataset) Stem() string {
	if d.IsEmpty() {
		return ""
	}
	return FileStem(d.records[0].Path)
}

// FileStem strips the directory, a trailing .gz and one more extension from
// path: "ESBC00DNK_R_20201770000_01D_30S_MO.rnx.gz" gives
// "ESBC00DNK_R_20201770000_01D_30S_MO".
func FileStem(path string) string {
	base := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(base), ".gz") {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
