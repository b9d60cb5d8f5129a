package core

import "github.com/signalsfoundry/gnssqc/model"

// PositionSource tells where a resolved position came from.
type PositionSource int

const (
	SourceNone PositionSource = iota
	SourceManual
	SourceDataset
)

func (s PositionSource) String() string {
	switch s {
	case SourceManual:
		return "manual"
	case SourceDataset:
		return "dataset"
	default:
		return "none"
	}
}

// ResolvePosition picks the receiver position: a manual override always
// wins, otherwise the dataset's declared marker is used. A nil result with
// SourceNone is a valid outcome.
func ResolvePosition(manual *model.ECEF, ds *Dataset) (*model.GeodeticPosition, PositionSource) {
	if manual != nil {
		g := Geodetic(*manual)
		return &g, SourceManual
	}
	if p, ok := ds.Position(); ok {
		g := Geodetic(p)
		return &g, SourceDataset
	}
	return nil, SourceNone
}
