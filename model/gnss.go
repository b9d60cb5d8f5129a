package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the recognized format of an input file.
type Kind int

const (
	KindUnknown Kind = iota
	KindRINEX
	KindSP3
)

func (k Kind) String() string {
	switch k {
	case KindRINEX:
		return "rinex"
	case KindSP3:
		return "sp3"
	default:
		return "unknown"
	}
}

// Constellation is a GNSS system identified by its RINEX letter.
type Constellation byte

const (
	GPS     Constellation = 'G'
	Glonass Constellation = 'R'
	Galileo Constellation = 'E'
	BeiDou  Constellation = 'C'
	QZSS    Constellation = 'J'
	IRNSS   Constellation = 'I'
	SBAS    Constellation = 'S'
	Mixed   Constellation = 'M'
)

var constellationNames = map[string]Constellation{
	"G": GPS, "GPS": GPS,
	"R": Glonass, "GLO": Glonass, "GLONASS": Glonass,
	"E": Galileo, "GAL": Galileo, "GALILEO": Galileo,
	"C": BeiDou, "BDS": BeiDou, "BEIDOU": BeiDou,
	"J": QZSS, "QZSS": QZSS,
	"I": IRNSS, "IRNSS": IRNSS, "NAVIC": IRNSS,
	"S": SBAS, "SBAS": SBAS,
	"M": Mixed, "MIXED": Mixed,
}

// ParseConstellation accepts a RINEX letter or a common system name.
func ParseConstellation(s string) (Constellation, error) {
	c, ok := constellationNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown constellation %q", s)
	}
	return c, nil
}

func (c Constellation) String() string {
	return string(rune(c))
}

// SV identifies a single satellite vehicle.
type SV struct {
	Constellation Constellation
	PRN           int
}

// ParseSV parses identifiers such as "G01" or "E 5". A blank or numeric
// system letter means GPS, as in RINEX v2.
func ParseSV(s string) (SV, error) {
	if len(s) < 2 {
		return SV{}, fmt.Errorf("invalid satellite %q", s)
	}
	letter := s[0]
	digits := s[1:]
	if letter == ' ' || (letter >= '0' && letter <= '9') {
		letter = byte(GPS)
		if s[0] != ' ' {
			digits = s
		}
	}
	prn, err := strconv.Atoi(strings.TrimSpace(digits))
	if err != nil {
		return SV{}, fmt.Errorf("invalid satellite %q: %w", s, err)
	}
	return SV{Constellation: Constellation(letter), PRN: prn}, nil
}

func (sv SV) String() string {
	return fmt.Sprintf("%c%02d", sv.Constellation, sv.PRN)
}
