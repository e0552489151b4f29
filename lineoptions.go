package rs232

import (
	"fmt"
	"strings"

	gobug "go.bug.st/serial"
)

// DefaultLineOptions is used when a Config leaves LineOptions empty.
const DefaultLineOptions = "115200,8,n,1"

// LineOptions is the compact line descriptor used by fixture configuration,
// written as "baud,databits,parity,stopbits", e.g. "9600,8,n,1".
type LineOptions struct {
	BaudRate BaudRate
	DataBits DataBits
	Parity   Parity
	StopBits StopBits
}

// ParseLineOptions parses a descriptor. Trailing fields may be omitted and
// default to 8 data bits, no parity and one stop bit.
func ParseLineOptions(s string) (LineOptions, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LineOptions{}, fmt.Errorf("%w: empty descriptor", ErrInvalidLineOptions)
	}
	fields := strings.Split(s, ",")
	if len(fields) > 4 {
		return LineOptions{}, fmt.Errorf("%w: too many fields in %q", ErrInvalidLineOptions, s)
	}

	opts := LineOptions{
		DataBits: DataBits8,
		Parity:   ParityNone,
		StopBits: StopBits1,
	}

	var err error
	if opts.BaudRate, err = ParseBaudRate(fields[0]); err != nil {
		return LineOptions{}, err
	}
	if len(fields) > 1 {
		if opts.DataBits, err = ParseDataBits(fields[1]); err != nil {
			return LineOptions{}, err
		}
	}
	if len(fields) > 2 {
		if opts.Parity, err = ParseParity(fields[2]); err != nil {
			return LineOptions{}, err
		}
	}
	if len(fields) > 3 {
		if opts.StopBits, err = ParseStopBits(fields[3]); err != nil {
			return LineOptions{}, err
		}
	}
	return opts, nil
}

// MustParseLineOptions is ParseLineOptions for constant descriptors.
func MustParseLineOptions(s string) LineOptions {
	opts, err := ParseLineOptions(s)
	if err != nil {
		panic(err)
	}
	return opts
}

func (o LineOptions) String() string {
	return fmt.Sprintf("%d,%d,%s,%s", o.BaudRate, o.DataBits, o.Parity, o.StopBits)
}

// Mode converts the descriptor to a go.bug.st/serial mode.
func (o LineOptions) Mode() *gobug.Mode {
	return &gobug.Mode{
		BaudRate: o.BaudRate.Int(),
		DataBits: o.DataBits.Int(),
		Parity:   o.Parity.Get(),
		StopBits: o.StopBits.Get(),
	}
}
