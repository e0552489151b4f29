package rs232

import (
	"fmt"
	"strings"

	gobug "go.bug.st/serial"
)

type Parity gobug.Parity

func (pa Parity) Get() gobug.Parity {
	return gobug.Parity(pa)
}

const (
	// ParityNone represents no parity bit
	ParityNone = Parity(gobug.NoParity)
	// ParityOdd represents odd parity bit
	ParityOdd = Parity(gobug.OddParity)
	// ParityEven represents even parity bit
	ParityEven = Parity(gobug.EvenParity)
	// ParityMark represents mark parity bit (always 1)
	ParityMark = Parity(gobug.MarkParity)
	// ParitySpace represents space parity bit (always 0)
	ParitySpace = Parity(gobug.SpaceParity)
)

// String returns the single letter used in line option strings.
func (pa Parity) String() string {
	switch pa {
	case ParityNone:
		return "n"
	case ParityOdd:
		return "o"
	case ParityEven:
		return "e"
	case ParityMark:
		return "m"
	case ParitySpace:
		return "s"
	}
	return fmt.Sprintf("Parity(%d)", int(pa))
}

// ParseParity accepts the letter form ("n", "E") or the spelled out name.
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "none":
		return ParityNone, nil
	case "o", "odd":
		return ParityOdd, nil
	case "e", "even":
		return ParityEven, nil
	case "m", "mark":
		return ParityMark, nil
	case "s", "space":
		return ParitySpace, nil
	}
	return 0, fmt.Errorf("%w: parity %q", ErrInvalidLineOptions, s)
}
