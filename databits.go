package rs232

import (
	"fmt"
	"strconv"
	"strings"
)

type DataBits int

func (d DataBits) Int() int {
	return int(d)
}

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

func ParseDataBits(s string) (DataBits, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 5 || v > 8 {
		return 0, fmt.Errorf("%w: data bits must be 5-8, got %q", ErrInvalidLineOptions, s)
	}
	return DataBits(v), nil
}
