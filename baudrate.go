package rs232

import (
	"fmt"
	"strconv"
	"strings"
)

type BaudRate int

func (b BaudRate) Int() int {
	return int(b)
}

const (
	Baud1200   BaudRate = 1200
	Baud2400   BaudRate = 2400
	Baud4800   BaudRate = 4800
	Baud9600   BaudRate = 9600
	Baud19200  BaudRate = 19200
	Baud38400  BaudRate = 38400
	Baud57600  BaudRate = 57600
	Baud115200 BaudRate = 115200
	Baud230400 BaudRate = 230400
	Baud460800 BaudRate = 460800
	Baud921600 BaudRate = 921600
)

var validBaudRates = []BaudRate{
	Baud1200, Baud2400, Baud4800, Baud9600, Baud19200, Baud38400,
	Baud57600, Baud115200, Baud230400, Baud460800, Baud921600,
}

// ParseBaudRate parses a decimal baud rate and checks it against the rates
// the fixture boards are known to run at.
func ParseBaudRate(s string) (BaudRate, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: baud rate %q", ErrInvalidLineOptions, s)
	}
	for _, b := range validBaudRates {
		if BaudRate(v) == b {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: baud rate %d, must be one of: %v", ErrInvalidLineOptions, v, validBaudRates)
}
