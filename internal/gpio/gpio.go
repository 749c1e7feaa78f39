// Package gpio abstracts the handful of pin operations the bit-banged sensor
// drivers need, so they run against a Linux GPIO chip or a simulated peer.
package gpio

import (
	"fmt"
	"strings"
)

// Level is the logic level of a line.
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}

// Direction selects whether the host drives a line or samples it.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Pull is the internal bias applied to a line.
type Pull int

const (
	PullFloating Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "floating"
	}
}

// ParsePull converts a config string to a Pull. Unknown values float.
func ParsePull(s string) Pull {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "pullup":
		return PullUp
	case "down", "pulldown":
		return PullDown
	default:
		return PullFloating
	}
}

// Controller is the GPIO capability consumed by the bus drivers.
//
// SetLevel on a line configured as input latches the level; it is driven as
// soon as the line becomes an output. This mirrors how MCU output registers
// behave and lets drivers pre-load a level before switching direction.
type Controller interface {
	// Reset returns the pin to its default state (input, pulled up).
	Reset(pin int) error
	SetLevel(pin int, level Level) error
	SetDirection(pin int, dir Direction) error
	Level(pin int) (Level, error)
	SetPull(pin int, pull Pull) error
	// Close releases every line held by the controller.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverCdev   = "gpiocdev"
	DriverPeriph = "periph"
)

// Open returns a Controller for the named driver. chip is only used by the
// character-device driver.
func Open(driver, chip string) (Controller, error) {
	switch strings.ToLower(driver) {
	case "", DriverCdev:
		return NewCdevController(chip), nil
	case DriverPeriph:
		return NewPeriphController()
	default:
		return nil, fmt.Errorf("unknown gpio driver %q", driver)
	}
}
