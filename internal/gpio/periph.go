package gpio

import (
	"fmt"
	"strconv"
	"sync"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

type periphLine struct {
	pin   pgpio.PinIO
	dir   Direction
	level Level
	pull  Pull
}

// PeriphController drives pins through periph.io host drivers, which use
// memory-mapped registers where available and sysfs otherwise.
type PeriphController struct {
	mu    sync.Mutex
	lines map[int]*periphLine
}

var _ Controller = (*PeriphController)(nil)

// NewPeriphController initializes the periph host drivers.
func NewPeriphController() (*PeriphController, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &PeriphController{lines: make(map[int]*periphLine)}, nil
}

func (c *PeriphController) Reset(pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return err
	}
	l.dir, l.level, l.pull = Input, Low, PullUp
	return c.apply(pin, l)
}

func (c *PeriphController) SetLevel(pin int, level Level) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return err
	}
	l.level = level
	if l.dir != Output {
		return nil
	}
	return c.apply(pin, l)
}

func (c *PeriphController) SetDirection(pin int, dir Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return err
	}
	l.dir = dir
	return c.apply(pin, l)
}

func (c *PeriphController) Level(pin int) (Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return Low, err
	}
	if l.pin.Read() == pgpio.High {
		return High, nil
	}
	return Low, nil
}

func (c *PeriphController) SetPull(pin int, pull Pull) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return err
	}
	l.pull = pull
	if l.dir != Input {
		return nil
	}
	return c.apply(pin, l)
}

// Close parks every used pin as a floating input.
func (c *PeriphController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for pin, l := range c.lines {
		if err := l.pin.In(pgpio.Float, pgpio.NoEdge); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("release pin %d: %w", pin, err)
		}
		delete(c.lines, pin)
	}
	return firstErr
}

// Caller holds c.mu.
func (c *PeriphController) get(pin int) (*periphLine, error) {
	if l, ok := c.lines[pin]; ok {
		return l, nil
	}
	p := gpioreg.ByName(strconv.Itoa(pin))
	if p == nil {
		return nil, fmt.Errorf("gpio %d not found", pin)
	}
	l := &periphLine{pin: p, dir: Input, level: Low, pull: PullUp}
	c.lines[pin] = l
	return l, nil
}

func (c *PeriphController) apply(pin int, l *periphLine) error {
	var err error
	if l.dir == Output {
		err = l.pin.Out(pgpio.Level(l.level == High))
	} else {
		err = l.pin.In(periphPull(l.pull), pgpio.NoEdge)
	}
	if err != nil {
		return fmt.Errorf("configure pin %d %s: %w", pin, l.dir, err)
	}
	return nil
}

func periphPull(p Pull) pgpio.Pull {
	switch p {
	case PullUp:
		return pgpio.PullUp
	case PullDown:
		return pgpio.PullDown
	default:
		return pgpio.Float
	}
}
