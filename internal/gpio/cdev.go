package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

const (
	// DefaultChip is the first GPIO chip on a Raspberry Pi.
	DefaultChip = "gpiochip0"

	consumer = "env-logger"
)

// cdevLine tracks the requested line and the state we last applied to it.
type cdevLine struct {
	line  *gpiocdev.Line
	dir   Direction
	level Level
	pull  Pull
}

// CdevController drives lines through the Linux GPIO character device.
type CdevController struct {
	chip  string
	mu    sync.Mutex
	lines map[int]*cdevLine
}

var _ Controller = (*CdevController)(nil)

// NewCdevController creates a controller for the given chip. Lines are
// requested lazily on first use.
func NewCdevController(chip string) *CdevController {
	if chip == "" {
		chip = DefaultChip
	}
	return &CdevController{
		chip:  chip,
		lines: make(map[int]*cdevLine),
	}
}

// Reset releases the line and re-requests it as a pulled-up input.
func (c *CdevController) Reset(pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.lines[pin]; ok {
		l.line.Close()
		delete(c.lines, pin)
	}
	_, err := c.request(pin, Input, Low, PullUp)
	return err
}

func (c *CdevController) SetLevel(pin int, level Level) error {
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
	if err := l.line.SetValue(int(level)); err != nil {
		return fmt.Errorf("set %s line %d %s: %w", c.chip, pin, level, err)
	}
	return nil
}

func (c *CdevController) SetDirection(pin int, dir Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return err
	}
	if l.dir == dir {
		return nil
	}
	if dir == Output {
		err = l.line.Reconfigure(gpiocdev.AsOutput(int(l.level)))
	} else {
		err = l.line.Reconfigure(gpiocdev.AsInput)
	}
	if err != nil {
		return fmt.Errorf("set %s line %d %s: %w", c.chip, pin, dir, err)
	}
	l.dir = dir
	return nil
}

func (c *CdevController) Level(pin int) (Level, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return Low, err
	}
	v, err := l.line.Value()
	if err != nil {
		return Low, fmt.Errorf("read %s line %d: %w", c.chip, pin, err)
	}
	if v != 0 {
		return High, nil
	}
	return Low, nil
}

func (c *CdevController) SetPull(pin int, pull Pull) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, err := c.get(pin)
	if err != nil {
		return err
	}
	if err := l.line.Reconfigure(biasOption(pull)); err != nil {
		return fmt.Errorf("set %s line %d pull %s: %w", c.chip, pin, pull, err)
	}
	l.pull = pull
	return nil
}

// Close releases every requested line.
func (c *CdevController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for pin, l := range c.lines {
		if err := l.line.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s line %d: %w", c.chip, pin, err)
		}
		delete(c.lines, pin)
	}
	return firstErr
}

// get returns the line state, requesting the line as an input on first use.
// Caller holds c.mu.
func (c *CdevController) get(pin int) (*cdevLine, error) {
	if l, ok := c.lines[pin]; ok {
		return l, nil
	}
	return c.request(pin, Input, Low, PullUp)
}

func (c *CdevController) request(pin int, dir Direction, level Level, pull Pull) (*cdevLine, error) {
	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(consumer),
		biasOption(pull),
	}
	if dir == Output {
		opts = append(opts, gpiocdev.AsOutput(int(level)))
	} else {
		opts = append(opts, gpiocdev.AsInput)
	}

	line, err := gpiocdev.RequestLine(c.chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", c.chip, pin, err)
	}
	l := &cdevLine{line: line, dir: dir, level: level, pull: pull}
	c.lines[pin] = l
	return l, nil
}

func biasOption(p Pull) gpiocdev.BiasOption {
	switch p {
	case PullUp:
		return gpiocdev.WithPullUp
	case PullDown:
		return gpiocdev.WithPullDown
	default:
		return gpiocdev.WithBiasDisabled
	}
}
