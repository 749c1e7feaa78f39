package pm1006

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the PM1006 UART speed.
const DefaultBaudRate = 9600

// SerialStream reads from a UART at 8N1.
type SerialStream struct {
	name    string
	port    serial.Port
	mu      sync.Mutex
	timeout time.Duration
}

// OpenSerial opens the named port, e.g. /dev/ttyS0 or /dev/ttyUSB0.
func OpenSerial(name string, baudRate int) (*SerialStream, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return &SerialStream{name: name, port: port}, nil
}

// ReadBytes reads whatever arrives within timeout.
func (s *SerialStream) ReadBytes(p []byte, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeout != s.timeout {
		if err := s.port.SetReadTimeout(timeout); err != nil {
			return 0, fmt.Errorf("set read timeout on %s: %w", s.name, err)
		}
		s.timeout = timeout
	}

	n, err := s.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", s.name, err)
	}
	return n, nil
}

func (s *SerialStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
