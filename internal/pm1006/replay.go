package pm1006

import (
	"sync"
	"time"
)

// TestDatagram is a valid frame reporting PM2.5 1000, PM1 2000 and PM10 3000.
var TestDatagram = []byte{
	0x16, 0x11, 0x0b, 0x00, 0x00, 0x03, 0xe8, 0x00, 0x00, 0x07,
	0xd0, 0x00, 0x00, 0x0b, 0xb8, 0x00, 0x00, 0x00, 0x00, 0x49,
}

// ReplayStream hands out the same recorded bytes on every read, so the
// logger can run on a bench without a sensor attached.
type ReplayStream struct {
	mu    sync.Mutex
	data  []byte
	reads int
}

// NewReplayStream replays data, or TestDatagram when data is empty.
func NewReplayStream(data []byte) *ReplayStream {
	if len(data) == 0 {
		data = TestDatagram
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return &ReplayStream{data: cp}
}

func (s *ReplayStream) ReadBytes(p []byte, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return copy(p, s.data), nil
}

// Reads returns how many reads were served.
func (s *ReplayStream) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}
