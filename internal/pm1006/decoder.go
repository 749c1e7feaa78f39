// Package pm1006 decodes the framed UART output of a Cubic PM1006 particle
// sensor, as found in the IKEA VINDRIKTNING.
package pm1006

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// FrameHeader starts every frame.
	FrameHeader byte = 0x16
	// MaxPayload is the largest declared length the decoder accepts.
	MaxPayload = 30
)

// Status is the outcome of feeding one byte.
type Status int

const (
	// Pending means the frame is incomplete, or no frame is in progress.
	Pending Status = iota
	// FrameValid means a frame just completed and its checksum matched.
	FrameValid
	// FrameInvalid means a frame just completed with a bad checksum.
	FrameInvalid
)

func (s Status) String() string {
	switch s {
	case FrameValid:
		return "valid"
	case FrameInvalid:
		return "invalid"
	default:
		return "pending"
	}
}

type state int

const (
	awaitHeader state = iota
	awaitLength
	payload
	awaitChecksum
)

// Decoder is a byte-at-a-time frame state machine:
//
//	0x16 LEN PAYLOAD[LEN] CHK
//
// A frame is valid when all of its bytes sum to zero modulo 256. Garbage
// between frames is skipped. Decoder is not safe for concurrent use.
type Decoder struct {
	state    state
	length   int
	index    int
	checksum byte
	buf      [MaxPayload]byte
	logger   zerolog.Logger
}

// NewDecoder returns a decoder waiting for a header byte.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Feed advances the state machine by one byte.
func (d *Decoder) Feed(b byte) Status {
	switch d.state {
	case awaitHeader:
		d.checksum = b
		if b == FrameHeader {
			d.state = awaitLength
		}

	case awaitLength:
		d.checksum += b
		if int(b) > MaxPayload {
			d.logger.Warn().Uint8("length", b).Msg("Frame length exceeds buffer, resyncing")
			d.state = awaitHeader
			return Pending
		}
		d.length = int(b)
		d.index = 0
		if d.length == 0 {
			d.state = awaitChecksum
		} else {
			d.state = payload
		}

	case payload:
		d.checksum += b
		d.buf[d.index] = b
		d.index++
		if d.index == d.length {
			d.state = awaitChecksum
		}

	case awaitChecksum:
		d.checksum += b
		d.state = awaitHeader
		if d.checksum != 0 {
			d.logger.Warn().
				Uint8("checksum", b).
				Uint8("residue", d.checksum).
				Msg("Frame checksum error")
			return FrameInvalid
		}
		return FrameValid
	}

	return Pending
}

// Payload returns a copy of the most recent frame's payload.
func (d *Decoder) Payload() []byte {
	out := make([]byte, d.length)
	copy(out, d.buf[:d.length])
	return out
}

// ErrShortPayload is returned for payloads too small to hold all PM fields.
var ErrShortPayload = errors.New("payload too short")

const minReadingPayload = 13

// DustReading holds particle concentrations in µg/m³.
type DustReading struct {
	PM1     uint16    `json:"pm1"`
	PM25    uint16    `json:"pm2"`
	PM10    uint16    `json:"pm10"`
	Updated time.Time `json:"updated"`
}

// ParseReading extracts the big-endian PM fields from a frame payload.
// Updated is left for the caller to set.
func ParseReading(p []byte) (DustReading, error) {
	if len(p) < minReadingPayload {
		return DustReading{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortPayload, len(p), minReadingPayload)
	}
	return DustReading{
		PM25: binary.BigEndian.Uint16(p[3:5]),
		PM1:  binary.BigEndian.Uint16(p[7:9]),
		PM10: binary.BigEndian.Uint16(p[11:13]),
	}, nil
}

// EncodeFrame wraps p in a header, length and checksum. It is the inverse of
// Decoder and is used by the replay stream and tests.
func EncodeFrame(p []byte) ([]byte, error) {
	if len(p) > MaxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(p), MaxPayload)
	}
	frame := make([]byte, 0, len(p)+3)
	frame = append(frame, FrameHeader, byte(len(p)))
	frame = append(frame, p...)

	var sum byte
	for _, b := range frame {
		sum += b
	}
	return append(frame, -sum), nil
}
