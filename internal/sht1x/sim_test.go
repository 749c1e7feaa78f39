package sht1x

import (
	"math/bits"

	"github.com/sigurn/crc8"

	"github.com/afroash/env-logger/internal/gpio"
)

var sht1xTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0xA2,
	Name:   "CRC-8/SHT1x",
})

type simState int

const (
	simIdle simState = iota
	simCommand
	simAck
	simBusy
	simSend
)

// simSHT1x is an SHT1x peer behind a gpio.Controller. It reacts to clock
// edges the way the sensor does and answers measurement commands with
// fixed raw codes.
type simSHT1x struct {
	sck, data int

	sckLevel  gpio.Level
	dataDir   gpio.Direction
	dataLatch gpio.Level
	dataPull  gpio.Pull
	devLow    bool

	state  simState
	armed  bool
	bits   int
	cmd    byte
	cmds   []byte
	out    [3]byte
	outBit int
	outIdx int

	rawT, rawRH uint16
	busyPolls   int // ready after this many polls; negative never completes
	polls       int
	noAck       bool
	corruptCRC  bool
	setLevelErr error
}

var _ gpio.Controller = (*simSHT1x)(nil)

func newSim(sck, data int, rawT, rawRH uint16) *simSHT1x {
	return &simSHT1x{
		sck:       sck,
		data:      data,
		rawT:      rawT,
		rawRH:     rawRH,
		busyPolls: 3,
	}
}

func (s *simSHT1x) hostData() gpio.Level {
	if s.dataDir == gpio.Output && s.dataLatch == gpio.Low {
		return gpio.Low
	}
	return gpio.High
}

func (s *simSHT1x) line() gpio.Level {
	if s.devLow {
		return gpio.Low
	}
	return s.hostData()
}

func (s *simSHT1x) Reset(pin int) error {
	switch pin {
	case s.sck:
		s.sckLevel = gpio.Low
	case s.data:
		s.dataDir = gpio.Input
		s.dataLatch = gpio.Low
	}
	return nil
}

func (s *simSHT1x) SetLevel(pin int, level gpio.Level) error {
	if s.setLevelErr != nil {
		return s.setLevelErr
	}
	switch pin {
	case s.sck:
		prev := s.sckLevel
		s.sckLevel = level
		if prev != level {
			if level == gpio.High {
				s.onRise()
			} else {
				s.onFall()
			}
		}
	case s.data:
		prev := s.hostData()
		s.dataLatch = level
		s.onData(prev)
	}
	return nil
}

func (s *simSHT1x) SetDirection(pin int, dir gpio.Direction) error {
	if pin == s.data {
		prev := s.hostData()
		s.dataDir = dir
		s.onData(prev)
	}
	return nil
}

func (s *simSHT1x) Level(pin int) (gpio.Level, error) {
	if pin == s.data && s.state == simBusy {
		s.polls++
		if s.busyPolls >= 0 && s.polls > s.busyPolls {
			s.startSend()
		}
	}
	if pin == s.sck {
		return s.sckLevel, nil
	}
	return s.line(), nil
}

func (s *simSHT1x) SetPull(pin int, pull gpio.Pull) error {
	if pin == s.data {
		s.dataPull = pull
	}
	return nil
}

func (s *simSHT1x) Close() error { return nil }

// onData detects the start condition: data falls then rises while the clock
// is high.
func (s *simSHT1x) onData(prev gpio.Level) {
	cur := s.hostData()
	if cur == prev {
		return
	}
	if s.sckLevel == gpio.Low {
		s.armed = false
		return
	}
	if cur == gpio.Low {
		s.armed = true
		return
	}
	if s.armed {
		s.armed = false
		s.state = simCommand
		s.bits = 0
		s.cmd = 0
		s.devLow = false
	}
}

func (s *simSHT1x) onRise() {
	switch s.state {
	case simCommand:
		if s.bits < 8 {
			s.cmd <<= 1
			if s.line() == gpio.High {
				s.cmd |= 1
			}
			s.bits++
		}
	case simSend:
		if s.outBit < 8 {
			s.devLow = s.out[s.outIdx]&(0x80>>s.outBit) == 0
			s.outBit++
			return
		}
		ackRequested := s.hostData() == gpio.Low
		s.devLow = false
		s.outBit = 0
		s.outIdx++
		if !ackRequested || s.outIdx == len(s.out) {
			s.state = simIdle
		}
	}
}

func (s *simSHT1x) onFall() {
	switch s.state {
	case simCommand:
		if s.bits == 8 {
			s.cmds = append(s.cmds, s.cmd)
			if s.noAck {
				s.state = simIdle
				return
			}
			s.state = simAck
			s.devLow = true
		}
	case simAck:
		s.devLow = false
		switch s.cmd {
		case CmdMeasureTemp, CmdMeasureRH:
			s.state = simBusy
			s.polls = 0
		default:
			s.state = simIdle
		}
	}
}

func (s *simSHT1x) startSend() {
	raw := s.rawT
	if s.cmd == CmdMeasureRH {
		raw = s.rawRH
	}
	hi, lo := byte(raw>>8), byte(raw)
	crc := crc8.Checksum([]byte{s.cmd, hi, lo}, sht1xTable)
	if s.corruptCRC {
		crc ^= 0x01
	}

	s.out = [3]byte{hi, lo, bits.Reverse8(crc)}
	s.outIdx = 0
	s.outBit = 0
	s.state = simSend
	s.devLow = true
}
