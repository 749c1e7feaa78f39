package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/env-logger/internal/models"
	"github.com/afroash/env-logger/internal/pm1006"
)

type fakeDust struct {
	mu      sync.Mutex
	reading pm1006.DustReading
}

func (f *fakeDust) set(r pm1006.DustReading) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading = r
}

func (f *fakeDust) Latest() (pm1006.DustReading, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reading, !f.reading.Updated.IsZero()
}

func TestReader_PollOnce(t *testing.T) {
	good := &MockClimateSensor{temperature: 20.0, humidity: 50.0}
	broken := &MockClimateSensor{err: errors.New("checksum mismatch")}

	reader := NewReader(5*time.Second, zerolog.Nop())
	reader.AddClimate("sht-1", good)
	reader.AddClimate("sht-2", broken)

	readings := reader.PollOnce()
	if len(readings) != 1 {
		t.Fatalf("PollOnce() returned %d readings, want 1", len(readings))
	}

	r := readings[0]
	if r.SensorID != "sht-1" || r.Kind != models.KindClimate {
		t.Errorf("reading = %+v", r)
	}
	if r.DewPoint < 9.2 || r.DewPoint > 9.3 {
		t.Errorf("DewPoint = %v, want about 9.26", r.DewPoint)
	}
	if broken.readCount != 1 {
		t.Errorf("broken sensor read %d times, want 1", broken.readCount)
	}
}

func TestReader_ClimateKeepsLastGood(t *testing.T) {
	s := &MockClimateSensor{temperature: 21.0, humidity: 40.0}
	reader := NewReader(5*time.Second, zerolog.Nop())
	reader.AddClimate("sht-1", s)

	if _, ok, err := reader.Climate(1); err != nil || ok {
		t.Fatalf("Climate(1) before polling = ok %v, err %v", ok, err)
	}

	reader.PollOnce()
	s.err = errors.New("no ack")
	s.temperature = 99
	reader.PollOnce()

	r, ok, err := reader.Climate(1)
	if err != nil || !ok {
		t.Fatalf("Climate(1) = ok %v, err %v", ok, err)
	}
	if r.Temperature != 21.0 {
		t.Errorf("Temperature = %v, want stale 21.0", r.Temperature)
	}

	if _, _, err := reader.Climate(0); !errors.Is(err, ErrNoSensor) {
		t.Errorf("Climate(0) err = %v, want ErrNoSensor", err)
	}
	if _, _, err := reader.Climate(2); !errors.Is(err, ErrNoSensor) {
		t.Errorf("Climate(2) err = %v, want ErrNoSensor", err)
	}
	if reader.ClimateCount() != 1 {
		t.Errorf("ClimateCount() = %d, want 1", reader.ClimateCount())
	}
}

func TestReader_DustOnlyWhenNew(t *testing.T) {
	dust := &fakeDust{}
	reader := NewReader(5*time.Second, zerolog.Nop())
	reader.SetDust("pm-1", dust)

	if got := reader.PollOnce(); len(got) != 0 {
		t.Fatalf("PollOnce() without a frame returned %d readings", len(got))
	}

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	dust.set(pm1006.DustReading{PM1: 2000, PM25: 1000, PM10: 3000, Updated: ts})

	got := reader.PollOnce()
	if len(got) != 1 {
		t.Fatalf("PollOnce() returned %d readings, want 1", len(got))
	}
	if got[0].Kind != models.KindDust || got[0].PM25 != 1000 || got[0].SensorID != "pm-1" {
		t.Errorf("dust reading = %+v", got[0])
	}

	if again := reader.PollOnce(); len(again) != 0 {
		t.Errorf("same frame published twice")
	}

	dust.set(pm1006.DustReading{PM25: 5, Updated: ts.Add(3 * time.Second)})
	if again := reader.PollOnce(); len(again) != 1 {
		t.Errorf("newer frame not published")
	}

	d, ok := reader.Dust()
	if !ok || d.PM25 != 5 {
		t.Errorf("Dust() = %+v, %v", d, ok)
	}
}

func TestReader_Start(t *testing.T) {
	mock := &MockClimateSensor{temperature: 22.5, humidity: 45.0}
	reader := NewReader(50*time.Millisecond, zerolog.Nop())
	reader.AddClimate("sht-1", mock)

	ctx, cancel := context.WithTimeout(context.Background(), 400*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- reader.Start(ctx) }()

	readings := []*models.Reading{}
	timeout := time.After(500 * time.Millisecond)

readLoop:
	for {
		select {
		case reading := <-reader.Readings():
			readings = append(readings, reading)
		case <-timeout:
			break readLoop
		}
	}

	if len(readings) < 3 {
		t.Errorf("Got %d readings, expected at least 3", len(readings))
	}
	if err := <-done; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Start() = %v, want deadline exceeded", err)
	}
}

func TestReader_Close(t *testing.T) {
	a, b := &MockClimateSensor{}, &MockClimateSensor{}
	reader := NewReader(time.Second, zerolog.Nop())
	reader.AddClimate("a", a)
	reader.AddClimate("b", b)

	if err := reader.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close() should close every sensor")
	}
}

func TestReader_DustStats(t *testing.T) {
	r := NewReader(time.Second, zerolog.Nop())
	if _, ok := r.DustStats(); ok {
		t.Error("DustStats() ok without a dust sensor")
	}

	r.SetDust("plain", &fakeDust{})
	if _, ok := r.DustStats(); ok {
		t.Error("DustStats() ok for a source without counters")
	}

	dust := pm1006.NewReader(pm1006.NewReplayStream(nil), pm1006.ReaderConfig{}, zerolog.Nop())
	if _, err := dust.Process(); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	r.SetDust("dust", dust)

	stats, ok := r.DustStats()
	if !ok {
		t.Fatal("DustStats() not ok for a pm1006 reader")
	}
	if stats.ValidFrames != 1 || stats.BytesRead != uint64(len(pm1006.TestDatagram)) {
		t.Errorf("DustStats() = %+v, want 1 frame of %d bytes", stats, len(pm1006.TestDatagram))
	}
}
