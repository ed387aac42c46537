package audio

import (
	"math"
	"sync/atomic"

	"kitchen-voice/internal/application"
)

const (
	DefaultSampleRate      = 16000
	DefaultFramesPerBuffer = 320
)

// RMS returns the root-mean-square energy of pcm normalised to [0,1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// bus is the fan-in point shared by capture implementations. Frames are
// dropped rather than blocking the producer when nobody is reading or the
// capture is suspended.
type bus struct {
	frames     chan application.Frame
	sampleRate int
	suspended  atomic.Bool
	level      atomic.Uint64
	dropped    atomic.Uint64
}

func newBus(sampleRate, depth int) *bus {
	b := &bus{
		frames:     make(chan application.Frame, depth),
		sampleRate: sampleRate,
	}
	b.suspended.Store(true)
	return b
}

// frame records the level of pcm and copies it into a frame. ok is false
// while suspended.
func (b *bus) frame(pcm []int16) (application.Frame, bool) {
	level := RMS(pcm)
	b.level.Store(math.Float64bits(level))
	if b.suspended.Load() {
		return application.Frame{}, false
	}
	return application.Frame{
		PCM:        append([]int16(nil), pcm...),
		SampleRate: b.sampleRate,
		Level:      level,
	}, true
}

// publish hands pcm to the reader without blocking.
func (b *bus) publish(pcm []int16) {
	frame, ok := b.frame(pcm)
	if !ok {
		return
	}
	select {
	case b.frames <- frame:
	default:
		b.dropped.Add(1)
	}
}

func (b *bus) Frames() <-chan application.Frame { return b.frames }
func (b *bus) Suspend()                         { b.suspended.Store(true) }
func (b *bus) Resume()                          { b.suspended.Store(false) }
func (b *bus) Level() float64                   { return math.Float64frombits(b.level.Load()) }

func (b *bus) Flush() int {
	n := 0
	for {
		select {
		case <-b.frames:
			n++
		default:
			return n
		}
	}
}

// Dropped counts frames discarded because the reader fell behind.
func (b *bus) Dropped() uint64 { return b.dropped.Load() }
