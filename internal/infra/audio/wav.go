package audio

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

var ErrInvalidWAV = errors.New("invalid wav file")

// Spool encodes PCM utterances to WAV files on an afero filesystem. Files
// are removed after encoding unless keep is set.
type Spool struct {
	fs   afero.Fs
	dir  string
	keep bool
	seq  atomic.Uint64
}

func NewSpool(fs afero.Fs, dir string, keep bool) (*Spool, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	return &Spool{fs: fs, dir: dir, keep: keep}, nil
}

// NewMemorySpool returns a spool backed by an in-memory filesystem.
func NewMemorySpool() *Spool {
	return &Spool{fs: afero.NewMemMapFs(), dir: "/"}
}

// Encode writes pcm as 16-bit mono WAV and returns the file contents.
func (s *Spool) Encode(pcm []int16, sampleRate int) ([]byte, error) {
	name := filepath.Join(s.dir, fmt.Sprintf("utterance-%d-%d.wav", time.Now().UnixNano(), s.seq.Add(1)))

	f, err := s.fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	if !s.keep {
		defer s.fs.Remove(name)
	}

	if err := writeWAV(f, pcm, sampleRate); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", name, err)
	}

	data, err := afero.ReadFile(s.fs, name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func writeWAV(w io.WriteSeeker, pcm []int16, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)

	data := make([]int, len(pcm))
	for i, s := range pcm {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalising wav: %w", err)
	}
	return nil
}

// DecodeWAV reads a 16-bit PCM WAV file and returns its first channel.
func DecodeWAV(r io.ReadSeeker) ([]int16, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding wav: %w", err)
	}

	channels := int(dec.NumChans)
	if channels < 1 {
		channels = 1
	}
	shift := 0
	if dec.BitDepth > 16 {
		shift = int(dec.BitDepth) - 16
	}

	pcm := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		v := buf.Data[i]
		if dec.BitDepth == 8 {
			v = (v - 128) << 8
		} else {
			v >>= shift
		}
		pcm = append(pcm, int16(v))
	}
	return pcm, int(dec.SampleRate), nil
}
