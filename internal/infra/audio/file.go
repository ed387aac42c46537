package audio

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"kitchen-voice/internal/application"
)

type FileSourceConfig struct {
	Dir             string
	SampleRate      int
	FramesPerBuffer int
	PollInterval    time.Duration
	// Realtime paces frames at the rate they would arrive from a microphone.
	Realtime bool
	// TrailingSilence is appended after each file so endpointing fires.
	TrailingSilence time.Duration
}

// FileSource replays WAV files dropped into a directory as if they were
// spoken into the microphone. Replayed files are renamed with a
// .processed suffix.
type FileSource struct {
	*bus
	fs     afero.Fs
	cfg    FileSourceConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewFileSource(fs afero.Fs, cfg FileSourceConfig, logger *slog.Logger) *FileSource {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.TrailingSilence <= 0 {
		cfg.TrailingSilence = time.Second
	}
	return &FileSource{
		bus:    newBus(cfg.SampleRate, 64),
		fs:     fs,
		cfg:    cfg,
		logger: logger,
	}
}

func (f *FileSource) Name() string {
	return "file"
}

func (f *FileSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return nil
	}
	if err := f.fs.MkdirAll(f.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating audio dir: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.stopped = make(chan struct{})
	go f.run(ctx)

	f.logger.Info("file audio source started", "dir", f.cfg.Dir)
	return nil
}

func (f *FileSource) Close() error {
	f.mu.Lock()
	cancel, stopped := f.cancel, f.stopped
	f.cancel = nil
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-stopped
	return nil
}

func (f *FileSource) run(ctx context.Context) {
	defer close(f.stopped)

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Files are only consumed while someone is listening.
		if !f.suspended.Load() {
			if err := f.replayNext(ctx); err != nil {
				f.logger.Error("replaying audio file", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *FileSource) replayNext(ctx context.Context) error {
	path, err := f.nextFile()
	if err != nil || path == "" {
		return err
	}

	pcm, rate, err := f.decode(path)
	if renameErr := f.fs.Rename(path, path+".processed"); renameErr != nil {
		f.logger.Warn("marking audio file processed", "path", path, "error", renameErr)
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	if rate != f.cfg.SampleRate {
		return fmt.Errorf("%s: sample rate %d, want %d", path, rate, f.cfg.SampleRate)
	}

	f.logger.Info("replaying audio file", "path", path, "samples", len(pcm))
	silence := make([]int16, int(f.cfg.TrailingSilence.Seconds()*float64(rate)))
	return f.stream(ctx, append(pcm, silence...))
}

func (f *FileSource) stream(ctx context.Context, pcm []int16) error {
	n := f.cfg.FramesPerBuffer
	interval := time.Duration(n) * time.Second / time.Duration(f.cfg.SampleRate)

	for i := 0; i < len(pcm); i += n {
		end := i + n
		if end > len(pcm) {
			end = len(pcm)
		}
		frame := pcm[i:end]
		if len(frame) < n {
			padded := make([]int16, n)
			copy(padded, frame)
			frame = padded
		}

		if f.cfg.Realtime {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			f.publish(frame)
			continue
		}

		// Without pacing, wait for room instead of dropping.
		if err := f.publishBlocking(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSource) publishBlocking(ctx context.Context, pcm []int16) error {
	frame, ok := f.frame(pcm)
	if !ok {
		return nil
	}
	select {
	case f.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FileSource) nextFile() (string, error) {
	entries, err := afero.ReadDir(f.fs, f.cfg.Dir)
	if err != nil {
		return "", fmt.Errorf("reading dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(f.cfg.Dir, names[0]), nil
}

func (f *FileSource) decode(path string) ([]int16, int, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return DecodeWAV(file)
}

var _ application.AudioCapture = (*FileSource)(nil)
