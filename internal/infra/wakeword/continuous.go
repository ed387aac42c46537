package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra/audio"
	"kitchen-voice/internal/parser"
)

// ContinuousBackend segments the stream into utterances, transcribes each
// one and reports a detection when the transcript contains the phrase.
type ContinuousBackend struct {
	stt       application.SpeechToText
	spool     *audio.Spool
	vad       audio.VAD
	segmenter audio.SegmenterConfig
	logger    *slog.Logger
}

func NewContinuousBackend(stt application.SpeechToText, spool *audio.Spool, vad audio.VAD, seg audio.SegmenterConfig, logger *slog.Logger) *ContinuousBackend {
	if spool == nil {
		spool = audio.NewMemorySpool()
	}
	return &ContinuousBackend{
		stt:       stt,
		spool:     spool,
		vad:       vad,
		segmenter: seg,
		logger:    logger,
	}
}

func (c *ContinuousBackend) Name() string {
	return "continuous"
}

func (c *ContinuousBackend) Detect(ctx context.Context, frames <-chan application.Frame, opts application.WakeOptions) (<-chan application.WakeEvent, error) {
	if c.stt == nil {
		return nil, fmt.Errorf("%w: no transcriber configured", application.ErrBackendUnavailable)
	}

	out := make(chan application.WakeEvent, 1)
	go func() {
		defer close(out)
		c.run(ctx, frames, opts, out)
	}()
	return out, nil
}

func (c *ContinuousBackend) run(ctx context.Context, frames <-chan application.Frame, opts application.WakeOptions, out chan<- application.WakeEvent) {
	seg := audio.NewSegmenter(c.segmenter, c.vad)
	for {
		var f application.Frame
		select {
		case <-ctx.Done():
			return
		case fr, ok := <-frames:
			if !ok {
				return
			}
			f = fr
		}

		utterance, _, err := seg.Push(f)
		if err != nil {
			out <- application.WakeEvent{Err: fmt.Errorf("segmenting audio: %w", err)}
			return
		}
		if utterance == nil {
			continue
		}

		wav, err := c.spool.Encode(utterance, f.SampleRate)
		if err != nil {
			out <- application.WakeEvent{Err: err}
			return
		}
		t, err := c.stt.Transcribe(ctx, wav)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			out <- application.WakeEvent{Err: fmt.Errorf("transcribing wake utterance: %w", err)}
			return
		}

		c.logger.Debug("wake utterance", "text", t.Text)
		if Contains(t.Text, opts.Phrase, opts.Sensitivity) {
			out <- application.WakeEvent{Phrase: opts.Phrase, Confidence: t.Confidence}
			return
		}
	}
}

// Contains reports whether transcript includes phrase after normalization.
// At sensitivity 0.5 and above, word boundaries inside the phrase may be
// missing from the transcript ("heykitchen").
func Contains(transcript, phrase string, sensitivity float64) bool {
	t := parser.Normalize(transcript)
	p := parser.Normalize(phrase)
	if p == "" {
		return false
	}
	if strings.Contains(" "+t+" ", " "+p+" ") {
		return true
	}
	if sensitivity >= 0.5 {
		return strings.Contains(strings.ReplaceAll(t, " ", ""), strings.ReplaceAll(p, " ", ""))
	}
	return false
}

var _ application.WakeWordBackend = (*ContinuousBackend)(nil)
