package recognizer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra/audio"
	"kitchen-voice/internal/infra/recognizer"
)

type sttFunc func(pcm []int16) (application.Transcript, error)

type fakeSTT struct {
	mu    sync.Mutex
	fn    sttFunc
	calls int
}

func (f *fakeSTT) Transcribe(_ context.Context, wav []byte) (application.Transcript, error) {
	pcm, _, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		return application.Transcript{}, err
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(pcm)
}

func loud() []int16 {
	pcm := make([]int16, 320)
	for i := range pcm {
		pcm[i] = 8000
		if i%2 == 1 {
			pcm[i] = -8000
		}
	}
	return pcm
}

func feed(frames chan<- application.Frame, speech, silence int) {
	for i := 0; i < speech; i++ {
		frames <- application.Frame{PCM: loud(), SampleRate: 16000}
	}
	for i := 0; i < silence; i++ {
		frames <- application.Frame{PCM: make([]int16, 320), SampleRate: 16000}
	}
}

func collect(t *testing.T, out <-chan application.Transcript) []application.Transcript {
	t.Helper()
	var got []application.Transcript
	deadline := time.After(2 * time.Second)
	for {
		select {
		case tr, ok := <-out:
			if !ok {
				return got
			}
			got = append(got, tr)
		case <-deadline:
			t.Fatalf("session did not close, got %d transcripts", len(got))
		}
	}
}

func newRecognizer(stt application.SpeechToText, cfg recognizer.Config) *recognizer.Recognizer {
	return recognizer.New(stt, audio.EnergyVAD{Threshold: 0.05}, nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() recognizer.Config {
	return recognizer.Config{MinSpeech: 40 * time.Millisecond, MaxLength: time.Second}
}

func TestListen_FinalAfterEndpoint(t *testing.T) {
	stt := &fakeSTT{fn: func(pcm []int16) (application.Transcript, error) {
		return application.Transcript{
			Text:       "order five ready",
			Confidence: 0.9,
			Alternatives: []application.Alternative{
				{Text: "order five ready", Confidence: 0.9},
				{Text: "order nine ready", Confidence: 0.5},
				{Text: "order fine ready", Confidence: 0.2},
			},
		}, nil
	}}
	rec := newRecognizer(stt, testConfig())

	frames := make(chan application.Frame, 32)
	feed(frames, 5, 5)

	out, err := rec.Listen(context.Background(), frames, application.ListenOptions{
		EndpointDuration: 60 * time.Millisecond,
		MaxAlternatives:  2,
	})
	require.NoError(t, err)

	got := collect(t, out)
	require.Len(t, got, 1)
	assert.True(t, got[0].Final)
	assert.Equal(t, "order five ready", got[0].Text)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-9)
	assert.Len(t, got[0].Alternatives, 2)
}

func TestListen_InterimResults(t *testing.T) {
	stt := &fakeSTT{fn: func(pcm []int16) (application.Transcript, error) {
		if len(pcm) < 8*320 {
			return application.Transcript{Text: "order"}, nil
		}
		return application.Transcript{Text: "order five ready", Confidence: 0.8}, nil
	}}
	cfg := testConfig()
	cfg.InterimInterval = 40 * time.Millisecond
	rec := newRecognizer(stt, cfg)

	frames := make(chan application.Frame, 32)
	feed(frames, 5, 5)

	out, err := rec.Listen(context.Background(), frames, application.ListenOptions{
		EndpointDuration: 60 * time.Millisecond,
		InterimResults:   true,
		MaxAlternatives:  1,
	})
	require.NoError(t, err)

	got := collect(t, out)
	require.GreaterOrEqual(t, len(got), 2)
	for _, tr := range got[:len(got)-1] {
		assert.False(t, tr.Final)
		assert.Equal(t, "order", tr.Text)
	}
	last := got[len(got)-1]
	assert.True(t, last.Final)
	assert.Equal(t, "order five ready", last.Text)
}

func TestListen_NoInterimsWhenDisabled(t *testing.T) {
	stt := &fakeSTT{fn: func(pcm []int16) (application.Transcript, error) {
		return application.Transcript{Text: "help"}, nil
	}}
	cfg := testConfig()
	cfg.InterimInterval = 20 * time.Millisecond
	rec := newRecognizer(stt, cfg)

	frames := make(chan application.Frame, 32)
	feed(frames, 5, 5)

	out, err := rec.Listen(context.Background(), frames, application.ListenOptions{EndpointDuration: 60 * time.Millisecond})
	require.NoError(t, err)

	got := collect(t, out)
	require.Len(t, got, 1)
	assert.True(t, got[0].Final)
	assert.Equal(t, 1, stt.calls)
}

func TestListen_TranscriberError(t *testing.T) {
	boom := errors.New("upstream down")
	rec := newRecognizer(&fakeSTT{fn: func([]int16) (application.Transcript, error) {
		return application.Transcript{}, boom
	}}, testConfig())

	frames := make(chan application.Frame, 32)
	feed(frames, 5, 5)

	out, err := rec.Listen(context.Background(), frames, application.ListenOptions{EndpointDuration: 60 * time.Millisecond})
	require.NoError(t, err)

	got := collect(t, out)
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, boom)
	assert.False(t, got[0].Final)
}

func TestListen_StreamEndsMidUtterance(t *testing.T) {
	stt := &fakeSTT{fn: func(pcm []int16) (application.Transcript, error) {
		return application.Transcript{Text: "complete all"}, nil
	}}

	t.Run("finalises partial speech", func(t *testing.T) {
		frames := make(chan application.Frame, 32)
		feed(frames, 5, 0)
		close(frames)

		out, err := newRecognizer(stt, testConfig()).Listen(context.Background(), frames, application.ListenOptions{EndpointDuration: time.Second})
		require.NoError(t, err)

		got := collect(t, out)
		require.Len(t, got, 1)
		assert.Equal(t, "complete all", got[0].Text)
		assert.True(t, got[0].Final)
	})

	t.Run("requires an endpoint", func(t *testing.T) {
		frames := make(chan application.Frame, 32)
		feed(frames, 5, 0)
		close(frames)

		out, err := newRecognizer(stt, testConfig()).Listen(context.Background(), frames, application.ListenOptions{
			EndpointDuration: time.Second,
			RequireEndpoint:  true,
		})
		require.NoError(t, err)
		assert.Empty(t, collect(t, out))
	})
}

func TestListen_MaxLength(t *testing.T) {
	stt := &fakeSTT{fn: func(pcm []int16) (application.Transcript, error) {
		return application.Transcript{Text: "list orders"}, nil
	}}
	cfg := testConfig()
	cfg.MaxLength = 100 * time.Millisecond

	frames := make(chan application.Frame, 32)
	feed(frames, 10, 0)

	out, err := newRecognizer(stt, cfg).Listen(context.Background(), frames, application.ListenOptions{EndpointDuration: time.Second})
	require.NoError(t, err)

	got := collect(t, out)
	require.Len(t, got, 1)
	assert.Equal(t, "list orders", got[0].Text)
}

func TestListen_CancelClosesSession(t *testing.T) {
	rec := newRecognizer(&fakeSTT{fn: func([]int16) (application.Transcript, error) {
		return application.Transcript{}, nil
	}}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	out, err := rec.Listen(ctx, make(chan application.Frame), application.ListenOptions{})
	require.NoError(t, err)

	cancel()
	assert.Empty(t, collect(t, out))
}

func TestListen_RequiresTranscriber(t *testing.T) {
	_, err := newRecognizer(nil, testConfig()).Listen(context.Background(), nil, application.ListenOptions{})
	assert.Error(t, err)
}
