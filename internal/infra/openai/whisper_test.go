package openai_test

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/infra"
	"kitchen-voice/internal/infra/openai"
)

func fastRetry() openai.Option {
	return openai.WithRetryConfig(infra.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1})
}

func TestWhisperClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "audio.wav", header.Filename)
		assert.Equal(t, "RIFFfake", string(data))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" Order five is ready. ","segments":[{"avg_logprob":-0.1,"no_speech_prob":0.0},{"avg_logprob":-0.3,"no_speech_prob":0.0}]}`)
	}))
	defer server.Close()

	client := openai.NewWhisperClient("test-key", "en", openai.WithBaseURL(server.URL), fastRetry())
	transcript, err := client.Transcribe(context.Background(), []byte("RIFFfake"))
	require.NoError(t, err)

	assert.Equal(t, "Order five is ready.", transcript.Text)
	assert.True(t, transcript.Final)
	assert.InDelta(t, math.Exp(-0.2), transcript.Confidence, 1e-9)
	require.Len(t, transcript.Alternatives, 1)
	assert.Equal(t, transcript.Text, transcript.Alternatives[0].Text)
}

func TestWhisperClient_NoSpeechLowersConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"hmm","segments":[{"avg_logprob":0,"no_speech_prob":0.8}]}`)
	}))
	defer server.Close()

	client := openai.NewWhisperClient("k", "", openai.WithBaseURL(server.URL), fastRetry())
	transcript, err := client.Transcribe(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, transcript.Confidence, 1e-9)
}

func TestWhisperClient_NoSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"text":"ready"}`)
	}))
	defer server.Close()

	client := openai.NewWhisperClient("k", "en", openai.WithBaseURL(server.URL), fastRetry())
	transcript, err := client.Transcribe(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "ready", transcript.Text)
	assert.Zero(t, transcript.Confidence)
}

func TestWhisperClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"text":"help"}`)
	}))
	defer server.Close()

	client := openai.NewWhisperClient("k", "en", openai.WithBaseURL(server.URL), fastRetry())
	transcript, err := client.Transcribe(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "help", transcript.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWhisperClient_DoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid key", http.StatusUnauthorized)
	}))
	defer server.Close()

	client := openai.NewWhisperClient("bad", "en", openai.WithBaseURL(server.URL), fastRetry())
	_, err := client.Transcribe(context.Background(), []byte("x"))

	var statusErr *infra.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}
