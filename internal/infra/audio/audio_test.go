package audio_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/infra/audio"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tone(n int, amplitude int16) []int16 {
	pcm := make([]int16, n)
	for i := range pcm {
		if i%2 == 0 {
			pcm[i] = amplitude
		} else {
			pcm[i] = -amplitude
		}
	}
	return pcm
}

func frame(pcm []int16) application.Frame {
	return application.Frame{PCM: pcm, SampleRate: 16000, Level: audio.RMS(pcm)}
}

func TestRMS(t *testing.T) {
	assert.Equal(t, 0.0, audio.RMS(nil))
	assert.Equal(t, 0.0, audio.RMS(make([]int16, 320)))
	assert.InDelta(t, 0.5, audio.RMS(tone(320, 16384)), 1e-9)
	assert.InDelta(t, 1.0, audio.RMS(tone(320, -32768)), 1e-9)
}

func TestEnergyVAD(t *testing.T) {
	vad := audio.EnergyVAD{Threshold: 0.1}

	speech, err := vad.IsSpeech(tone(320, 8000), 16000)
	require.NoError(t, err)
	assert.True(t, speech)

	speech, err = vad.IsSpeech(tone(320, 100), 16000)
	require.NoError(t, err)
	assert.False(t, speech)

	speech, err = audio.EnergyVAD{}.IsSpeech(tone(320, 1000), 16000)
	require.NoError(t, err)
	assert.True(t, speech, "zero threshold falls back to the default")
}

func TestSegmenter_EndsOnSilence(t *testing.T) {
	seg := audio.NewSegmenter(audio.SegmenterConfig{
		Silence:   60 * time.Millisecond,
		MinSpeech: 40 * time.Millisecond,
		PreRoll:   20 * time.Millisecond,
	}, audio.EnergyVAD{Threshold: 0.05})

	quiet := make([]int16, 320)
	loud := tone(320, 8000)

	for i := 0; i < 3; i++ {
		out, _, err := seg.Push(frame(quiet))
		require.NoError(t, err)
		assert.Nil(t, out)
	}
	for i := 0; i < 3; i++ {
		out, _, err := seg.Push(frame(loud))
		require.NoError(t, err)
		assert.Nil(t, out)
	}
	assert.True(t, seg.Speaking())
	assert.Equal(t, 60*time.Millisecond, seg.SpeechDuration())

	var utterance []int16
	var forced bool
	for i := 0; i < 3; i++ {
		out, f, err := seg.Push(frame(quiet))
		require.NoError(t, err)
		if out != nil {
			utterance, forced = out, f
		}
	}

	require.NotNil(t, utterance)
	assert.False(t, forced)
	// one pre-roll frame, three speech frames, three silence frames
	assert.Len(t, utterance, 7*320)
	assert.False(t, seg.Speaking())
}

func TestSegmenter_DiscardsBlips(t *testing.T) {
	seg := audio.NewSegmenter(audio.SegmenterConfig{
		Silence:   40 * time.Millisecond,
		MinSpeech: 100 * time.Millisecond,
	}, audio.EnergyVAD{Threshold: 0.05})

	_, _, err := seg.Push(frame(tone(320, 8000)))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		out, _, err := seg.Push(frame(make([]int16, 320)))
		require.NoError(t, err)
		assert.Nil(t, out)
	}
	assert.False(t, seg.Speaking())
}

func TestSegmenter_ForcesMaxLength(t *testing.T) {
	seg := audio.NewSegmenter(audio.SegmenterConfig{
		Silence:   time.Second,
		MaxLength: 100 * time.Millisecond,
	}, audio.EnergyVAD{Threshold: 0.05})

	var out []int16
	var forced bool
	for i := 0; i < 5 && out == nil; i++ {
		var err error
		out, forced, err = seg.Push(frame(tone(320, 8000)))
		require.NoError(t, err)
	}
	require.NotNil(t, out)
	assert.True(t, forced)
	assert.Len(t, out, 5*320)
}

func TestSpool_EncodeDecode(t *testing.T) {
	fs := afero.NewMemMapFs()
	spool, err := audio.NewSpool(fs, "/spool", false)
	require.NoError(t, err)

	pcm := tone(1600, 12000)
	data, err := spool.Encode(pcm, 16000)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))

	decoded, rate, err := audio.DecodeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, pcm, decoded)

	entries, err := afero.ReadDir(fs, "/spool")
	require.NoError(t, err)
	assert.Empty(t, entries, "spool removes files unless asked to keep them")
}

func TestSpool_Keep(t *testing.T) {
	fs := afero.NewMemMapFs()
	spool, err := audio.NewSpool(fs, "/spool", true)
	require.NoError(t, err)

	_, err = spool.Encode(tone(320, 1000), 16000)
	require.NoError(t, err)

	entries, err := afero.ReadDir(fs, "/spool")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, _, err := audio.DecodeWAV(bytes.NewReader([]byte("not a wav file at all")))
	assert.ErrorIs(t, err, audio.ErrInvalidWAV)
}

func TestFileSource_ReplaysDroppedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := audio.NewSpool(fs, "/incoming", true)
	require.NoError(t, err)
	pcm := tone(1600, 9000)
	_, err = writer.Encode(pcm, 16000)
	require.NoError(t, err)

	src := audio.NewFileSource(fs, audio.FileSourceConfig{
		Dir:             "/incoming",
		FramesPerBuffer: 320,
		PollInterval:    10 * time.Millisecond,
		TrailingSilence: 100 * time.Millisecond,
	}, discard())
	assert.Equal(t, "file", src.Name())

	require.NoError(t, src.Start(context.Background()))
	defer src.Close()
	src.Resume()

	var frames []application.Frame
	timeout := time.After(2 * time.Second)
	for len(frames) < 10 {
		select {
		case f := <-src.Frames():
			frames = append(frames, f)
		case <-timeout:
			t.Fatalf("got %d frames, want 10", len(frames))
		}
	}

	assert.Equal(t, pcm[:320], frames[0].PCM)
	assert.Equal(t, 16000, frames[0].SampleRate)
	assert.Greater(t, frames[0].Level, 0.2)
	assert.Equal(t, 0.0, frames[9].Level)

	require.Eventually(t, func() bool {
		entries, err := afero.ReadDir(fs, "/incoming")
		if err != nil || len(entries) != 1 {
			return false
		}
		return len(entries[0].Name()) > len(".processed") &&
			entries[0].Name()[len(entries[0].Name())-len(".processed"):] == ".processed"
	}, time.Second, 10*time.Millisecond)
}

func TestFileSource_SuspendedDoesNotConsume(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := audio.NewSpool(fs, "/incoming", true)
	require.NoError(t, err)
	_, err = writer.Encode(tone(320, 9000), 16000)
	require.NoError(t, err)

	src := audio.NewFileSource(fs, audio.FileSourceConfig{
		Dir:          "/incoming",
		PollInterval: 5 * time.Millisecond,
	}, discard())
	require.NoError(t, src.Start(context.Background()))
	defer src.Close()

	time.Sleep(50 * time.Millisecond)
	entries, err := afero.ReadDir(fs, "/incoming")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".wav", entries[0].Name()[len(entries[0].Name())-4:])
}

func TestFileSource_FlushDiscardsBufferedFrames(t *testing.T) {
	fs := afero.NewMemMapFs()
	writer, err := audio.NewSpool(fs, "/incoming", true)
	require.NoError(t, err)
	_, err = writer.Encode(tone(1600, 9000), 16000)
	require.NoError(t, err)

	src := audio.NewFileSource(fs, audio.FileSourceConfig{
		Dir:             "/incoming",
		FramesPerBuffer: 320,
		PollInterval:    10 * time.Millisecond,
		TrailingSilence: 100 * time.Millisecond,
	}, discard())
	require.NoError(t, src.Start(context.Background()))
	defer src.Close()
	src.Resume()

	require.Eventually(t, func() bool { return len(src.Frames()) == 10 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 10, src.Flush())
	assert.Zero(t, len(src.Frames()))
	assert.Zero(t, src.Flush())
}

func TestMicrophoneStub(t *testing.T) {
	mic := audio.NewMicrophoneSource("", 16000, 320, discard())
	assert.Equal(t, "microphone", mic.Name())
}
