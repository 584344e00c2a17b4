package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/healthmate/internal/locale"
)

func wavBytes(t *testing.T, channels uint16, rate uint32, samples []int16) []byte {
	t.Helper()
	var body bytes.Buffer
	if len(samples) > 0 {
		require.NoError(t, binary.Write(&body, binary.LittleEndian, samples))
	}

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(36+body.Len())))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	for _, field := range []any{
		uint32(16), uint16(1), channels, rate, rate * uint32(channels) * 2, channels * 2, uint16(16),
	} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, field))
	}
	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(body.Len())))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func TestDecodeWAVMono(t *testing.T) {
	audio, err := decodeWAV(wavBytes(t, 1, 22050, []int16{1, -2, 300}))
	require.NoError(t, err)
	require.Equal(t, 22050, audio.sampleRate)
	require.Equal(t, []int16{1, -2, 300}, audio.samples)
}

func TestDecodeWAVDownmixesStereo(t *testing.T) {
	audio, err := decodeWAV(wavBytes(t, 2, 16000, []int16{100, 300, -50, -150}))
	require.NoError(t, err)
	require.Equal(t, []int16{200, -100}, audio.samples)
}

func TestDecodeWAVRejectsBadInput(t *testing.T) {
	_, err := decodeWAV([]byte("not audio"))
	require.ErrorContains(t, err, "RIFF")

	eightBit := wavBytes(t, 1, 8000, []int16{1})
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)
	_, err = decodeWAV(eightBit)
	require.ErrorContains(t, err, "bit depth")

	noData := wavBytes(t, 1, 8000, nil)[:36]
	_, err = decodeWAV(noData)
	require.ErrorContains(t, err, "data chunk")
}

func TestExpandArgv(t *testing.T) {
	got := expandArgv([]string{"piper", "--voice", "voices/{lang}.onnx", "--output-raw"}, locale.Hindi)
	require.Equal(t, []string{"piper", "--voice", "voices/hi-IN.onnx", "--output-raw"}, got)
}

func TestNewCommandRequiresArgv(t *testing.T) {
	_, err := NewCommand(nil, nil)
	require.Error(t, err)
	_, err = NewCommand([]string{"  "}, nil)
	require.Error(t, err)
}

func TestCommandSpeakPlaysSynthesizedAudio(t *testing.T) {
	c, err := NewCommand([]string{"tts", "--lang", "{lang}"}, nil)
	require.NoError(t, err)

	var gotArgv []string
	var gotText string
	c.synthesize = func(_ context.Context, argv []string, text string) ([]byte, error) {
		gotArgv, gotText = argv, text
		return wavBytes(t, 1, 16000, []int16{5, 6, 7}), nil
	}
	played := make(chan pcm, 1)
	c.play = func(_ context.Context, audio pcm) error {
		played <- audio
		return nil
	}

	require.NoError(t, c.Speak(context.Background(), "  Your reading is 145.  ", locale.Spanish))
	select {
	case audio := <-played:
		require.Equal(t, []int16{5, 6, 7}, audio.samples)
	case <-time.After(2 * time.Second):
		t.Fatal("audio was never played")
	}
	c.Cancel()
	require.Equal(t, []string{"tts", "--lang", "es-ES"}, gotArgv)
	require.Equal(t, "Your reading is 145.", gotText)
}

func TestCommandSpeakCancelsPriorUtterance(t *testing.T) {
	c, err := NewCommand([]string{"tts"}, nil)
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		started   []string
		cancelled atomic.Int32
	)
	c.synthesize = func(_ context.Context, _ []string, text string) ([]byte, error) {
		mu.Lock()
		started = append(started, text)
		mu.Unlock()
		return wavBytes(t, 1, 16000, []int16{1}), nil
	}
	playing := make(chan struct{}, 2)
	c.play = func(ctx context.Context, _ pcm) error {
		playing <- struct{}{}
		<-ctx.Done()
		cancelled.Add(1)
		return ctx.Err()
	}

	require.NoError(t, c.Speak(context.Background(), "first", locale.English))
	<-playing
	require.NoError(t, c.Speak(context.Background(), "second", locale.English))
	require.Equal(t, int32(1), cancelled.Load())
	<-playing

	c.Cancel()
	require.Equal(t, int32(2), cancelled.Load())
	mu.Lock()
	require.Equal(t, []string{"first", "second"}, started)
	mu.Unlock()
}

func TestCommandSpeakIgnoresBlankTextAndSynthFailures(t *testing.T) {
	c, err := NewCommand([]string{"tts"}, nil)
	require.NoError(t, err)
	calls := atomic.Int32{}
	c.synthesize = func(context.Context, []string, string) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("voice missing")
	}
	c.play = func(context.Context, pcm) error {
		t.Fatal("play should not run")
		return nil
	}

	require.NoError(t, c.Speak(context.Background(), "   ", locale.English))
	require.NoError(t, c.Speak(context.Background(), "hello", locale.English))
	c.Cancel()
	require.Equal(t, int32(1), calls.Load())
	c.Cancel()
}

func TestConsoleSpeak(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(&out)
	require.NoError(t, c.Speak(context.Background(), "Hello, Asha.", locale.English))
	c.Cancel()
	require.Equal(t, "» Hello, Asha.\n", out.String())
}
