package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/healthmate/internal/locale"
)

// Command synthesizes speech with an external TTS argv and plays the WAV it
// prints on stdout through PulseAudio. "{lang}" in argv expands to the
// session language tag; the answer text is written to stdin.
type Command struct {
	argv   []string
	logger *slog.Logger

	synthesize func(ctx context.Context, argv []string, text string) ([]byte, error)
	play       func(ctx context.Context, audio pcm) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCommand returns a speaker for argv. argv must not be empty.
func NewCommand(argv []string, logger *slog.Logger) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("playback.tts_cmd is empty")
	}
	return &Command{
		argv:       append([]string(nil), argv...),
		logger:     logger,
		synthesize: runSynthesizer,
		play:       playPulse,
	}, nil
}

// Speak cancels any utterance in progress and starts a new one in the background.
func (c *Command) Speak(ctx context.Context, text string, lang locale.Language) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.Cancel()

	speakCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	argv := expandArgv(c.argv, lang)
	go func() {
		defer close(done)
		defer cancel()
		if err := c.speak(speakCtx, argv, text); err != nil && !errors.Is(err, context.Canceled) {
			c.log("speech playback failed", err)
		}
	}()
	return nil
}

// Cancel stops the current utterance and waits for it to release the audio device.
func (c *Command) Cancel() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Command) speak(ctx context.Context, argv []string, text string) error {
	wav, err := c.synthesize(ctx, argv, text)
	if err != nil {
		return err
	}
	audio, err := decodeWAV(wav)
	if err != nil {
		return fmt.Errorf("decode tts output: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.play(ctx, audio)
}

func (c *Command) log(message string, err error) {
	if c.logger == nil || err == nil {
		return
	}
	c.logger.Warn(message, "error", err.Error())
}

func expandArgv(argv []string, lang locale.Language) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, "{lang}", lang.String())
	}
	return out
}

func runSynthesizer(ctx context.Context, argv []string, text string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run tts command %q: %w", argv[0], err)
		}
		return nil, fmt.Errorf("run tts command %q: %w: %s", argv[0], err, msg)
	}
	return stdout.Bytes(), nil
}

func playPulse(ctx context.Context, audio pcm) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("healthmate"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	cursor := 0
	// A cancelled ctx ends the stream at the next buffer request.
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if ctx.Err() != nil || cursor >= len(audio.samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, audio.samples[cursor:])
		cursor += n
		if cursor >= len(audio.samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(audio.sampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName("healthmate answer"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play speech stream: %w", err)
	}
	return nil
}
