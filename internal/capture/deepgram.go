// Package capture provides speech capture backends for the assistant session.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/healthmate/internal/locale"
	"github.com/rbright/healthmate/internal/session"
	"github.com/rbright/healthmate/internal/transcript"
)

const (
	defaultDeepgramURL   = "https://api.deepgram.com/v1"
	defaultDeepgramModel = "nova-2"
	defaultStopGrace     = 1500 * time.Millisecond
)

var errNoSpeech = errors.New("no speech recognized")

// DeepgramConfig controls the streaming recognizer and the microphone it reads.
type DeepgramConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	SmartFormat    bool
	UtteranceEndMS int
	Input          string
	Fallback       string
	// StopGrace bounds how long trailing results are awaited after Stop.
	StopGrace time.Duration
	Logger    *slog.Logger
}

// Deepgram streams microphone PCM to Deepgram's live transcription API.
type Deepgram struct {
	cfg    DeepgramConfig
	logger *slog.Logger

	dialer      *websocket.Dialer
	selectInput func(ctx context.Context, input, fallback string) (Selection, error)
	openSource  func(ctx context.Context, in Input) (audioSource, error)

	mu       sync.Mutex
	selected Input
	active   *deepgramStream
}

// NewDeepgram builds a recognizer backed by the default Pulse source selection.
func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepgramModel
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Deepgram{
		cfg:         cfg,
		logger:      logger,
		dialer:      websocket.DefaultDialer,
		selectInput: SelectInput,
		openSource: func(ctx context.Context, in Input) (audioSource, error) {
			return OpenMicrophone(ctx, in)
		},
	}
}

// Supported reports whether an API key is configured.
func (d *Deepgram) Supported() bool {
	return strings.TrimSpace(d.cfg.APIKey) != ""
}

// RequestPermission resolves a usable microphone. A missing, muted or
// unavailable source counts as a denial.
func (d *Deepgram) RequestPermission(ctx context.Context) error {
	if !d.Supported() {
		return session.ErrUnsupported
	}
	selection, err := d.selectInput(ctx, d.cfg.Input, d.cfg.Fallback)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrPermissionDenied, err)
	}
	if selection.Warning != "" {
		d.logger.Warn(selection.Warning)
	}

	d.mu.Lock()
	d.selected = selection.Input
	d.mu.Unlock()
	return nil
}

// Start begins a new stream in lang. It returns immediately; connection
// failures are reported through sink.
func (d *Deepgram) Start(ctx context.Context, lang locale.Language, sink session.CaptureSink) error {
	if !d.Supported() {
		return session.ErrUnsupported
	}

	d.mu.Lock()
	prev := d.active
	stream := &deepgramStream{
		owner:  d,
		input:  d.selected,
		lang:   lang,
		sink:   sink,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.active = stream
	d.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go stream.run(ctx, prev)
	return nil
}

// Stop asks the active stream to finish. Ended follows once trailing results drain.
func (d *Deepgram) Stop() error {
	d.mu.Lock()
	stream := d.active
	d.mu.Unlock()
	if stream != nil {
		stream.stop()
	}
	return nil
}

type deepgramStream struct {
	owner *Deepgram
	input Input
	lang  locale.Language
	sink  session.CaptureSink

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func (s *deepgramStream) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *deepgramStream) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// run reports exactly one Ended after the previous stream has fully drained.
func (s *deepgramStream) run(ctx context.Context, prev *deepgramStream) {
	defer close(s.done)
	if prev != nil {
		<-prev.done
	}

	text, err := s.listen(ctx)
	switch {
	case err != nil:
		s.owner.logger.Debug("deepgram stream ended with error", "error", err)
		s.sink.Error(errorReason(err), err)
	case text != "":
		s.sink.Final(text)
	}
	s.sink.Ended()
}

// listen streams audio until stopped and returns any utterance still pending.
func (s *deepgramStream) listen(ctx context.Context) (string, error) {
	if s.stopped() {
		return "", errNoSpeech
	}

	source, err := s.owner.openSource(ctx, s.input)
	if err != nil {
		return "", fmt.Errorf("open microphone: %w", err)
	}
	defer source.Stop()

	listenURL, err := buildListenURL(s.owner.cfg, s.lang)
	if err != nil {
		return "", err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+s.owner.cfg.APIKey)

	conn, resp, err := s.owner.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return "", fmt.Errorf("%w: deepgram rejected credentials (%d)", session.ErrPermissionDenied, resp.StatusCode)
		}
		return "", fmt.Errorf("connect deepgram websocket: %w", err)
	}
	defer conn.Close()

	finished := make(chan struct{})
	defer close(finished)

	go s.pump(conn, source)
	go func() {
		select {
		case <-s.stopCh:
		case <-ctx.Done():
			s.stop()
		case <-finished:
			return
		}
		_ = source.Stop()
		_ = conn.SetReadDeadline(time.Now().Add(s.owner.cfg.StopGrace))
	}()

	var (
		builder transcript.Builder
		heard   bool
	)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if s.stopped() || isCleanClose(err) {
				break
			}
			return "", fmt.Errorf("read deepgram event: %w", err)
		}

		var msg deepgramMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(msg.Type, "Error"):
			return "", deepgramError(msg)
		case strings.EqualFold(msg.Type, "UtteranceEnd"):
			if !builder.Empty() {
				heard = true
				s.sink.Final(builder.Utterance())
			}
			continue
		}

		text := msg.transcript()
		if msg.IsFinal {
			builder.Commit(text)
		} else {
			builder.SetInterim(text)
		}
		if text != "" {
			s.sink.Interim(builder.Text())
		}
		if msg.SpeechFinal && !builder.Empty() {
			heard = true
			s.sink.Final(builder.Utterance())
		}
	}

	if remaining := builder.Utterance(); remaining != "" {
		return remaining, nil
	}
	if !heard {
		return "", errNoSpeech
	}
	return "", nil
}

// pump forwards PCM until the source closes, then asks Deepgram to flush.
func (s *deepgramStream) pump(conn *websocket.Conn, source audioSource) {
	for chunk := range source.Chunks() {
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.owner.logger.Debug("deepgram audio write failed", "error", err)
			return
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.owner.logger.Debug("deepgram close stream failed", "error", err)
	}
}

type deepgramMessage struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (m deepgramMessage) transcript() string {
	if len(m.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(m.Channel.Alternatives[0].Transcript)
}

func deepgramError(msg deepgramMessage) error {
	text := strings.TrimSpace(msg.Message)
	if text == "" {
		text = strings.TrimSpace(msg.Description)
	}
	if text == "" {
		text = "deepgram returned an unknown error"
	}
	lower := strings.ToLower(text)
	for _, marker := range []string{"401", "403", "unauthorized", "permission", "forbidden"} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", session.ErrPermissionDenied, text)
		}
	}
	return errors.New(text)
}

func errorReason(err error) session.ErrorReason {
	switch {
	case errors.Is(err, errNoSpeech):
		return session.ReasonNoSpeech
	case errors.Is(err, session.ErrPermissionDenied):
		return session.ReasonPermissionDenied
	default:
		return session.ReasonOther
	}
}

func isCleanClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// deepgramLanguage maps a session language to Deepgram's language parameter.
func deepgramLanguage(lang locale.Language) string {
	if lang == locale.English {
		return string(lang)
	}
	return lang.Base()
}

func buildListenURL(cfg DeepgramConfig, lang locale.Language) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultDeepgramURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base URL: %w", err)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", "true")
	query.Set("smart_format", strconv.FormatBool(cfg.SmartFormat))
	if cfg.UtteranceEndMS > 0 {
		query.Set("utterance_end_ms", strconv.Itoa(cfg.UtteranceEndMS))
	}
	if lang.Valid() {
		query.Set("language", deepgramLanguage(lang))
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
