package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const (
	sampleRate     = 16000
	chunkSizeBytes = 640 // 20ms @ 16kHz mono s16
)

// Input describes one Pulse source the assistant can listen on.
type Input struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Selection is the resolved input plus an optional fallback warning.
type Selection struct {
	Input    Input
	Warning  string
	Fallback bool
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("healthmate"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListInputs returns Pulse sources with default/availability metadata.
func ListInputs(_ context.Context) ([]Input, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	inputs := make([]Input, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		inputs = append(inputs, Input{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return inputs, nil
}

// SelectInput resolves capture.audio.input/fallback preferences against live sources.
func SelectInput(ctx context.Context, input string, fallback string) (Selection, error) {
	inputs, err := ListInputs(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectInputFromList(inputs, input, fallback)
}

// selectInputFromList applies selection policy to a pre-fetched source list.
func selectInputFromList(inputs []Input, input string, fallback string) (Selection, error) {
	if len(inputs) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	var defaultInput, byInput, byFallback *Input

	input = strings.TrimSpace(strings.ToLower(input))
	fallback = strings.TrimSpace(strings.ToLower(fallback))

	for i := range inputs {
		in := &inputs[i]
		if in.Default {
			defaultInput = in
		}
		if byInput == nil && isNamed(input) && inputMatches(*in, input) {
			byInput = in
		}
		if byFallback == nil && isNamed(fallback) && inputMatches(*in, fallback) {
			byFallback = in
		}
	}

	var primary *Input
	switch {
	case !isNamed(input):
		if defaultInput == nil {
			return Selection{}, errors.New("default audio source is unavailable")
		}
		primary = defaultInput
	case byInput != nil:
		primary = byInput
	default:
		return Selection{}, fmt.Errorf("capture.audio.input %q did not match any device", input)
	}
	if primary.Available && !primary.Muted {
		return Selection{Input: *primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	alternate := byFallback
	switch {
	case isNamed(fallback) && byFallback == nil:
		return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, reason, fallback)
	case !isNamed(fallback):
		if defaultInput == nil {
			return Selection{}, fmt.Errorf("primary input %q is %s and no default source exists", primary.ID, reason)
		}
		alternate = defaultInput
	}

	if !alternate.Available {
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", alternate.ID)
	}
	if alternate.Muted {
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", alternate.ID)
	}

	return Selection{
		Input:    *alternate,
		Warning:  fmt.Sprintf("capture.audio.input %q is %s; falling back to %q", primary.ID, reason, alternate.ID),
		Fallback: primary.ID != alternate.ID,
	}, nil
}

func isNamed(term string) bool {
	return term != "" && term != "default"
}

// inputMatches reports whether a search term matches a source id or description.
func inputMatches(in Input, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(in.ID), term) ||
		strings.Contains(strings.ToLower(in.Description), term)
}

// audioSource yields fixed-size PCM chunks until stopped.
type audioSource interface {
	Chunks() <-chan []byte
	Stop() error
}

// Microphone streams 16 kHz mono s16 chunks from one Pulse source.
type Microphone struct {
	client *pulse.Client
	stream *pulse.RecordStream

	chunks chan []byte
	stopCh chan struct{}

	mu       sync.Mutex
	pending  []byte
	stopped  bool
	inflight sync.WaitGroup
}

// OpenMicrophone creates and starts a record stream on in.
func OpenMicrophone(ctx context.Context, in Input) (*Microphone, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(in.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", in.ID, err)
	}

	mic := &Microphone{
		client: client,
		chunks: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(mic.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(chunkSizeBytes),
		pulse.RecordMediaName("healthmate voice query"),
	)
	if err != nil {
		_ = mic.Stop()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	mic.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = mic.Stop()
		case <-mic.stopCh:
		}
	}()

	return mic, nil
}

// Chunks returns the PCM stream; it is closed after Stop.
func (m *Microphone) Chunks() <-chan []byte {
	return m.chunks
}

// Stop halts the stream, flushes residual PCM, and closes Chunks exactly once.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	if m.stream != nil {
		m.stream.Stop()
		m.stream.Close()
	}
	if m.client != nil {
		m.client.Close()
	}

	m.inflight.Wait()

	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	if len(pending) > 0 {
		select {
		case m.chunks <- pending:
		default:
		}
	}

	close(m.chunks)
	return nil
}

// onPCM receives raw Pulse frames and emits chunkSizeBytes slices.
func (m *Microphone) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as m.stopped to avoid Add/Wait races.
	m.inflight.Add(1)

	m.pending = append(m.pending, buffer...)
	chunks := make([][]byte, 0, len(m.pending)/chunkSizeBytes)
	for len(m.pending) >= chunkSizeBytes {
		chunk := make([]byte, chunkSizeBytes)
		copy(chunk, m.pending[:chunkSizeBytes])
		m.pending = m.pending[chunkSizeBytes:]
		chunks = append(chunks, chunk)
	}
	m.mu.Unlock()
	defer m.inflight.Done()

	for _, chunk := range chunks {
		select {
		case <-m.stopCh:
			return 0, io.EOF
		case m.chunks <- chunk:
		}
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}
