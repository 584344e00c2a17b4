// Package config resolves, parses, validates, and defaults healthmate configuration.
package config

import "github.com/rbright/healthmate/internal/healthctx"

// Config is the fully materialized runtime configuration.
type Config struct {
	Language  string
	Voice     VoiceConfig
	Capture   CaptureConfig
	Playback  PlaybackConfig
	Responder ResponderConfig
	Indicator IndicatorConfig
	Profile   healthctx.Context
	Metrics   MetricsConfig
	Debug     bool
}

// VoiceConfig controls listening behavior.
type VoiceConfig struct {
	SilenceTimeoutMS int
}

// CaptureConfig selects the speech recognizer.
type CaptureConfig struct {
	Backend  string
	Deepgram DeepgramConfig
	Audio    AudioConfig
}

// DeepgramConfig holds live transcription settings.
type DeepgramConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	SmartFormat    bool
	UtteranceEndMS int
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// PlaybackConfig selects how answers are spoken.
type PlaybackConfig struct {
	Backend string
	TTS     CommandConfig
}

// ResponderConfig selects the remote answer service.
type ResponderConfig struct {
	Backend   string
	TimeoutMS int
	HTTP      HTTPResponderConfig
	Gemini    GeminiConfig
	GRPC      GRPCConfig
}

// HTTPResponderConfig points at a JSON query endpoint.
type HTTPResponderConfig struct {
	URL string
}

// GeminiConfig holds generative model settings.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GRPCConfig points at an Assistant service.
type GRPCConfig struct {
	Endpoint      string
	DialTimeoutMS int
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Backend         string
	DesktopAppName  string
	SoundEnable     bool
	SoundListenFile string
	SoundAnswerFile string
	SoundNoticeFile string
	NoticeTimeoutMS int
	AnswerTimeoutMS int
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Listen string
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
