package config

import "github.com/rbright/healthmate/internal/healthctx"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Language: "en-US",
		Voice:    VoiceConfig{SilenceTimeoutMS: 3000},
		Capture: CaptureConfig{
			Backend: "console",
			Deepgram: DeepgramConfig{
				BaseURL:        "https://api.deepgram.com/v1",
				Model:          "nova-2",
				SmartFormat:    true,
				UtteranceEndMS: 1000,
			},
			Audio: AudioConfig{Input: "default", Fallback: "default"},
		},
		Playback: PlaybackConfig{Backend: "console"},
		Responder: ResponderConfig{
			Backend:   "none",
			TimeoutMS: 8000,
			Gemini:    GeminiConfig{Model: "gemini-2.0-flash"},
			GRPC:      GRPCConfig{DialTimeoutMS: 2000},
		},
		Indicator: IndicatorConfig{
			Backend:         "console",
			DesktopAppName:  "healthmate",
			SoundEnable:     false,
			NoticeTimeoutMS: 2500,
			AnswerTimeoutMS: 10000,
		},
		Profile: healthctx.Demo(),
	}
}
