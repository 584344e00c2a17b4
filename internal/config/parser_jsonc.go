package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rbright/healthmate/internal/healthctx"
)

type jsoncConfig struct {
	Language  *string         `json:"language"`
	Voice     *jsoncVoice     `json:"voice"`
	Capture   *jsoncCapture   `json:"capture"`
	Playback  *jsoncPlayback  `json:"playback"`
	Responder *jsoncResponder `json:"responder"`
	Indicator *jsoncIndicator `json:"indicator"`
	Profile   *jsoncProfile   `json:"profile"`
	Metrics   *jsoncMetrics   `json:"metrics"`
	Debug     *bool           `json:"debug"`
}

type jsoncVoice struct {
	SilenceTimeoutMS *int `json:"silence_timeout_ms"`
}

type jsoncCapture struct {
	Backend  *string        `json:"backend"`
	Deepgram *jsoncDeepgram `json:"deepgram"`
	Audio    *jsoncAudio    `json:"audio"`
}

type jsoncDeepgram struct {
	APIKey         *string `json:"api_key"`
	BaseURL        *string `json:"api_base_url"`
	Model          *string `json:"model"`
	SmartFormat    *bool   `json:"smart_format"`
	UtteranceEndMS *int    `json:"utterance_end_ms"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncPlayback struct {
	Backend *string `json:"backend"`
	TTSCmd  *string `json:"tts_cmd"`
}

type jsoncResponder struct {
	Backend   *string               `json:"backend"`
	TimeoutMS *int                  `json:"timeout_ms"`
	HTTP      *jsoncHTTPResponder   `json:"http"`
	Gemini    *jsoncGeminiResponder `json:"gemini"`
	GRPC      *jsoncGRPCResponder   `json:"grpc"`
}

type jsoncHTTPResponder struct {
	URL *string `json:"url"`
}

type jsoncGeminiResponder struct {
	APIKey  *string `json:"api_key"`
	Model   *string `json:"model"`
	BaseURL *string `json:"base_url"`
}

type jsoncGRPCResponder struct {
	Endpoint      *string `json:"endpoint"`
	DialTimeoutMS *int    `json:"dial_timeout_ms"`
}

type jsoncIndicator struct {
	Backend         *string `json:"backend"`
	DesktopAppName  *string `json:"desktop_app_name"`
	SoundEnable     *bool   `json:"sound_enable"`
	SoundListenFile *string `json:"sound_listen_file"`
	SoundAnswerFile *string `json:"sound_answer_file"`
	SoundNoticeFile *string `json:"sound_notice_file"`
	NoticeTimeoutMS *int    `json:"notice_timeout_ms"`
	AnswerTimeoutMS *int    `json:"answer_timeout_ms"`
}

type jsoncProfile struct {
	Name          *string          `json:"name"`
	Report        *jsoncReading    `json:"report"`
	BloodPressure *jsoncReading    `json:"blood_pressure"`
	Medications   *jsoncStringList `json:"medications"`
}

type jsoncReading struct {
	Value  *string `json:"value"`
	Date   *string `json:"date"`
	Status *string `json:"status"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	setString(&cfg.Language, payload.Language)
	if payload.Debug != nil {
		cfg.Debug = *payload.Debug
	}

	if payload.Voice != nil {
		setInt(&cfg.Voice.SilenceTimeoutMS, payload.Voice.SilenceTimeoutMS)
	}

	if c := payload.Capture; c != nil {
		setString(&cfg.Capture.Backend, c.Backend)
		if d := c.Deepgram; d != nil {
			setString(&cfg.Capture.Deepgram.APIKey, d.APIKey)
			setString(&cfg.Capture.Deepgram.BaseURL, d.BaseURL)
			setString(&cfg.Capture.Deepgram.Model, d.Model)
			setInt(&cfg.Capture.Deepgram.UtteranceEndMS, d.UtteranceEndMS)
			if d.SmartFormat != nil {
				cfg.Capture.Deepgram.SmartFormat = *d.SmartFormat
			}
		}
		if a := c.Audio; a != nil {
			setString(&cfg.Capture.Audio.Input, a.Input)
			setString(&cfg.Capture.Audio.Fallback, a.Fallback)
		}
	}

	if p := payload.Playback; p != nil {
		setString(&cfg.Playback.Backend, p.Backend)
		if p.TTSCmd != nil {
			raw := *p.TTSCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid playback.tts_cmd: %w", err)
			}
			cfg.Playback.TTS = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if r := payload.Responder; r != nil {
		setString(&cfg.Responder.Backend, r.Backend)
		setInt(&cfg.Responder.TimeoutMS, r.TimeoutMS)
		if r.HTTP != nil {
			setString(&cfg.Responder.HTTP.URL, r.HTTP.URL)
		}
		if g := r.Gemini; g != nil {
			setString(&cfg.Responder.Gemini.APIKey, g.APIKey)
			setString(&cfg.Responder.Gemini.Model, g.Model)
			setString(&cfg.Responder.Gemini.BaseURL, g.BaseURL)
		}
		if g := r.GRPC; g != nil {
			setString(&cfg.Responder.GRPC.Endpoint, g.Endpoint)
			setInt(&cfg.Responder.GRPC.DialTimeoutMS, g.DialTimeoutMS)
		}
	}

	if i := payload.Indicator; i != nil {
		setString(&cfg.Indicator.Backend, i.Backend)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName)
		setString(&cfg.Indicator.SoundListenFile, i.SoundListenFile)
		setString(&cfg.Indicator.SoundAnswerFile, i.SoundAnswerFile)
		setString(&cfg.Indicator.SoundNoticeFile, i.SoundNoticeFile)
		setInt(&cfg.Indicator.NoticeTimeoutMS, i.NoticeTimeoutMS)
		setInt(&cfg.Indicator.AnswerTimeoutMS, i.AnswerTimeoutMS)
		if i.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *i.SoundEnable
		}
	}

	if p := payload.Profile; p != nil {
		setString(&cfg.Profile.ProfileName, p.Name)
		applyReading(&cfg.Profile.Glucose, p.Report)
		applyReading(&cfg.Profile.BloodPressure, p.BloodPressure)
		if p.Medications != nil {
			cfg.Profile.Medications = append([]string(nil), (*p.Medications)...)
		}
	}

	if payload.Metrics != nil {
		setString(&cfg.Metrics.Listen, payload.Metrics.Listen)
	}

	return warnings, nil
}

func applyReading(dst *healthctx.Reading, src *jsoncReading) {
	if src == nil {
		return
	}
	setString(&dst.Value, src.Value)
	setString(&dst.Date, src.Date)
	setString(&dst.Status, src.Status)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
