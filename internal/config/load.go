package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Secrets read from the environment take precedence over the config file.
const (
	EnvDeepgramAPIKey = "DEEPGRAM_API_KEY"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, and validates the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
		}
		applyEnv(&base, os.Getenv)
		warnings, err := Validate(base)
		if err != nil {
			return Loaded{}, fmt.Errorf("validate defaults: %w", err)
		}
		return Loaded{
			Path:   resolvedPath,
			Config: base,
			Warnings: append([]Warning{{
				Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
			}}, warnings...),
			Exists: false,
		}, nil
	}

	cfg, warnings, err := parseWithEnv(string(content), base, os.Getenv)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}

	return Loaded{
		Path:     resolvedPath,
		Config:   cfg,
		Warnings: warnings,
		Exists:   true,
	}, nil
}

// applyEnv overlays secrets from the environment.
func applyEnv(cfg *Config, getenv func(string) string) {
	if key := strings.TrimSpace(getenv(EnvDeepgramAPIKey)); key != "" {
		cfg.Capture.Deepgram.APIKey = key
	}
	if key := strings.TrimSpace(getenv(EnvGeminiAPIKey)); key != "" {
		cfg.Responder.Gemini.APIKey = key
	}
}
