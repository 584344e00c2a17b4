package config

import "strings"

// Parse reads JSONC configuration content over base and validates the result.
func Parse(content string, base Config) (Config, []Warning, error) {
	return parseWithEnv(content, base, func(string) string { return "" })
}

func parseWithEnv(content string, base Config, getenv func(string) string) (Config, []Warning, error) {
	cfg := base
	var warnings []Warning
	if strings.TrimSpace(content) != "" {
		parsed, parseWarnings, err := parseJSONC(content, base)
		if err != nil {
			return Config{}, nil, err
		}
		cfg, warnings = parsed, parseWarnings
	}

	applyEnv(&cfg, getenv)
	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}
