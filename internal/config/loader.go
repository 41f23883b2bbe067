package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/nxtg-ai/voxbridge/internal/policy"
	"gopkg.in/yaml.v3"
)

// ValidUpstreamNames lists known realtime provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidUpstreamNames = []string{"openai-realtime"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when server.tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when server.tls is set"))
		}
	}

	// Upstream provider — warn for unknown names, error on missing.
	if cfg.Upstream.Name == "" {
		errs = append(errs, errors.New("upstream.name is required"))
	} else if !slices.Contains(ValidUpstreamNames, cfg.Upstream.Name) {
		slog.Warn("unknown upstream provider name — may be a typo or third-party provider",
			"name", cfg.Upstream.Name,
			"known", ValidUpstreamNames,
		)
	}
	if cfg.Upstream.Name == "openai-realtime" && cfg.Upstream.APIKey == "" {
		slog.Warn("upstream.api_key is empty; the provider connection will likely be rejected")
	}
	if cfg.Upstream.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_reconnect_attempts %d must not be negative", cfg.Upstream.MaxReconnectAttempts))
	}

	// Session
	if m := cfg.Session.DefaultVoiceMode; m != "" && !m.Valid() {
		errs = append(errs, fmt.Errorf("session.default_voice_mode %q is invalid; valid values: push_to_talk, open_mic", m))
	}
	if cfg.Session.IdleTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout_ms %d must not be negative", cfg.Session.IdleTimeoutMS))
	}

	// Lanes — transition_gap_ms may be negative (disables the gap).
	if cfg.Lanes.MinDelayBeforeReflexMS < 0 {
		errs = append(errs, fmt.Errorf("lanes.min_delay_before_reflex_ms %d must not be negative", cfg.Lanes.MinDelayBeforeReflexMS))
	}
	if cfg.Lanes.MaxReflexDurationMS < 0 {
		errs = append(errs, fmt.Errorf("lanes.max_reflex_duration_ms %d must not be negative", cfg.Lanes.MaxReflexDurationMS))
	}

	// Admission
	if cfg.Admission.CooldownMS < 0 {
		errs = append(errs, fmt.Errorf("admission.cooldown_ms %d must not be negative", cfg.Admission.CooldownMS))
	}
	if cfg.Admission.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("admission.min_rms %.2f must not be negative", cfg.Admission.MinRMS))
	}

	// Policy
	if m := cfg.Policy.PIIMode; m != "" && !m.IsValid() {
		errs = append(errs, fmt.Errorf("policy.pii_mode %q is invalid; valid values: redact, flag", m))
	}
	if s := cfg.Policy.CancelSeverity; s < 0 || s > policy.MaxSeverity {
		errs = append(errs, fmt.Errorf("policy.cancel_severity %d is out of range [0, %d]", s, policy.MaxSeverity))
	}
	if t := cfg.Policy.PartialMatchThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("policy.partial_match_threshold %.2f is out of range [0, 1]", t))
	}

	// Knowledge
	if cfg.Knowledge.TopK < 0 {
		errs = append(errs, fmt.Errorf("knowledge.top_k %d must not be negative", cfg.Knowledge.TopK))
	}
	if cfg.Knowledge.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("knowledge.max_tokens %d must not be negative", cfg.Knowledge.MaxTokens))
	}
	if cfg.Knowledge.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("knowledge.max_bytes %d must not be negative", cfg.Knowledge.MaxBytes))
	}

	// Store availability
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}
