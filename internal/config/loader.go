package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/adam-palmer1/smarterli-desktop/internal/pipeline"
)

// ErrInvalid wraps every validation failure returned by Validate.
var ErrInvalid = errors.New("config: invalid")

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Keys absent from the file keep their Default values.
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

// LoadFromReader decodes a YAML config from r over Default and validates
// the result. Unknown keys are rejected. An empty document yields Default.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns an
// error wrapping ErrInvalid and listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be positive", cfg.SampleRate))
	}
	if cfg.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("frame_ms %v must be positive", cfg.FrameMs))
	}

	// Stage tunables are validated by actually building both chains.
	if cfg.SampleRate > 0 {
		if _, err := pipeline.Build(cfg.SystemOptions()); err != nil {
			errs = append(errs, fmt.Errorf("system: %w", err))
		}
		if _, err := pipeline.Build(cfg.MicOptions()); err != nil {
			errs = append(errs, fmt.Errorf("mic: %w", err))
		}
	}

	if cfg.AEC.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("aec.sample_rate %d must be positive", cfg.AEC.SampleRate))
	} else if cfg.SampleRate > 0 && cfg.SampleRate%cfg.AEC.SampleRate != 0 {
		errs = append(errs, fmt.Errorf("sample_rate %d must be a multiple of aec.sample_rate %d",
			cfg.SampleRate, cfg.AEC.SampleRate))
	}
	if cfg.AEC.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("aec.frame_ms %v must be positive", cfg.AEC.FrameMs))
	}
	if cfg.AEC.TailMs <= 0 {
		errs = append(errs, fmt.Errorf("aec.tail_ms %v must be positive", cfg.AEC.TailMs))
	}
	if cfg.AEC.ReferenceMs <= 0 {
		errs = append(errs, fmt.Errorf("aec.reference_ms %v must be positive", cfg.AEC.ReferenceMs))
	}
	if cfg.AEC.LockBudget < 0 {
		errs = append(errs, fmt.Errorf("aec.lock_budget %v must not be negative", cfg.AEC.LockBudget))
	}

	if !cfg.Sink.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("sink.codec %q is invalid; valid values: pcm, opus", cfg.Sink.Codec))
	}
	if cfg.Sink.Queue < 1 {
		errs = append(errs, fmt.Errorf("sink.queue %d must be at least 1", cfg.Sink.Queue))
	}
	if cfg.Sink.VADThreshold < 0 {
		errs = append(errs, fmt.Errorf("sink.vad_threshold %v must not be negative", cfg.Sink.VADThreshold))
	}
	if cfg.Sink.URL != "" {
		u, err := url.Parse(cfg.Sink.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("sink.url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("sink.url %q must use ws or wss", cfg.Sink.URL))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Save writes cfg to path as YAML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
