package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"genserve/internal/model"
	"genserve/internal/queue"
	"genserve/internal/stopper"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main or
// by queue.New.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Model is a file name under ModelsDir or a path.
	Model string `json:"model" yaml:"model" toml:"model"`
	// Backend selects the inference backend: "llama", "server" or "script".
	Backend   string `json:"backend" yaml:"backend" toml:"backend"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	Workers        int      `json:"workers" yaml:"workers" toml:"workers"`
	MaxQueueSize   int      `json:"max_queue_size" yaml:"max_queue_size" toml:"max_queue_size"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	GracePeriod    Duration `json:"grace_period" yaml:"grace_period" toml:"grace_period"`
	StreamBuffer   int      `json:"stream_buffer" yaml:"stream_buffer" toml:"stream_buffer"`
	// EOSTokenID is nil when unset; a negative id disables the EOS check.
	EOSTokenID *int `json:"eos_token_id" yaml:"eos_token_id" toml:"eos_token_id"`

	MaxTokens  int        `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Repetition Repetition `json:"repetition" yaml:"repetition" toml:"repetition"`
	Stop       []string   `json:"stop" yaml:"stop" toml:"stop"`

	CORS   CORS   `json:"cors" yaml:"cors" toml:"cors"`
	Llama  Llama  `json:"llama" yaml:"llama" toml:"llama"`
	Server Server `json:"server" yaml:"server" toml:"server"`
}

// Repetition overrides the repetition detector defaults field by field.
type Repetition struct {
	Disabled         bool `json:"disabled" yaml:"disabled" toml:"disabled"`
	WindowSize       int  `json:"window_size" yaml:"window_size" toml:"window_size"`
	MinPatternLength int  `json:"min_pattern_length" yaml:"min_pattern_length" toml:"min_pattern_length"`
	MaxPatternLength int  `json:"max_pattern_length" yaml:"max_pattern_length" toml:"max_pattern_length"`
	MinRepetitions   int  `json:"min_repetitions" yaml:"min_repetitions" toml:"min_repetitions"`
}

type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

type Llama struct {
	Ctx     int `json:"ctx" yaml:"ctx" toml:"ctx"`
	Threads int `json:"threads" yaml:"threads" toml:"threads"`
}

// Server points the "server" backend at a running llama.cpp server.
type Server struct {
	URL            string   `json:"url" yaml:"url" toml:"url"`
	APIKey         string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Stopping overlays the configured stopping fields on stopper.DefaultConfig.
func (c Config) Stopping() stopper.Config {
	s := stopper.DefaultConfig()
	if c.MaxTokens != 0 {
		s.MaxTokens = c.MaxTokens
	}
	r := c.Repetition
	switch {
	case r.Disabled:
		s.WindowSize = 0
	default:
		if r.WindowSize != 0 {
			s.WindowSize = r.WindowSize
		}
		if r.MinPatternLength != 0 {
			s.MinPatternLength = r.MinPatternLength
		}
		if r.MaxPatternLength != 0 {
			s.MaxPatternLength = r.MaxPatternLength
		}
		if r.MinRepetitions != 0 {
			s.MinRepetitions = r.MinRepetitions
		}
	}
	s.Stop = append([]string(nil), c.Stop...)
	return s
}

// QueueConfig maps the file settings onto queue.Config. Unset fields stay
// zero so queue.New applies its own defaults.
func (c Config) QueueConfig(backend model.Backend, log *zerolog.Logger) queue.Config {
	eos := queue.DefaultEOSTokenID
	if c.EOSTokenID != nil {
		eos = *c.EOSTokenID
	}
	return queue.Config{
		Backend:        backend,
		Workers:        c.Workers,
		MaxQueueSize:   c.MaxQueueSize,
		RequestTimeout: time.Duration(c.RequestTimeout),
		GracePeriod:    time.Duration(c.GracePeriod),
		StreamBuffer:   c.StreamBuffer,
		EOSTokenID:     eos,
		Stopping:       c.Stopping(),
		Logger:         log,
	}
}
