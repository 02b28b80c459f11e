package stopper

import "fmt"

// Defaults used by DefaultConfig.
const (
	DefaultMaxTokens        = 512
	DefaultWindowSize       = 300
	DefaultMinPatternLength = 5
	DefaultMaxPatternLength = 100
	DefaultMinRepetitions   = 3
)

// Config carries the per-request stopping settings. A zero WindowSize
// disables repetition detection and a zero MaxTokens disables the token cap.
type Config struct {
	MaxTokens        int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	WindowSize       int      `json:"window_size" yaml:"window_size" toml:"window_size"`
	MinPatternLength int      `json:"min_pattern_length" yaml:"min_pattern_length" toml:"min_pattern_length"`
	MaxPatternLength int      `json:"max_pattern_length" yaml:"max_pattern_length" toml:"max_pattern_length"`
	MinRepetitions   int      `json:"min_repetitions" yaml:"min_repetitions" toml:"min_repetitions"`
	Stop             []string `json:"stop,omitempty" yaml:"stop,omitempty" toml:"stop,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:        DefaultMaxTokens,
		WindowSize:       DefaultWindowSize,
		MinPatternLength: DefaultMinPatternLength,
		MaxPatternLength: DefaultMaxPatternLength,
		MinRepetitions:   DefaultMinRepetitions,
	}
}

// IsZero reports whether no field of c is set.
func (c Config) IsZero() bool {
	return c.MaxTokens == 0 && c.WindowSize == 0 && c.MinPatternLength == 0 &&
		c.MaxPatternLength == 0 && c.MinRepetitions == 0 && len(c.Stop) == 0
}

// ConfigError reports an invalid stopping setting.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string { return "stopper config: " + e.Field + ": " + e.Msg }

// Validate checks c without building anything.
func (c Config) Validate() error {
	if c.MaxTokens < 0 {
		return &ConfigError{Field: "max_tokens", Msg: "must not be negative"}
	}
	if c.WindowSize < 0 {
		return &ConfigError{Field: "window_size", Msg: "must not be negative"}
	}
	if c.WindowSize == 0 {
		return nil
	}
	return c.validateRepetition()
}

func (c Config) validateRepetition() error {
	switch {
	case c.WindowSize <= 0:
		return &ConfigError{Field: "window_size", Msg: "must be positive"}
	case c.MinRepetitions < 2:
		return &ConfigError{Field: "min_repetitions", Msg: fmt.Sprintf("must be at least 2, got %d", c.MinRepetitions)}
	case c.MinPatternLength < 1:
		return &ConfigError{Field: "min_pattern_length", Msg: fmt.Sprintf("must be at least 1, got %d", c.MinPatternLength)}
	case c.MinPatternLength > c.MaxPatternLength:
		return &ConfigError{Field: "min_pattern_length", Msg: fmt.Sprintf("%d exceeds max_pattern_length %d", c.MinPatternLength, c.MaxPatternLength)}
	case c.MinPatternLength*c.MinRepetitions > c.WindowSize:
		return &ConfigError{Field: "window_size", Msg: fmt.Sprintf("%d cannot hold %d repetitions of a %d rune pattern", c.WindowSize, c.MinRepetitions, c.MinPatternLength)}
	}
	return nil
}

// Build returns a fresh pipeline for one request, ordered cheapest first:
// end of sequence, token cap, stop sequences, repetition. A negative eosID
// leaves out the end of sequence check.
func Build(c Config, eosID int) (*Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var list []Stopper
	if eosID >= 0 {
		list = append(list, NewEOS(eosID))
	}
	if c.MaxTokens > 0 {
		list = append(list, NewMaxTokens(c.MaxTokens))
	}
	if ss := NewStopSequences(c.Stop); ss != nil {
		list = append(list, ss)
	}
	if c.WindowSize > 0 {
		rep, err := NewRepetition(c)
		if err != nil {
			return nil, err
		}
		list = append(list, rep)
	}
	return NewPipeline(list...), nil
}
