package queue

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"genserve/internal/model"
	"genserve/internal/stopper"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWorkers        = 1
	defaultMaxQueueSize   = 32
	defaultRequestTimeout = 120 * time.Second
	defaultGracePeriod    = 10 * time.Second
	defaultStreamBuffer   = 64
	defaultLatencyWindow  = 128
)

// DefaultEOSTokenID is the llama family end-of-sequence id. Config does not
// apply it: callers set EOSTokenID explicitly.
const DefaultEOSTokenID = 2

// Config encapsulates all tunables for Queue construction.
type Config struct {
	Backend model.Backend
	// Workers is the pool size. Only one worker decodes at a time; extra
	// workers overlap setup and delivery with the running decode.
	Workers      int
	MaxQueueSize int
	// RequestTimeout bounds a request from submission to its terminal result.
	RequestTimeout time.Duration
	// GracePeriod is how long Shutdown waits for in-flight requests.
	GracePeriod  time.Duration
	StreamBuffer int
	// EOSTokenID is the end-of-sequence token id, used as given: zero is
	// token id 0 and negative disables the check. Use DefaultEOSTokenID for
	// llama models.
	EOSTokenID int
	// Stopping is applied to requests that do not carry their own settings.
	Stopping      stopper.Config
	LatencyWindow int
	// Logger defaults to a disabled logger.
	Logger    *zerolog.Logger
	Publisher EventPublisher
}

// withDefaults fills zero fields. A zero Stopping config becomes
// stopper.DefaultConfig.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = defaultStreamBuffer
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = defaultLatencyWindow
	}
	if c.Stopping.IsZero() {
		c.Stopping = stopper.DefaultConfig()
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	if c.Publisher == nil {
		c.Publisher = noopPublisher{}
	}
	return c
}

func (c Config) validate() error {
	if c.Backend == nil {
		return newError(KindConfigError, "backend is required", nil)
	}
	if err := c.Stopping.Validate(); err != nil {
		return newError(KindConfigError, "default stopping", err)
	}
	if c.Workers > 64 {
		return newError(KindConfigError, fmt.Sprintf("workers=%d exceeds 64", c.Workers), nil)
	}
	return nil
}
