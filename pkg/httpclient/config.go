package httpclient

import (
	"time"

	"github.com/loopwire/uhttp/pkg/constants"
)

// Config holds the tunables a Client uses for its connect timeout and
// response-size ceilings. IdleTimeout is stored and defaulted but not read
// by Client. Zero-valued fields fall back to constants.Default*.
type Config struct {
	ConnectTimeout          time.Duration
	IdleTimeout             time.Duration
	MaxResponseHeadersLength int
	MaxResponseLength       int64
}

// DefaultConfig returns the configuration matching the shipped defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:           constants.DefaultConnectTimeout,
		IdleTimeout:              constants.DefaultIdleTimeout,
		MaxResponseHeadersLength: constants.DefaultMaxResponseHeadersLength,
		MaxResponseLength:        constants.DefaultMaxResponseLength,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxResponseHeadersLength == 0 {
		c.MaxResponseHeadersLength = d.MaxResponseHeadersLength
	}
	if c.MaxResponseLength == 0 {
		c.MaxResponseLength = d.MaxResponseLength
	}
	return c
}
