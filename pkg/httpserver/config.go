package httpserver

import (
	"time"

	"github.com/loopwire/uhttp/pkg/constants"
)

// Config holds the tunables a Server and the Connections it accepts use.
// Zero-valued fields are replaced with the package defaults by
// DefaultConfig / NewServer.
type Config struct {
	ListenBacklog        int
	MaxWaitingClients    int
	MaxHeadersLength     int
	MaxContentLength     int64
	FileChunkSize        int
	KeepAliveTimeout     time.Duration
	KeepAliveMaxRequests int

	// AcceptRatePerSecond, when > 0, smooths bursts of new connections
	// with a token-bucket limiter in front of the hard MaxWaitingClients
	// eviction rule. Zero disables the limiter.
	AcceptRatePerSecond float64
	AcceptBurst         int

	// EventMode switches the server from whole-request dispatch (Handler
	// invoked once a request is fully loaded) to incremental event
	// dispatch (EventHandler invoked on REQUEST/HEADERS/DATA/COMPLETE/
	// ERROR), letting the handler stream a large upload to disk instead
	// of buffering it. Set via NewEventServer.
	EventMode bool
}

// DefaultConfig returns the configuration matching the shipped defaults.
func DefaultConfig() Config {
	return Config{
		ListenBacklog:        constants.DefaultListenBacklog,
		MaxWaitingClients:    constants.DefaultMaxWaitingClients,
		MaxHeadersLength:     constants.DefaultMaxHeadersLength,
		MaxContentLength:     constants.DefaultMaxContentLength,
		FileChunkSize:        constants.DefaultFileChunkSize,
		KeepAliveTimeout:     constants.DefaultKeepAliveTimeout,
		KeepAliveMaxRequests: constants.DefaultKeepAliveMaxRequests,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListenBacklog == 0 {
		c.ListenBacklog = d.ListenBacklog
	}
	if c.MaxWaitingClients == 0 {
		c.MaxWaitingClients = d.MaxWaitingClients
	}
	if c.MaxHeadersLength == 0 {
		c.MaxHeadersLength = d.MaxHeadersLength
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = d.MaxContentLength
	}
	if c.FileChunkSize == 0 {
		c.FileChunkSize = d.FileChunkSize
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if c.KeepAliveMaxRequests == 0 {
		c.KeepAliveMaxRequests = d.KeepAliveMaxRequests
	}
	return c
}
