// Package uhttp is an embedded-friendly, readiness-driven HTTP/1.x protocol
// engine: the caller owns the event loop (select/epoll/poll), this module
// owns the wire format. It ships both a server connection state machine
// (pkg/httpserver) and a single-connection client state machine
// (pkg/httpclient), neither of which ever blocks except for a client's
// initial connect and the TLS handshakes on client connect and server
// accept.
package uhttp

import (
	"github.com/loopwire/uhttp/pkg/codec"
	"github.com/loopwire/uhttp/pkg/errors"
	"github.com/loopwire/uhttp/pkg/httpclient"
	"github.com/loopwire/uhttp/pkg/httpserver"
)

// Version is the current version of the uhttp library.
const Version = "1.0.0"

// GetVersion returns the current version of the library.
func GetVersion() string {
	return Version
}

// Re-export the types most callers need, so a simple server or client can
// be built against the uhttp package alone.
type (
	// Server accepts connections and drives their state machines from a
	// single goroutine via Wait.
	Server = httpserver.Server

	// ServerConfig holds the tunables a Server and its Connections use.
	ServerConfig = httpserver.Config

	// Connection is one accepted HTTP/1.x connection passed to a Handler.
	Connection = httpserver.Connection

	// Handler processes a fully loaded request on a Connection.
	Handler = httpserver.Handler

	// Client is a single-connection, keep-alive-aware HTTP/1.x client.
	Client = httpclient.Client

	// ClientConfig holds the tunables a Client uses.
	ClientConfig = httpclient.Config

	// Response is a completed client response.
	Response = httpclient.Response

	// Credentials is a username/password pair for Basic/Digest auth.
	Credentials = httpclient.Credentials

	// Header is a request or response header set, keyed case-insensitively.
	Header = codec.Header

	// Error is the structured error type returned throughout this module.
	Error = errors.Error

	// ErrorType categorizes an Error.
	ErrorType = errors.ErrorType
)

// Re-export error type constants for convenience.
const (
	ErrorTypeProtocol       = errors.ErrorTypeProtocol
	ErrorTypeDisconnected   = errors.ErrorTypeDisconnected
	ErrorTypeTransient      = errors.ErrorTypeTransient
	ErrorTypeIO             = errors.ErrorTypeIO
	ErrorTypeConnection     = errors.ErrorTypeConnection
	ErrorTypeResponseParse  = errors.ErrorTypeResponseParse
	ErrorTypeTimeout        = errors.ErrorTypeTimeout
	ErrorTypeClientLogic    = errors.ErrorTypeClientLogic
	ErrorTypeResponseMisuse = errors.ErrorTypeResponseMisuse
	ErrorTypeValidation     = errors.ErrorTypeValidation
)

// NewServer wraps an already-listening net.Listener; see httpserver.NewServer.
var NewServer = httpserver.NewServer

// NewClient targets host:port; see httpclient.New.
var NewClient = httpclient.New

// NewClientFromURL parses a "http(s)://[user:pass@]host[:port]/base" target;
// see httpclient.NewFromURL.
var NewClientFromURL = httpclient.NewFromURL
