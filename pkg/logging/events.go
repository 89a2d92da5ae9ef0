package logging

import (
	"go.uber.org/zap"
)

// ConnectionAccepted logs a new inbound connection at debug level. connID
// identifies the connection across its whole lifetime (see
// ConnectionClosed/ProtocolError), letting a log aggregator correlate every
// event for one connection without relying on remote_addr, which a NAT or
// connection-reuse can make ambiguous.
func ConnectionAccepted(l *zap.Logger, connID, remoteAddr string, secure bool) {
	l.Debug("connection accepted",
		zap.String("conn_id", connID),
		zap.String("remote_addr", remoteAddr),
		zap.Bool("tls", secure),
	)
}

// ConnectionClosed logs a connection teardown, tagging why it closed.
func ConnectionClosed(l *zap.Logger, connID, remoteAddr, reason string, requestsServed int) {
	l.Info("connection closed",
		zap.String("conn_id", connID),
		zap.String("remote_addr", remoteAddr),
		zap.String("reason", reason),
		zap.Int("requests_served", requestsServed),
	)
}

// ProtocolError logs a malformed request/response that produced a status
// written back on the wire.
func ProtocolError(l *zap.Logger, connID, remoteAddr string, status int, message string) {
	l.Warn("protocol error",
		zap.String("conn_id", connID),
		zap.String("remote_addr", remoteAddr),
		zap.Int("status", status),
		zap.String("message", message),
	)
}

// DigestRetry logs a client's transparent Digest-auth retry.
func DigestRetry(l *zap.Logger, host string, port int, path string) {
	l.Debug("digest auth retry",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("path", path),
	)
}
