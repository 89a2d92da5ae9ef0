// Package constants defines the wire tables and default thresholds shared by
// httpserver and httpclient: status phrases, method/protocol tokens, content
// type guesses, and the size/timeout ceilings from the configuration tables.
package constants

import "time"

// Size units, matching the KB/MB/GB scale used throughout the configuration
// defaults below.
const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

// Server defaults.
const (
	DefaultListenBacklog      = 2
	DefaultMaxWaitingClients  = 5
	DefaultMaxHeadersLength   = 4 * KB
	DefaultMaxContentLength   = 512 * KB
	DefaultFileChunkSize      = 4 * KB
	DefaultKeepAliveTimeout   = 15 * time.Second
	DefaultKeepAliveMaxRequests = 100
)

// Client defaults.
const (
	DefaultConnectTimeout          = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultMaxResponseHeadersLength = 4 * KB
	DefaultMaxResponseLength       = 1 * MB
)

// Header-line delimiters a server connection searches for when deciding the
// header block has been fully received.
var HeaderDelimiters = [][]byte{
	[]byte("\n\r\n"),
	[]byte("\n\n"),
}

// Well-known header names, lower-cased as they are matched.
const (
	HeaderContentLength = "content-length"
	HeaderContentType   = "content-type"
	HeaderCacheControl  = "cache-control"
	HeaderConnection    = "connection"
	HeaderCookie        = "cookie"
	HeaderSetCookie     = "set-cookie"
	HeaderHost          = "host"
	HeaderLocation      = "location"
	HeaderTransferEncoding = "transfer-encoding"
	HeaderAuthorization = "authorization"
	HeaderWWWAuthenticate = "www-authenticate"
	HeaderExpect        = "expect"
)

const (
	ConnectionClose     = "close"
	ConnectionKeepAlive = "keep-alive"

	ContentTypeFormURLEncoded    = "application/x-www-form-urlencoded"
	ContentTypeHTMLUTF8          = "text/html; charset=UTF-8"
	ContentTypeJSON              = "application/json"
	ContentTypeOctetStream       = "application/octet-stream"
	MultipartBoundary            = "frame"
	ContentTypeMultipartReplace  = "multipart/x-mixed-replace; boundary=" + MultipartBoundary
)

// ContentTypeByExtension maps a lower-cased, dot-less file extension to the
// content type guessed for RespondFile. Extensions not present here fall
// back to ContentTypeOctetStream.
var ContentTypeByExtension = map[string]string{
	"html": ContentTypeHTMLUTF8,
	"htm":  ContentTypeHTMLUTF8,
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"ico":  "image/x-icon",
	"bmp":  "image/bmp",
}

// Methods is the set of request methods the server parser accepts.
var Methods = map[string]bool{
	"CONNECT": true, "DELETE": true, "GET": true, "HEAD": true,
	"OPTIONS": true, "PATCH": true, "POST": true, "PUT": true, "TRACE": true,
}

// Protocols is the set of protocol tokens accepted on a request line, in
// ascending order; Protocols[len(Protocols)-1] is used when building
// response status lines.
var Protocols = []string{"HTTP/1.0", "HTTP/1.1"}

// StatusPhrase returns the reason phrase for an HTTP status code, or an
// empty string when the code is not one this engine names.
func StatusPhrase(status int) string {
	return statusPhrases[status]
}

var statusPhrases = map[int]string{
	100: "Continue",
	200: "OK",
	201: "Created",
	202: "Accepted",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	410: "Gone",
	411: "Length Required",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	416: "Range Not Satisfiable",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
	505: "HTTP Version Not Supported",
	507: "Insufficient Storage",
}
