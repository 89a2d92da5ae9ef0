package httpserver

import "github.com/loopwire/uhttp/pkg/codec"

// Request is a read-only snapshot of a fully-loaded request, returned by
// Connection.Request once Connection.IsLoaded is true.
type Request struct {
	Method   string
	RawURL   string
	Path     string
	Protocol string
	Query    map[string]any
	Headers  codec.Header
	Cookies  map[string]string
	Body     codec.RequestBody

	RemoteAddress string
}

// Header returns the value of the named header (case-insensitive), and
// whether it was present.
func (r *Request) Header(key string) (string, bool) {
	return r.Headers.Get(key)
}

// HeaderOr returns the named header's value, or def if absent.
func (r *Request) HeaderOr(key, def string) string {
	if v, ok := r.Headers.Get(key); ok {
		return v
	}
	return def
}

// ContentType returns the request's Content-Type header, or "" if absent.
func (r *Request) ContentType() string {
	return r.HeaderOr("content-type", "")
}
