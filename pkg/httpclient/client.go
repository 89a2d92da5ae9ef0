// Package httpclient implements the non-blocking HTTP/1.x client state
// machine: one active request/response at a time, caller-driven readiness,
// keep-alive connection reuse, and transparent Digest-auth retry.
package httpclient

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/loopwire/uhttp/pkg/buffer"
	"github.com/loopwire/uhttp/pkg/codec"
	"github.com/loopwire/uhttp/pkg/constants"
	httperrors "github.com/loopwire/uhttp/pkg/errors"
	"github.com/loopwire/uhttp/pkg/logging"
	"github.com/loopwire/uhttp/pkg/metrics"
	"github.com/loopwire/uhttp/pkg/netio"
	"github.com/loopwire/uhttp/pkg/readiness"
	"github.com/loopwire/uhttp/pkg/tlsconfig"
	"go.uber.org/zap"
)

// State is one of the client connection's lifecycle stages.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateReceivingHeaders
	StateReceivingBody
	StateComplete
)

const userAgent = "uhttp-client/1.0"

// Client is a single-connection, keep-alive-aware HTTP/1.x client. It is
// not safe for concurrent use: one request is in flight at a time, matching
// the wire protocol's own serialization.
type Client struct {
	host     string
	port     int
	basePath string
	tls      *tlsconfig.Wrapper
	auth     *Credentials
	cfg      Config

	digestParams map[string]string
	digestNC     int

	conn net.Conn
	raw  syscall.RawConn
	fd   uintptr

	state   State
	recvBuf *buffer.Queue
	sendBuf *buffer.Queue

	requestMethod  string
	requestPath    string
	requestHeaders codec.Header
	requestData    any
	requestQuery   map[string]any
	requestAuth    *Credentials

	responseStatus        int
	responseStatusMessage string
	responseHeaders       codec.Header
	responseContentLength int64

	cookies map[string]string

	// Logger, when non-nil, receives Digest-retry events.
	Logger *zap.Logger

	// Metrics, when non-nil, records Digest-retry counters.
	Metrics *metrics.Collector
}

// New creates a client targeting host:port. Pass a non-nil tlsWrapper to
// speak HTTPS.
func New(host string, port int, tlsWrapper *tlsconfig.Wrapper, cfg Config) *Client {
	return &Client{
		host:    host,
		port:    port,
		tls:     tlsWrapper,
		cfg:     cfg.withDefaults(),
		state:   StateIdle,
		recvBuf: buffer.New(),
		sendBuf: buffer.New(),
		cookies: make(map[string]string),
	}
}

// NewFromURL parses a "http(s)://[user:pass@]host[:port]/base" target and
// creates a Client for it, applying any URL-embedded credentials as the
// client's default auth.
func NewFromURL(rawURL string, cfg Config) (*Client, error) {
	parsed, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	var tlsWrapper *tlsconfig.Wrapper
	if parsed.TLS {
		tlsWrapper = tlsconfig.NewWrapper(nil)
	}
	c := New(parsed.Host, parsed.Port, tlsWrapper, cfg)
	c.basePath = strings.TrimSuffix(parsed.Path, "/")
	c.auth = parsed.Auth
	return c, nil
}

// SetAuth sets the client's default credentials, used when a request
// doesn't pass its own.
func (c *Client) SetAuth(creds Credentials) { c.auth = &creds }

// Cookies returns the cookie jar accumulated from Set-Cookie responses.
func (c *Client) Cookies() map[string]string { return c.cookies }

// IsConnected reports whether the client currently holds an open
// connection.
func (c *Client) IsConnected() bool { return c.conn != nil }

// State returns the client's current lifecycle state.
func (c *Client) State() State { return c.state }

// FD returns the connection's raw file descriptor, valid once a request is
// in flight, for registration with a readiness.Selector.
func (c *Client) FD() (uintptr, bool) {
	if c.conn == nil {
		return 0, false
	}
	return c.fd, true
}

// ReadyForRead reports whether the caller should register this client's fd
// for read-readiness right now.
func (c *Client) ReadyForRead() bool {
	return c.conn != nil && (c.state == StateReceivingHeaders || c.state == StateReceivingBody)
}

// ReadyForWrite reports whether the caller should register this client's
// fd for write-readiness right now.
func (c *Client) ReadyForWrite() bool {
	return c.conn != nil && c.state == StateSending && c.sendBuf.Len() > 0
}

func (c *Client) buildPath(path string, query map[string]any) string {
	if c.basePath != "" && !strings.HasPrefix(path, c.basePath) {
		if strings.HasPrefix(path, "/") {
			path = c.basePath + path
		} else {
			path = c.basePath + "/" + path
		}
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path + encodeQuery(query)
}

func encodeRequestData(data any, headers codec.Header) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		if _, ok := headers.Get(constants.HeaderContentType); !ok {
			headers.Set(constants.HeaderContentType, constants.ContentTypeOctetStream)
		}
		return v, nil
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, httperrors.NewClientLogicError("encode_request_data", err.Error())
		}
		if _, ok := headers.Get(constants.HeaderContentType); !ok {
			headers.Set(constants.HeaderContentType, constants.ContentTypeJSON)
		}
		return encoded, nil
	default:
		return nil, httperrors.NewClientLogicError("encode_request_data", "unsupported data type")
	}
}

func (c *Client) buildRequest(method, path string, headers codec.Header, data any, query map[string]any) ([]byte, error) {
	if headers == nil {
		headers = codec.Header{}
	}

	encoded, err := encodeRequestData(data, headers)
	if err != nil {
		return nil, err
	}

	fullPath := c.buildPath(path, query)

	if _, ok := headers.Get(constants.HeaderHost); !ok {
		if c.port == 80 || (c.tls != nil && c.port == 443) {
			headers.Set(constants.HeaderHost, c.host)
		} else {
			headers.Set(constants.HeaderHost, c.host+":"+strconv.Itoa(c.port))
		}
	}
	if _, ok := headers.Get("user-agent"); !ok {
		headers.Set("user-agent", userAgent)
	}
	if len(encoded) > 0 {
		headers.Set(constants.HeaderContentLength, strconv.Itoa(len(encoded)))
	}
	if len(c.cookies) > 0 {
		var pairs []string
		for k, v := range c.cookies {
			pairs = append(pairs, k+"="+v)
		}
		headers.Set(constants.HeaderCookie, strings.Join(pairs, "; "))
	}

	auth := c.requestAuth
	if auth == nil {
		auth = c.auth
	}
	if auth != nil {
		if _, ok := headers.Get(constants.HeaderAuthorization); !ok {
			if c.digestParams != nil {
				c.digestNC++
				digestHeader, derr := buildDigestAuth(*auth, method, fullPath, c.digestParams, c.digestNC)
				if derr != nil {
					return nil, derr
				}
				headers.Set(constants.HeaderAuthorization, digestHeader)
			} else {
				headers.Set(constants.HeaderAuthorization, buildBasicAuth(*auth))
			}
		}
	}

	var b bytes.Buffer
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(fullPath)
	b.WriteString(" HTTP/1.1\r\n")
	for key, val := range headers {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(val)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(encoded)
	return b.Bytes(), nil
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return httperrors.NewConnectionError(c.host, c.port, err)
	}

	if c.tls != nil {
		wrapped, werr := c.tls.WrapClient(ctx, conn, c.host)
		if werr != nil {
			conn.Close()
			return httperrors.NewConnectionError(c.host, c.port, werr)
		}
		conn = wrapped
	}

	raw, err := netio.RawConn(conn)
	if err != nil {
		conn.Close()
		return err
	}
	fd, err := netio.FD(raw)
	if err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.raw = raw
	c.fd = fd
	return nil
}

func (c *Client) closeConn() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateIdle
	c.recvBuf.Reset()
	c.sendBuf.Reset()
}

// Close releases the client's connection, if any.
func (c *Client) Close() error {
	c.closeConn()
	return nil
}

// Request starts a new HTTP request asynchronously. Drive it to completion
// with repeated calls to ProcessEvents (readiness-driven) or Wait
// (blocking). auth, if non-nil, overrides the client's default credentials
// for this request only.
func (c *Client) Request(ctx context.Context, method, path string, headers codec.Header, data any, query map[string]any, auth *Credentials) error {
	if c.state != StateIdle {
		return httperrors.NewClientLogicError("request", "a request is already in progress")
	}
	c.resetRequest(true)
	c.requestMethod = method
	c.requestPath = path
	c.requestHeaders = headers
	c.requestData = data
	c.requestQuery = query
	c.requestAuth = auth
	return c.startRequest(ctx)
}

func (c *Client) startRequest(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}

	headersCopy := codec.Header{}
	for k, v := range c.requestHeaders {
		headersCopy[k] = v
	}
	payload, err := c.buildRequest(c.requestMethod, c.requestPath, headersCopy, c.requestData, c.requestQuery)
	if err != nil {
		return err
	}
	c.sendBuf.Append(payload)
	c.state = StateSending
	return c.trySend()
}

func (c *Client) trySend() error {
	for c.sendBuf.Len() > 0 && c.state == StateSending {
		n, err := netio.Write(c.raw, c.sendBuf.Bytes())
		if err != nil {
			if httperrors.IsTransient(err) {
				return nil
			}
			c.closeConn()
			return err
		}
		if n > 0 {
			c.sendBuf.Consume(n)
			c.sendBuf.Compact()
		}
	}
	if c.sendBuf.Len() == 0 {
		c.state = StateReceivingHeaders
	}
	return nil
}

func (c *Client) recvToBuffer(maxSize int) (bool, error) {
	want := maxSize - c.recvBuf.Len()
	if want <= 0 {
		return true, nil
	}
	chunk := make([]byte, want)
	n, err := netio.Read(c.raw, chunk)
	if err != nil {
		if httperrors.IsTransient(err) {
			return false, nil
		}
		c.closeConn()
		return false, err
	}
	c.recvBuf.Append(chunk[:n])
	return true, nil
}

func clientDelimiterIndex(data []byte) (idx, delimLen int, found bool) {
	for _, delim := range constants.HeaderDelimiters {
		if i := bytes.Index(data, delim); i >= 0 {
			return i, len(delim), true
		}
	}
	return 0, 0, false
}

func (c *Client) processRecvHeaders() error {
	if _, err := c.recvToBuffer(c.cfg.MaxResponseHeadersLength); err != nil {
		return err
	}

	idx, delimLen, found := clientDelimiterIndex(c.recvBuf.Bytes())
	if !found {
		if c.recvBuf.Len() >= c.cfg.MaxResponseHeadersLength {
			return httperrors.NewResponseParseError("process_recv_headers", "response headers too large", nil)
		}
		return nil
	}

	end := idx + delimLen
	lines := bytes.Split(c.recvBuf.Bytes()[:end], []byte("\n"))
	c.recvBuf.Consume(end)
	c.recvBuf.Compact()

	if err := c.parseHeaders(lines); err != nil {
		return err
	}
	if c.responseContentLength > c.cfg.MaxResponseLength {
		return httperrors.NewResponseParseError("process_recv_headers",
			"response too large", nil)
	}
	c.state = StateReceivingBody
	if int64(c.recvBuf.Len()) >= c.responseContentLength {
		c.state = StateComplete
	}
	return nil
}

func (c *Client) parseStatusLine(line []byte) error {
	s := string(bytes.TrimSuffix(line, []byte("\r")))
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return httperrors.NewResponseParseError("parse_status_line", "invalid status line: "+s, nil)
	}
	if !strings.HasPrefix(parts[0], "HTTP/") {
		return httperrors.NewResponseParseError("parse_status_line", "invalid protocol: "+parts[0], nil)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return httperrors.NewResponseParseError("parse_status_line", "invalid status code: "+parts[1], err)
	}
	c.responseStatus = status
	if len(parts) > 2 {
		c.responseStatusMessage = parts[2]
	}
	return nil
}

func (c *Client) parseHeaders(lines [][]byte) error {
	c.responseHeaders = codec.Header{}
	c.responseStatus = 0
	for _, raw := range lines {
		line := bytes.TrimSuffix(raw, []byte("\r"))
		if len(line) == 0 {
			break
		}
		if c.responseStatus == 0 {
			if err := c.parseStatusLine(line); err != nil {
				return err
			}
			continue
		}
		key, val, err := codec.ParseHeaderLine(line)
		if err != nil {
			return err
		}
		c.responseHeaders[key] = val
	}

	if cl, ok := c.responseHeaders.Get(constants.HeaderContentLength); ok {
		n, err := parseInt(cl)
		if err != nil {
			return err
		}
		c.responseContentLength = n
	} else {
		c.responseContentLength = 0
	}

	c.parseSetCookies()
	return nil
}

func (c *Client) parseSetCookies() {
	raw, ok := c.responseHeaders.Get(constants.HeaderSetCookie)
	if !ok || raw == "" {
		return
	}
	cookiePart := strings.Split(raw, ";")[0]
	name, val, found := strings.Cut(cookiePart, "=")
	if !found {
		return
	}
	c.cookies[strings.TrimSpace(name)] = strings.TrimSpace(val)
}

func (c *Client) processRecvBody() error {
	if c.responseContentLength == 0 {
		c.state = StateComplete
		return nil
	}
	if _, err := c.recvToBuffer(int(c.responseContentLength)); err != nil {
		return err
	}
	if int64(c.recvBuf.Len()) >= c.responseContentLength {
		c.state = StateComplete
	}
	return nil
}

func (c *Client) shouldKeepAlive() bool {
	if c.responseHeaders == nil {
		return false
	}
	if v, ok := c.responseHeaders.Get(constants.HeaderConnection); ok {
		return !strings.EqualFold(v, constants.ConnectionClose)
	}
	return true
}

func (c *Client) resetRequest(clearRequest bool) {
	if clearRequest {
		c.requestMethod = ""
		c.requestPath = ""
		c.requestHeaders = nil
		c.requestData = nil
		c.requestQuery = nil
		c.requestAuth = nil
	}
	c.responseStatus = 0
	c.responseStatusMessage = ""
	c.responseHeaders = nil
	c.responseContentLength = 0
	c.recvBuf.Reset()
	c.sendBuf.Reset()
}

// finalizeResponse builds the completed Response, or returns (nil, nil) to
// signal a transparent Digest-auth retry is underway.
func (c *Client) finalizeResponse(ctx context.Context) (*Response, error) {
	auth := c.requestAuth
	if auth == nil {
		auth = c.auth
	}
	if c.responseStatus == 401 && auth != nil && c.digestParams == nil {
		wwwAuth, _ := c.responseHeaders.Get(constants.HeaderWWWAuthenticate)
		if strings.HasPrefix(strings.ToLower(wwwAuth), "digest ") {
			c.digestParams = parseWWWAuthenticate(wwwAuth)
			c.digestNC = 0
			if c.Logger != nil {
				logging.DigestRetry(c.Logger, c.host, c.port, c.requestPath)
			}
			c.Metrics.DigestRetry()
			if !c.shouldKeepAlive() {
				c.closeConn()
			}
			c.resetRequest(false)
			if err := c.startRequest(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	body := append([]byte(nil), c.recvBuf.Bytes()[:c.responseContentLength]...)
	resp := &Response{
		Status:        c.responseStatus,
		StatusMessage: c.responseStatusMessage,
		Headers:       c.responseHeaders,
		Data:          body,
	}

	if !c.shouldKeepAlive() {
		c.closeConn()
	} else {
		c.resetRequest(true)
		c.state = StateIdle
	}
	return resp, nil
}

// ProcessEvents advances the request state machine past one
// read/write-readiness round, returning the completed Response once
// available (nil, nil otherwise).
func (c *Client) ProcessEvents(ctx context.Context, readReady, writeReady bool) (*Response, error) {
	if c.state == StateIdle {
		return nil, nil
	}

	if writeReady && c.state == StateSending {
		if err := c.trySend(); err != nil {
			return nil, err
		}
	}

	if readReady {
		switch c.state {
		case StateReceivingHeaders:
			if err := c.processRecvHeaders(); err != nil {
				return nil, err
			}
		case StateReceivingBody:
			if err := c.processRecvBody(); err != nil {
				return nil, err
			}
		}
	}

	if c.state == StateComplete {
		return c.finalizeResponse(ctx)
	}
	return nil, nil
}

// Wait blocks (via sel) until the in-flight request completes or timeout
// elapses, returning (nil, nil) on timeout.
func (c *Client) Wait(ctx context.Context, sel readiness.Selector, timeout time.Duration) (*Response, error) {
	if c.state == StateIdle {
		return nil, httperrors.NewClientLogicError("wait", "no request in progress")
	}
	for {
		var reads, writes []uintptr
		if c.ReadyForRead() {
			reads = []uintptr{c.fd}
		}
		if c.ReadyForWrite() {
			writes = []uintptr{c.fd}
		}
		readyRead, readyWrite, err := sel.Select(ctx, reads, writes, timeout)
		if err != nil {
			return nil, err
		}
		if len(readyRead) == 0 && len(readyWrite) == 0 {
			return nil, nil
		}
		resp, err := c.ProcessEvents(ctx, len(readyRead) > 0, len(readyWrite) > 0)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
}

// Get starts a GET request. See Request for parameter semantics.
func (c *Client) Get(ctx context.Context, path string, headers codec.Header, query map[string]any) error {
	return c.Request(ctx, "GET", path, headers, nil, query, nil)
}

// Post starts a POST request with an auto-encoded body (see
// encodeRequestData).
func (c *Client) Post(ctx context.Context, path string, headers codec.Header, data any, query map[string]any) error {
	return c.Request(ctx, "POST", path, headers, data, query, nil)
}

// Put starts a PUT request.
func (c *Client) Put(ctx context.Context, path string, headers codec.Header, data any, query map[string]any) error {
	return c.Request(ctx, "PUT", path, headers, data, query, nil)
}

// Delete starts a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, headers codec.Header, query map[string]any) error {
	return c.Request(ctx, "DELETE", path, headers, nil, query, nil)
}

// Patch starts a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, headers codec.Header, data any, query map[string]any) error {
	return c.Request(ctx, "PATCH", path, headers, data, query, nil)
}

// Head starts a HEAD request.
func (c *Client) Head(ctx context.Context, path string, headers codec.Header, query map[string]any) error {
	return c.Request(ctx, "HEAD", path, headers, nil, query, nil)
}
