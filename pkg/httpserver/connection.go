// Package httpserver implements the non-blocking HTTP/1.x server connection
// state machine: header/body parsing, keep-alive and pipelining, and the
// response encoder (including chunked file and multipart streaming).
package httpserver

import (
	"bytes"
	"container/list"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/loopwire/uhttp/pkg/buffer"
	"github.com/loopwire/uhttp/pkg/codec"
	"github.com/loopwire/uhttp/pkg/constants"
	httperrors "github.com/loopwire/uhttp/pkg/errors"
	"github.com/loopwire/uhttp/pkg/netio"
)

// Connection is one accepted HTTP/1.x connection, owned exclusively by the
// goroutine that drives Server.EventRead/EventWrite/Wait — it carries no
// lock.
type Connection struct {
	server *Server
	conn   net.Conn
	raw    syscall.RawConn
	fd     uintptr
	id     string
	addr   string
	secure bool

	cfg Config

	recvBuf *buffer.Queue
	sendBuf *buffer.Queue

	rxBytesCounter uint64

	method   string
	rawURL   string
	protocol string
	headers  codec.Header
	path     string
	query    map[string]any
	body     codec.RequestBody
	cookies  map[string]string

	contentLength      int64 // -1 = absent
	contentLengthKnown bool

	isMultipart        bool
	responseStarted    bool
	responseKeepAlive  bool

	fileHandle *os.File

	// listElem is this connection's element in its Server's ordered conns
	// list, used for O(1) removal; nil once removed.
	listElem *list.Element

	lastActivity  time.Time
	requestsCount int

	// Event-mode state, used only when cfg.EventMode is set; see event.go.
	event        EventType
	bodyAccepted bool
	bodyConsumed int64
	bodySink     *os.File
	eventErr     error
}

// newConnection wraps an accepted conn. The connection must already be in
// non-blocking mode (net.Listen/net.Dial puts it there automatically; this
// repo never flips O_NONBLOCK itself).
func newConnection(server *Server, conn net.Conn, addr string, secure bool, cfg Config) (*Connection, error) {
	raw, err := netio.RawConn(conn)
	if err != nil {
		return nil, err
	}
	fd, err := netio.FD(raw)
	if err != nil {
		return nil, err
	}
	return &Connection{
		server:        server,
		conn:          conn,
		raw:           raw,
		fd:            fd,
		id:            uuid.NewString(),
		addr:          addr,
		secure:        secure,
		cfg:           cfg,
		recvBuf:       buffer.New(),
		sendBuf:       buffer.New(),
		lastActivity:  time.Now(),
		contentLength: -1,
	}, nil
}

// FD returns the OS file descriptor backing this connection, for
// registration with a readiness.Selector.
func (c *Connection) FD() uintptr { return c.fd }

// ID returns the connection's unique identifier, used to correlate log
// lines across its whole lifetime.
func (c *Connection) ID() string { return c.id }

// RemoteAddress returns the client's address, preferring the first entry of
// X-Forwarded-For when present.
func (c *Connection) RemoteAddress() string {
	if fwd, ok := c.headers.Get("x-forwarded-for"); ok && fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return c.addr
}

// IsSecure reports whether this connection is TLS-wrapped.
func (c *Connection) IsSecure() bool { return c.secure }

// RxBytesCounter returns the total bytes read off the wire for this
// connection's lifetime.
func (c *Connection) RxBytesCounter() uint64 { return c.rxBytesCounter }

// IsLoaded reports whether the current request's headers and (if any) body
// have been fully received.
func (c *Connection) IsLoaded() bool {
	if c.method == "" {
		return false
	}
	if c.contentLengthKnown && c.contentLength > 0 {
		return c.body != nil || c.bodyConsumed >= c.contentLength
	}
	return true
}

// IsWaitingForResponse reports whether the request is loaded but no
// response has been started yet — used to preserve pipelining order.
func (c *Connection) IsWaitingForResponse() bool {
	return c.IsLoaded() && !c.responseStarted
}

// IsTimedOut reports whether the connection has been idle longer than its
// keep-alive timeout.
func (c *Connection) IsTimedOut() bool {
	return time.Since(c.lastActivity) > c.cfg.KeepAliveTimeout
}

// IsMaxRequestsReached reports whether this connection has served its
// keep-alive request quota.
func (c *Connection) IsMaxRequestsReached() bool {
	return c.requestsCount >= c.cfg.KeepAliveMaxRequests
}

// HasDataToSend reports whether there is buffered response data or an
// open file stream still being flushed.
func (c *Connection) HasDataToSend() bool {
	return c.sendBuf.Len() > 0 || c.fileHandle != nil
}

// Request returns a snapshot of the currently loaded request. Call only
// after IsLoaded reports true.
func (c *Connection) Request() *Request {
	return &Request{
		Method:        c.method,
		RawURL:        c.rawURL,
		Path:          c.path,
		Protocol:      c.protocol,
		Query:         c.query,
		Headers:       c.headers,
		Cookies:       c.Cookies(),
		Body:          c.body,
		RemoteAddress: c.RemoteAddress(),
	}
}

// Cookies parses (on first access) and returns the request's Cookie header
// as name/value pairs.
func (c *Connection) Cookies() map[string]string {
	if c.cookies != nil {
		return c.cookies
	}
	c.cookies = map[string]string{}
	raw, ok := c.headers.Get(constants.HeaderCookie)
	if !ok || raw == "" {
		return c.cookies
	}
	for _, part := range strings.Split(raw, ";") {
		key, val, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		c.cookies[key] = strings.TrimSpace(val)
	}
	return c.cookies
}

func (c *Connection) contentLengthValue() (int64, error) {
	if c.headers == nil {
		return -1, nil
	}
	if c.contentLengthKnown {
		return c.contentLength, nil
	}
	raw, ok := c.headers.Get(constants.HeaderContentLength)
	if !ok {
		c.contentLengthKnown = true
		c.contentLength = -1
		return -1, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1, httperrors.NewProtocolError("content_length", 400,
			"wrong content length "+raw, err)
	}
	c.contentLengthKnown = true
	c.contentLength = n
	return n, nil
}

func (c *Connection) updateActivity() { c.lastActivity = time.Now() }

// recvToBuffer attempts to read up to size total bytes into recvBuf
// (counting what's already buffered), returning a transient error when
// nothing is available right now.
func (c *Connection) recvToBuffer(size int) error {
	want := size - c.recvBuf.Len()
	if want <= 0 {
		return nil
	}
	chunk := make([]byte, want)
	n, err := netio.Read(c.raw, chunk)
	if err != nil {
		if httperrors.IsTransient(err) {
			return err
		}
		return err
	}
	c.rxBytesCounter += uint64(n)
	c.recvBuf.Append(chunk[:n])
	c.updateActivity()
	return nil
}

func delimiterIndex(data []byte) (idx, delimLen int, found bool) {
	for _, delim := range constants.HeaderDelimiters {
		if i := bytes.Index(data, delim); i >= 0 {
			return i, len(delim), true
		}
	}
	return 0, 0, false
}

func (c *Connection) parseRequestLine(line []byte) error {
	parts := bytes.Split(line, []byte(" "))
	if len(parts) != 3 {
		return httperrors.NewProtocolError("parse_request_line", 400,
			"bad request: "+string(line), nil)
	}
	method := string(parts[0])
	rawURL := parts[1]
	protocol := string(parts[2])

	if !constants.Methods[method] {
		return httperrors.NewProtocolError("parse_request_line", 501,
			"unsupported method "+method, nil)
	}
	if !isKnownProtocol(protocol) {
		return httperrors.NewProtocolError("parse_request_line", 505,
			"unsupported protocol "+protocol, nil)
	}

	path, query, err := codec.ParseURL(rawURL)
	if err != nil {
		return err
	}

	c.method = method
	c.rawURL = string(rawURL)
	c.protocol = protocol
	c.path = path
	c.query = query
	return nil
}

func isKnownProtocol(p string) bool {
	for _, known := range constants.Protocols {
		if p == known {
			return true
		}
	}
	return false
}

func (c *Connection) processData() error {
	length, err := c.contentLengthValue()
	if err != nil {
		return err
	}
	if c.recvBuf.Len() < int(length) {
		return nil
	}
	data := append([]byte(nil), c.recvBuf.Bytes()[:length]...)
	c.recvBuf.Consume(int(length))
	c.recvBuf.Compact()

	body, err := codec.DecodeRequestBody(c.ContentType(), data)
	if err != nil {
		return err
	}
	c.body = body
	return nil
}

// ContentType returns the request's Content-Type header value, or "".
func (c *Connection) ContentType() string {
	v, _ := c.headers.Get(constants.HeaderContentType)
	return v
}

// expectsContinue reports whether the request carries Expect: 100-continue.
func (c *Connection) expectsContinue() bool {
	v, ok := c.headers.Get(constants.HeaderExpect)
	return ok && strings.EqualFold(v, "100-continue")
}

// sendContinuePreamble writes the "100 Continue" interim response, used
// both by the whole-request path (processHeaders, before it reads the
// body) and by the event-mode path (AcceptBody, before it starts
// draining the body).
func (c *Connection) sendContinuePreamble() error {
	preamble := constants.Protocols[len(constants.Protocols)-1] + " 100 Continue\r\n\r\n"
	return c.send([]byte(preamble))
}

func (c *Connection) processHeaders(headerLines [][]byte) error {
	c.headers = codec.Header{}
	seenContentLength := false
	for _, line := range headerLines {
		if len(line) == 0 {
			break
		}
		if c.method == "" {
			if err := c.parseRequestLine(line); err != nil {
				return err
			}
			continue
		}
		key, val, err := codec.ParseHeaderLine(line)
		if err != nil {
			return err
		}
		if key == constants.HeaderContentLength {
			if seenContentLength {
				return httperrors.NewProtocolError("process_headers", 400,
					"duplicate Content-Length header", nil)
			}
			seenContentLength = true
		}
		if key == constants.HeaderTransferEncoding && strings.Contains(strings.ToLower(val), "chunked") {
			return httperrors.NewProtocolError("process_headers", 501,
				"chunked request bodies are not supported", nil)
		}
		c.headers[key] = val
	}

	if c.protocol == "HTTP/1.1" {
		if _, ok := c.headers.Get(constants.HeaderHost); !ok {
			return httperrors.NewProtocolError("process_headers", 400,
				"Host header is required for HTTP/1.1", nil)
		}
	}

	length, err := c.contentLengthValue()
	if err != nil {
		return err
	}
	if length > 0 {
		if length > c.cfg.MaxContentLength {
			return httperrors.NewProtocolError("process_headers", 413,
				"content too large", nil)
		}
		if c.expectsContinue() && !c.cfg.EventMode {
			if err := c.sendContinuePreamble(); err != nil {
				return err
			}
		}
		return c.processData()
	}
	return nil
}

func splitLines(data []byte) [][]byte {
	return bytes.Split(data, []byte("\n"))
}

func (c *Connection) readHeaders() error {
	if idx, delimLen, found := delimiterIndex(c.recvBuf.Bytes()); found {
		end := idx + delimLen
		headerLines := splitLines(c.recvBuf.Bytes()[:end])
		c.recvBuf.Consume(end)
		c.recvBuf.Compact()
		return c.processHeaders(trimCR(headerLines))
	}

	if err := c.recvToBuffer(c.cfg.MaxHeadersLength); err != nil {
		if httperrors.IsTransient(err) {
			return nil
		}
		return err
	}

	if idx, delimLen, found := delimiterIndex(c.recvBuf.Bytes()); found {
		end := idx + delimLen
		headerLines := splitLines(c.recvBuf.Bytes()[:end])
		c.recvBuf.Consume(end)
		c.recvBuf.Compact()
		return c.processHeaders(trimCR(headerLines))
	}

	if c.recvBuf.Len() >= c.cfg.MaxHeadersLength {
		return httperrors.NewProtocolError("read_headers", 431,
			"headers exceed configured limit", nil)
	}
	return nil
}

func trimCR(lines [][]byte) [][]byte {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = bytes.TrimSuffix(l, []byte("\r"))
	}
	return out
}

// send appends data to the send buffer and attempts to flush it.
func (c *Connection) send(data []byte) error {
	if c.conn == nil {
		return nil
	}
	c.sendBuf.Append(data)
	_, err := c.TrySend()
	return err
}

// TrySend attempts to flush buffered response data (and the next chunk of
// any streaming file), returning true once everything has been sent.
func (c *Connection) TrySend() (bool, error) {
	if c.conn == nil {
		return false, nil
	}

	if c.fileHandle != nil && c.sendBuf.Len() < c.cfg.FileChunkSize {
		chunk := make([]byte, c.cfg.FileChunkSize)
		n, err := c.fileHandle.Read(chunk)
		if n > 0 {
			c.sendBuf.Append(chunk[:n])
		}
		if err != nil {
			c.fileHandle.Close()
			c.fileHandle = nil
			if err != io.EOF && n == 0 {
				c.Close()
				return false, err
			}
		}
	}

	if c.sendBuf.Len() == 0 {
		return c.fileHandle == nil, nil
	}

	n, err := netio.Write(c.raw, c.sendBuf.Bytes())
	if err != nil {
		if httperrors.IsTransient(err) {
			return false, nil
		}
		c.Close()
		return false, err
	}
	if n > 0 {
		c.sendBuf.Consume(n)
		c.sendBuf.Compact()
		if c.server != nil {
			c.server.Metrics.BytesStreamed(n)
		}
	}
	return c.sendBuf.Len() == 0 && c.fileHandle == nil, nil
}

func (c *Connection) shouldKeepAlive(responseHeaders codec.Header) bool {
	if responseHeaders != nil {
		if v, ok := responseHeaders.Get(constants.HeaderConnection); ok {
			return strings.EqualFold(v, constants.ConnectionKeepAlive)
		}
	}

	reqConnection, _ := c.headers.Get(constants.HeaderConnection)
	var keepAlive bool
	if c.protocol == "HTTP/1.1" {
		keepAlive = !strings.EqualFold(reqConnection, constants.ConnectionClose)
	} else {
		keepAlive = strings.EqualFold(reqConnection, constants.ConnectionKeepAlive)
	}
	if keepAlive && c.IsMaxRequestsReached() {
		keepAlive = false
	}
	return keepAlive
}

func (c *Connection) finalizeSentResponse() {
	if c.isMultipart {
		return
	}
	if c.responseKeepAlive {
		c.Reset()
	} else {
		c.Close()
	}
}

// Reset prepares the connection for the next pipelined/keep-alive request.
// The receive buffer is preserved since it may already hold the start of
// the next request.
func (c *Connection) Reset() {
	if c.fileHandle != nil {
		c.fileHandle.Close()
		c.fileHandle = nil
	}
	c.method = ""
	c.rawURL = ""
	c.protocol = ""
	c.headers = nil
	c.body = nil
	c.path = ""
	c.query = nil
	c.contentLength = -1
	c.contentLengthKnown = false
	c.cookies = nil
	c.isMultipart = false
	c.responseStarted = false
	c.responseKeepAlive = false
	c.resetEvent()
	c.updateActivity()
}

// Close releases the connection's resources and removes it from its
// Server's live-connection list.
func (c *Connection) Close() error {
	var err error
	if c.fileHandle != nil {
		err = multierr.Append(err, c.fileHandle.Close())
		c.fileHandle = nil
	}
	if c.bodySink != nil {
		err = multierr.Append(err, c.bodySink.Close())
		c.bodySink = nil
	}
	if c.server != nil && c.conn != nil {
		c.server.removeConnection(c)
	}
	if c.conn != nil {
		err = multierr.Append(err, c.conn.Close())
		c.conn = nil
		c.sendBuf.Reset()
	}
	return err
}

// ProcessRequest advances request parsing when a read-readiness event
// fires, returning true once the request is fully loaded. It respond()s a
// protocol error directly and returns that error so the caller can drop the
// connection from its waiting list.
func (c *Connection) ProcessRequest() (bool, error) {
	if c.conn == nil {
		return false, nil
	}
	if c.isMultipart {
		return false, nil
	}
	if c.IsWaitingForResponse() {
		return false, nil
	}

	var err error
	if c.method == "" {
		err = c.readHeaders()
	} else if length, lerr := c.contentLengthValue(); lerr == nil && length > 0 {
		if rerr := c.recvToBuffer(int(length)); rerr != nil && !httperrors.IsTransient(rerr) {
			err = rerr
		} else if rerr == nil {
			err = c.processData()
		}
	} else {
		err = lerr
	}

	if err != nil {
		if httperrors.GetErrorType(err) == httperrors.ErrorTypeProtocol {
			status := httperrors.GetStatus(err)
			c.Respond(status, err.Error(), codec.Header{constants.HeaderConnection: constants.ConnectionClose}, nil)
			return false, err
		}
		return false, err
	}

	if c.IsLoaded() {
		c.requestsCount++
	}
	return c.IsLoaded(), nil
}

func (c *Connection) buildResponseHeader(status int, headers codec.Header, cookies map[string]*string) string {
	var b strings.Builder
	b.WriteString(constants.Protocols[len(constants.Protocols)-1])
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(status))
	b.WriteByte(' ')
	b.WriteString(constants.StatusPhrase(status))
	b.WriteString("\r\n")

	for key, val := range headers {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(val)
		b.WriteString("\r\n")
	}

	for key, val := range cookies {
		b.WriteString(constants.HeaderSetCookie)
		b.WriteString(": ")
		b.WriteString(key)
		b.WriteByte('=')
		if val == nil {
			b.WriteString("; Max-Age=0")
		} else {
			b.WriteString(*val)
		}
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	return b.String()
}

// Respond writes a complete response. data is auto-encoded by kind (see
// codec.AutoBody): map[string]any, []any, int, int64, float64 and bool
// become JSON, strings become UTF-8 text, []byte becomes an octet stream,
// nil sends no body, and any other type is rejected with a 415 error.
func (c *Connection) Respond(status int, data any, headers codec.Header, cookies map[string]*string) error {
	if c.conn == nil {
		return nil
	}
	if c.responseStarted {
		return httperrors.NewResponseMisuseError("respond", "response already sent for this request")
	}
	c.responseStarted = true
	c.isMultipart = false

	if headers == nil {
		headers = codec.Header{}
	}

	var body []byte
	if data != nil {
		encoded, err := codec.AutoBody(data)
		if err != nil {
			return err
		}
		body, err = encoded.Bytes()
		if err != nil {
			return err
		}
		if _, ok := headers.Get(constants.HeaderContentType); !ok && encoded.ContentType() != "" {
			headers.Set(constants.HeaderContentType, encoded.ContentType())
		}
		headers.Set(constants.HeaderContentLength, strconv.Itoa(len(body)))
	}

	keepAlive := c.shouldKeepAlive(headers)
	if _, ok := headers.Get(constants.HeaderConnection); !ok {
		if keepAlive {
			headers.Set(constants.HeaderConnection, constants.ConnectionKeepAlive)
		} else {
			headers.Set(constants.HeaderConnection, constants.ConnectionClose)
		}
	}
	c.responseKeepAlive = keepAlive

	header := c.buildResponseHeader(status, headers, cookies)
	payload := append([]byte(header), body...)
	if err := c.send(payload); err != nil {
		c.Close()
		return err
	}
	if !c.HasDataToSend() {
		c.finalizeSentResponse()
	}
	return nil
}

// RespondFile streams name's contents as the response body, reading
// cfg.FileChunkSize bytes at a time from TrySend so large files never sit
// fully in memory.
func (c *Connection) RespondFile(name string, headers codec.Header) error {
	if c.responseStarted {
		return httperrors.NewResponseMisuseError("respond_file", "response already sent for this request")
	}
	if headers == nil {
		headers = codec.Header{}
	}

	info, err := os.Stat(name)
	if err != nil {
		return c.Respond(404, "file not found: "+name, nil, nil)
	}

	if _, ok := headers.Get(constants.HeaderContentType); !ok {
		ext := extensionOf(name)
		ct, ok := constants.ContentTypeByExtension[ext]
		if !ok {
			ct = constants.ContentTypeOctetStream
		}
		headers.Set(constants.HeaderContentType, ct)
	}
	headers.Set(constants.HeaderContentLength, strconv.FormatInt(info.Size(), 10))

	keepAlive := c.shouldKeepAlive(headers)
	if _, ok := headers.Get(constants.HeaderConnection); !ok {
		if keepAlive {
			headers.Set(constants.HeaderConnection, constants.ConnectionKeepAlive)
		} else {
			headers.Set(constants.HeaderConnection, constants.ConnectionClose)
		}
	}

	c.responseKeepAlive = keepAlive
	c.responseStarted = true
	c.isMultipart = false

	header := c.buildResponseHeader(200, headers, nil)

	f, err := os.Open(name)
	if err != nil {
		c.Close()
		return httperrors.NewIOError("open_file", err)
	}
	if err := c.send([]byte(header)); err != nil {
		f.Close()
		c.Close()
		return err
	}
	c.fileHandle = f
	return nil
}

func extensionOf(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// StartMultipart begins a multipart/x-mixed-replace response; follow up
// with MultipartFrame for each frame and EndMultipart to finish the stream.
func (c *Connection) StartMultipart(headers codec.Header) error {
	if c.conn == nil {
		return nil
	}
	if c.responseStarted {
		return httperrors.NewResponseMisuseError("response_multipart", "response already sent for this request")
	}
	c.responseStarted = true
	c.isMultipart = true

	if headers == nil {
		headers = codec.Header{}
	}
	if _, ok := headers.Get(constants.HeaderContentType); !ok {
		headers.Set(constants.HeaderContentType, constants.ContentTypeMultipartReplace)
	}

	header := c.buildResponseHeader(200, headers, nil)
	if err := c.send([]byte(header)); err != nil {
		c.Close()
		return err
	}
	return nil
}

// MultipartFrame sends one frame of a multipart stream started with
// StartMultipart.
func (c *Connection) MultipartFrame(data any, headers codec.Header, boundary string) error {
	if c.conn == nil {
		return nil
	}
	if data == nil {
		return c.EndMultipart(boundary)
	}
	if boundary == "" {
		boundary = constants.MultipartBoundary
	}
	if headers == nil {
		headers = codec.Header{}
	}

	encoded, err := codec.AutoBody(data)
	if err != nil {
		return err
	}
	body, err := encoded.Bytes()
	if err != nil {
		return err
	}
	if _, ok := headers.Get(constants.HeaderContentType); !ok && encoded.ContentType() != "" {
		headers.Set(constants.HeaderContentType, encoded.ContentType())
	}
	headers.Set(constants.HeaderContentLength, strconv.Itoa(len(body)))

	var b strings.Builder
	b.WriteString("--")
	b.WriteString(boundary)
	b.WriteString("\r\n")
	for key, val := range headers {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(val)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	payload := append([]byte(b.String()), body...)
	payload = append(payload, []byte("\r\n")...)
	if err := c.send(payload); err != nil {
		c.Close()
		return err
	}
	return nil
}

// EndMultipart terminates a multipart stream started with StartMultipart.
func (c *Connection) EndMultipart(boundary string) error {
	if boundary == "" {
		boundary = constants.MultipartBoundary
	}
	c.isMultipart = false
	c.responseKeepAlive = c.shouldKeepAlive(nil)

	if err := c.send([]byte("--" + boundary + "--\r\n")); err != nil {
		c.Close()
		return err
	}
	if !c.HasDataToSend() {
		c.finalizeSentResponse()
	}
	return nil
}

// RespondRedirect sends a Location redirect response.
func (c *Connection) RespondRedirect(url string, status int, cookies map[string]*string) error {
	if status == 0 {
		status = 302
	}
	headers := codec.Header{constants.HeaderLocation: url}
	return c.Respond(status, nil, headers, cookies)
}
