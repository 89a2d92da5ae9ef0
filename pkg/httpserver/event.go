package httpserver

import (
	"os"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// EventType is the kind of event an EventHandler is invoked with when a
// Server runs in event mode.
type EventType int

const (
	// EventNone means no event is ready for this connection yet (more
	// bytes are still needed); the handler is never invoked with it.
	EventNone EventType = iota
	// EventRequest fires when headers and any complete body arrived in a
	// single readiness burst.
	EventRequest
	// EventHeaders fires once the request line and headers are parsed.
	// The handler must call AcceptBody, AcceptBodyToFile, or respond
	// with a final status to reject the body.
	EventHeaders
	// EventData fires each time more body bytes have been appended after
	// AcceptBody.
	EventData
	// EventComplete fires once the full body has been received.
	EventComplete
	// EventError signals an I/O or protocol error; the connection is
	// closed right after the handler returns.
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventRequest:
		return "REQUEST"
	case EventHeaders:
		return "HEADERS"
	case EventData:
		return "DATA"
	case EventComplete:
		return "COMPLETE"
	case EventError:
		return "ERROR"
	default:
		return "NONE"
	}
}

// EventHandler processes one event on conn; see EventType for the possible
// values of conn.Event().
type EventHandler func(conn *Connection)

// Event returns the event this connection was most recently dispatched
// with. Only meaningful inside an EventHandler.
func (c *Connection) Event() EventType { return c.event }

// Err returns the error that produced an EventError dispatch, or nil.
func (c *Connection) Err() error { return c.eventErr }

func (c *Connection) setEventError(err error) {
	c.event = EventError
	c.eventErr = err
}

// AcceptBody tells the engine to start draining the request body: it sends
// "100 Continue" first if the request carried Expect: 100-continue. Call
// this from a HEADERS-event handler to accept the upload; respond with a
// final status instead to reject it.
func (c *Connection) AcceptBody() error {
	if c.event != EventHeaders {
		return httperrors.NewResponseMisuseError("accept_body", "accept_body called outside a HEADERS event")
	}
	if c.expectsContinue() {
		if err := c.sendContinuePreamble(); err != nil {
			return err
		}
	}
	c.bodyAccepted = true
	return nil
}

// AcceptBodyToFile is AcceptBody plus a write sink: DATA events are
// consumed internally into the file at path instead of accumulating in the
// connection's receive buffer, so an upload of arbitrary size never sits
// fully in memory.
func (c *Connection) AcceptBodyToFile(path string) error {
	if err := c.AcceptBody(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return httperrors.NewIOError("accept_body_to_file", err)
	}
	c.bodySink = f
	return nil
}

// ReadBuffer drains and returns whatever body bytes have accumulated since
// the last ReadBuffer/AcceptBodyToFile call. Call it from a DATA-event
// handler when streaming to something other than a plain file.
func (c *Connection) ReadBuffer() []byte {
	data := append([]byte(nil), c.recvBuf.Bytes()...)
	c.recvBuf.Consume(len(data))
	c.recvBuf.Compact()
	c.bodyConsumed += int64(len(data))
	return data
}

// advanceEvent drives the event-mode state machine by one readiness burst,
// reporting whether an event is ready for dispatch.
func (c *Connection) advanceEvent() bool {
	if c.method == "" {
		if err := c.readHeaders(); err != nil {
			c.setEventError(err)
			return true
		}
		if c.method == "" {
			return false
		}

		// processHeaders (called from readHeaders) already ran
		// processData and populated c.body when the whole body arrived
		// together with the headers, and rejects an oversized
		// Content-Length before we ever get here.
		if c.IsLoaded() {
			c.event = EventRequest
			c.requestsCount++
			return true
		}
		c.event = EventHeaders
		return true
	}

	if c.event == EventHeaders && !c.bodyAccepted {
		return false
	}

	length, lerr := c.contentLengthValue()
	if lerr != nil {
		c.setEventError(lerr)
		return true
	}

	before := c.recvBuf.Len()
	if err := c.recvToBuffer(int(length) - int(c.bodyConsumed)); err != nil && !httperrors.IsTransient(err) {
		c.setEventError(err)
		return true
	}
	gotBytes := c.recvBuf.Len() - before

	if c.bodySink != nil && c.recvBuf.Len() > 0 {
		if _, werr := c.bodySink.Write(c.recvBuf.Bytes()); werr != nil {
			c.setEventError(httperrors.NewIOError("accept_body_to_file", werr))
			return true
		}
		gotBytes = c.recvBuf.Len()
		c.bodyConsumed += int64(c.recvBuf.Len())
		c.recvBuf.Consume(c.recvBuf.Len())
		c.recvBuf.Compact()
	}

	total := c.bodyConsumed + int64(c.recvBuf.Len())
	if total >= length {
		if c.bodySink != nil {
			c.bodySink.Close()
			c.bodySink = nil
		} else if err := c.processData(); err != nil {
			c.setEventError(err)
			return true
		}
		c.event = EventComplete
		c.requestsCount++
		return true
	}

	if gotBytes > 0 {
		c.event = EventData
		return true
	}
	return false
}

// resetEvent clears event-mode request state, called from Reset.
func (c *Connection) resetEvent() {
	c.event = EventNone
	c.bodyAccepted = false
	c.bodyConsumed = 0
	if c.bodySink != nil {
		c.bodySink.Close()
		c.bodySink = nil
	}
	c.eventErr = nil
}
