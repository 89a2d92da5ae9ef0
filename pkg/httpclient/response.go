package httpclient

import (
	"github.com/goccy/go-json"

	"github.com/loopwire/uhttp/pkg/codec"
	"github.com/loopwire/uhttp/pkg/constants"
	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// Response is a complete, already-buffered HTTP response.
type Response struct {
	Status        int
	StatusMessage string
	Headers       codec.Header
	Data          []byte

	decodedJSON any
	jsonParsed  bool
}

// ContentLength returns the response's declared Content-Length, or -1 if
// absent.
func (r *Response) ContentLength() int64 {
	v, ok := r.Headers.Get(constants.HeaderContentLength)
	if !ok {
		return -1
	}
	n, err := parseInt(v)
	if err != nil {
		return -1
	}
	return n
}

// ContentType returns the response's Content-Type header, or "".
func (r *Response) ContentType() string {
	v, _ := r.Headers.Get(constants.HeaderContentType)
	return v
}

// JSON decodes the response body as JSON, caching the result.
func (r *Response) JSON() (any, error) {
	if r.jsonParsed {
		return r.decodedJSON, nil
	}
	var v any
	if err := json.Unmarshal(r.Data, &v); err != nil {
		return nil, httperrors.NewResponseParseError("decode_json", "invalid JSON body", err)
	}
	r.decodedJSON = v
	r.jsonParsed = true
	return v, nil
}

func parseInt(s string) (int64, error) {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, httperrors.NewResponseParseError("parse_content_length", "not a number: "+s, nil)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
