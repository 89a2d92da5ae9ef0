// Package codec implements the small wire-format helpers shared by
// httpserver and httpclient: percent-decoding, query-string parsing, header
// parameter/line parsing, and the auto-encoding/decoding of request and
// response bodies by value kind.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// DecodePercentEncoding decodes percent-escaped bytes, treating '+' as a
// literal space. A '%' with fewer than two bytes left after it is a
// truncated escape at the end of the input and is copied through verbatim
// (with '+' still translated), matching the original parser's tolerance
// for a dangling "%" or "%X". A '%' followed by two bytes that aren't
// valid hex digits is a malformed escape (e.g. "%zz") and is reported as
// an error instead of being silently passed through.
func DecodePercentEncoding(data []byte) ([]byte, error) {
	res := make([]byte, 0, len(data))
	for len(data) > 0 {
		pos := indexByte(data, '%')
		if pos < 0 || pos > len(data)-3 {
			break
		}
		res = append(res, replacePlus(data[:pos])...)
		code, err := strconv.ParseUint(string(data[pos+1:pos+3]), 16, 8)
		if err != nil {
			return nil, httperrors.NewProtocolError("decode_percent_encoding", 400,
				fmt.Sprintf("invalid percent-escape %q", data[pos:pos+3]), err)
		}
		res = append(res, byte(code))
		data = data[pos+3:]
	}
	res = append(res, replacePlus(data)...)
	return res, nil
}

func indexByte(data []byte, b byte) int {
	for i, c := range data {
		if c == b {
			return i
		}
	}
	return -1
}

func replacePlus(data []byte) []byte {
	out := make([]byte, len(data))
	for i, c := range data {
		if c == '+' {
			out[i] = ' '
		} else {
			out[i] = c
		}
	}
	return out
}

// ParseHeaderParameters parses a ";"-delimited header value such as
// `multipart/form-data; boundary="X"` into directive key/value pairs.
// Quoted values have their surrounding quotes stripped. A directive with
// no "=" is recorded with an empty value.
func ParseHeaderParameters(value string) map[string]string {
	directives := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		if key, val, found := strings.Cut(part, "="); found {
			key = strings.TrimSpace(key)
			val = strings.Trim(strings.TrimSpace(val), `"`)
			directives[key] = val
		} else if trimmed := strings.TrimSpace(part); trimmed != "" {
			directives[trimmed] = ""
		}
	}
	return directives
}

// ParseQuery parses a raw (still percent-encoded) query string into query,
// creating query if nil. Repeated keys follow list semantics: the first
// occurrence is stored as a scalar string (or nil for a valueless key); a
// second occurrence upgrades the entry to a []any list holding both values;
// further occurrences append to that list.
func ParseQuery(raw []byte, query map[string]any) (map[string]any, error) {
	if query == nil {
		query = make(map[string]any)
	}
	for _, part := range splitBytes(raw, '&') {
		if len(part) == 0 {
			continue
		}
		var key string
		var val any
		if i := indexByte(part, '='); i >= 0 {
			k, err := DecodePercentEncoding(part[:i])
			if err != nil {
				return nil, httperrors.NewProtocolError("parse_query", 400, "bad query coding", err)
			}
			v, err := DecodePercentEncoding(part[i+1:])
			if err != nil {
				return nil, httperrors.NewProtocolError("parse_query", 400, "bad query coding", err)
			}
			key = string(k)
			val = string(v)
		} else {
			k, err := DecodePercentEncoding(part)
			if err != nil {
				return nil, httperrors.NewProtocolError("parse_query", 400, "bad query coding", err)
			}
			key = string(k)
			val = nil
		}
		addQueryValue(query, key, val)
	}
	return query, nil
}

func addQueryValue(query map[string]any, key string, val any) {
	existing, ok := query[key]
	if !ok {
		query[key] = val
		return
	}
	if list, ok := existing.([]any); ok {
		query[key] = append(list, val)
		return
	}
	query[key] = []any{existing, val}
}

func splitBytes(data []byte, sep byte) [][]byte {
	var parts [][]byte
	start := 0
	for i, c := range data {
		if c == sep {
			parts = append(parts, data[start:i])
			start = i + 1
		}
	}
	parts = append(parts, data[start:])
	return parts
}

// ParseURL splits a request-line target into its path and (optional) query
// map, percent-decoding the path. query is nil when the target carries no
// "?".
func ParseURL(raw []byte) (path string, query map[string]any, err error) {
	var rawQuery []byte
	if i := indexByte(raw, '?'); i >= 0 {
		rawQuery = raw[i+1:]
		raw = raw[:i]
		query, err = ParseQuery(rawQuery, nil)
		if err != nil {
			return "", nil, err
		}
	}
	decoded, err := DecodePercentEncoding(raw)
	if err != nil {
		return "", nil, httperrors.NewProtocolError("parse_url", 400, "wrong header path coding", err)
	}
	path = string(decoded)
	return path, query, nil
}

// Header is a request or response header set, keyed lower-case, matching
// the wire case-insensitivity rule.
type Header map[string]string

// Get returns the value for key (matched case-insensitively) and whether it
// was present.
func (h Header) Get(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[strings.ToLower(key)]
	return v, ok
}

// Set stores value under key, normalizing key to lower-case.
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// ParseHeaderLine splits a single header line into a lower-cased key and a
// trimmed value.
func ParseHeaderLine(line []byte) (key, value string, err error) {
	s := string(line)
	k, v, found := strings.Cut(s, ":")
	if !found {
		return "", "", httperrors.NewProtocolError("parse_header_line", 400,
			fmt.Sprintf("wrong header format %q", s), nil)
	}
	return strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v), nil
}

// Body is a response body ready to be written to the wire: it knows its own
// content type and byte encoding.
type Body interface {
	ContentType() string
	Bytes() ([]byte, error)
}

// JSONBody marshals v as JSON (application/json) using goccy/go-json.
type JSONBody struct{ Value any }

func (b JSONBody) ContentType() string { return "application/json" }
func (b JSONBody) Bytes() ([]byte, error) {
	return json.Marshal(b.Value)
}

// TextBody sends a string body as UTF-8 text/html.
type TextBody string

func (b TextBody) ContentType() string      { return "text/html; charset=UTF-8" }
func (b TextBody) Bytes() ([]byte, error)   { return []byte(b), nil }

// BytesBody sends a raw byte body as application/octet-stream.
type BytesBody []byte

func (b BytesBody) ContentType() string    { return "application/octet-stream" }
func (b BytesBody) Bytes() ([]byte, error) { return b, nil }

// EmptyBody sends no content at all.
type EmptyBody struct{}

func (EmptyBody) ContentType() string    { return "" }
func (EmptyBody) Bytes() ([]byte, error) { return nil, nil }

// AutoBody picks the Body implementation matching v's runtime kind, mirroring
// the original: map[string]any, []any, int, int64, float64 and bool encode
// as JSON, strings as UTF-8 text, []byte as an octet stream, nil as empty,
// and any other type (including other map, slice and number types) is a 415.
func AutoBody(v any) (Body, error) {
	switch val := v.(type) {
	case nil:
		return EmptyBody{}, nil
	case string:
		return TextBody(val), nil
	case []byte:
		return BytesBody(val), nil
	case map[string]any, []any, int, int64, float64, bool:
		return JSONBody{Value: val}, nil
	default:
		return nil, httperrors.NewProtocolError("encode_response_data", 415,
			fmt.Sprintf("unsupported response value type %T", v), nil)
	}
}

// RequestBody is a decoded request body, tagged by how it was encoded on
// the wire.
type RequestBody interface {
	isRequestBody()
}

// FormBody is a decoded application/x-www-form-urlencoded body.
type FormBody map[string]any

func (FormBody) isRequestBody() {}

// JSONRequestBody is a decoded application/json body.
type JSONRequestBody struct{ Value any }

func (JSONRequestBody) isRequestBody() {}

// RawRequestBody is an undecoded body kept as raw bytes (any other content
// type, or a type we don't have a decoder for).
type RawRequestBody []byte

func (RawRequestBody) isRequestBody() {}

// NoBody means the request carried no body.
type NoBody struct{}

func (NoBody) isRequestBody() {}

// DecodeRequestBody interprets raw according to contentType.
func DecodeRequestBody(contentType string, raw []byte) (RequestBody, error) {
	if len(raw) == 0 {
		return NoBody{}, nil
	}
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := ParseQuery(raw, nil)
		if err != nil {
			return nil, err
		}
		return FormBody(form), nil
	case "application/json":
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, httperrors.NewProtocolError("decode_request_body", 400,
				"invalid JSON body", err)
		}
		return JSONRequestBody{Value: v}, nil
	default:
		return RawRequestBody(raw), nil
	}
}
