package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

func TestDecodePercentEncoding(t *testing.T) {
	cases := map[string]string{
		"hello+world":    "hello world",
		"100%25+done":    "100% done",
		"a%2Bb":          "a+b",
		"trailing%":      "trailing%",
		"trailing%2":     "trailing%2",
		"":                "",
		"no%20escape+ok": "no escape ok",
	}
	for in, want := range cases {
		got, err := DecodePercentEncoding([]byte(in))
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, string(got), "input %q", in)
	}
}

func TestDecodePercentEncodingBadHexIsError(t *testing.T) {
	_, err := DecodePercentEncoding([]byte("%GZ"))
	assert.Error(t, err, "expected an error for a malformed percent-escape")
}

func TestParseHeaderParameters(t *testing.T) {
	got := ParseHeaderParameters(`multipart/form-data; boundary="X123"; charset=utf-8`)
	want := map[string]string{
		"multipart/form-data": "",
		"boundary":            "X123",
		"charset":             "utf-8",
	}
	assert.Equal(t, want, got)
}

func TestParseQueryRepeatedKeyLaw(t *testing.T) {
	query, err := ParseQuery([]byte("a=1&b&a=2&a=3"), nil)
	require.NoError(t, err)

	assert.Nil(t, query["b"], "expected nil for valueless key b")

	list, ok := query["a"].([]any)
	require.True(t, ok, "expected a to become a list, got %T", query["a"])
	assert.Equal(t, []any{"1", "2", "3"}, list)
}

func TestParseQuerySingleValue(t *testing.T) {
	query, err := ParseQuery([]byte("name=hello%20world"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", query["name"])
}

func TestParseURL(t *testing.T) {
	path, query, err := ParseURL([]byte("/a%20b/c?x=1&x=2"))
	require.NoError(t, err)
	assert.Equal(t, "/a b/c", path)

	list, ok := query["x"].([]any)
	require.True(t, ok, "expected x to become a list, got %T", query["x"])
	assert.Equal(t, []any{"1", "2"}, list)
}

func TestParseURLNoQuery(t *testing.T) {
	path, query, err := ParseURL([]byte("/plain"))
	require.NoError(t, err)
	assert.Equal(t, "/plain", path)
	assert.Nil(t, query)
}

func TestParseURLBadPathEscapeIsBadRequest(t *testing.T) {
	_, _, err := ParseURL([]byte("/a%zzb"))
	assert.Equal(t, 400, httperrors.GetStatus(err))
}

func TestParseQueryBadEscapeIsBadRequest(t *testing.T) {
	_, err := ParseQuery([]byte("a=%zz"), nil)
	assert.Equal(t, 400, httperrors.GetStatus(err))
}

func TestParseHeaderLine(t *testing.T) {
	key, val, err := ParseHeaderLine([]byte("Content-Type:  text/html  "))
	require.NoError(t, err)
	assert.Equal(t, "content-type", key)
	assert.Equal(t, "text/html", val)
}

func TestParseHeaderLineMissingColon(t *testing.T) {
	_, _, err := ParseHeaderLine([]byte("not-a-header"))
	assert.Error(t, err, "expected error for missing colon")
}

func TestAutoBody(t *testing.T) {
	b, err := AutoBody(map[string]any{"ok": true})
	require.NoError(t, err)
	assert.Equal(t, "application/json", b.ContentType())
	data, err := b.Bytes()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	textBody, err := AutoBody("hello")
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=UTF-8", textBody.ContentType())

	bytesBody, err := AutoBody([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", bytesBody.ContentType())

	empty, err := AutoBody(nil)
	require.NoError(t, err)
	assert.Equal(t, "", empty.ContentType())

	_, err = AutoBody(struct{}{})
	assert.Error(t, err, "expected 415 error for unsupported type")
}

func TestDecodeRequestBody(t *testing.T) {
	form, err := DecodeRequestBody("application/x-www-form-urlencoded", []byte("a=1&b=2"))
	require.NoError(t, err)
	fb, ok := form.(FormBody)
	require.True(t, ok, "expected FormBody, got %T", form)
	assert.Equal(t, "1", fb["a"])
	assert.Equal(t, "2", fb["b"])

	jsonBody, err := DecodeRequestBody("application/json", []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.IsType(t, JSONRequestBody{}, jsonBody)

	raw, err := DecodeRequestBody("application/octet-stream", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.IsType(t, RawRequestBody{}, raw)

	empty, err := DecodeRequestBody("application/json", nil)
	require.NoError(t, err)
	assert.IsType(t, NoBody{}, empty)
}
