package httpclient

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// Credentials is a username/password pair, used for Basic auth, Digest
// auth, and URL-embedded user:pass@host auth.
type Credentials struct {
	Username string
	Password string
}

// parseWWWAuthenticate splits a WWW-Authenticate challenge's key="value"
// (or key=value) directives into a map, after stripping a leading
// "Digest "/"Basic " scheme token.
func parseWWWAuthenticate(header string) map[string]string {
	result := make(map[string]string)
	lower := strings.ToLower(header)
	switch {
	case strings.HasPrefix(lower, "digest "):
		header = header[7:]
	case strings.HasPrefix(lower, "basic "):
		header = header[6:]
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		key, val, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		val = strings.Trim(val, `"`)
		result[key] = val
	}
	return result
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// buildBasicAuth returns a "Basic <base64>" Authorization header value.
func buildBasicAuth(creds Credentials) string {
	raw := creds.Username + ":" + creds.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// buildDigestAuth returns a "Digest ..." Authorization header value for one
// request, following RFC 2617's MD5/MD5-sess response calculation. nc is
// the nonce-count for this credential's lifetime (starts at 1).
func buildDigestAuth(creds Credentials, method, uri string, params map[string]string, nc int) (string, error) {
	realm := params["realm"]
	nonce := params["nonce"]
	qop := params["qop"]
	opaque := params["opaque"]
	algorithm := strings.ToUpper(params["algorithm"])
	if algorithm == "" {
		algorithm = "MD5"
	}
	if algorithm != "MD5" && algorithm != "MD5-SESS" {
		return "", httperrors.NewClientLogicError("build_digest_auth",
			"unsupported digest algorithm: "+algorithm)
	}

	ncStr := fmt.Sprintf("%08x", nc)
	cnonce := md5Hex(fmt.Sprintf("%d", nc))[:8]

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", creds.Username, realm, creds.Password))
	if algorithm == "MD5-SESS" {
		ha1 = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, cnonce))
	}
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	var response, qopValue string
	if qop != "" {
		qopValue = strings.TrimSpace(strings.Split(qop, ",")[0])
		response = md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, ncStr, cnonce, qopValue, ha2))
	} else {
		response = md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
	}

	parts := []string{
		fmt.Sprintf(`username="%s"`, creds.Username),
		fmt.Sprintf(`realm="%s"`, realm),
		fmt.Sprintf(`nonce="%s"`, nonce),
		fmt.Sprintf(`uri="%s"`, uri),
		fmt.Sprintf(`response="%s"`, response),
	}
	if qopValue != "" {
		parts = append(parts,
			"qop="+qopValue,
			"nc="+ncStr,
			fmt.Sprintf(`cnonce="%s"`, cnonce),
		)
	}
	if opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, opaque))
	}
	if algorithm != "MD5" {
		parts = append(parts, "algorithm="+algorithm)
	}

	return "Digest " + strings.Join(parts, ", "), nil
}
