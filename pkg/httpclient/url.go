package httpclient

import (
	"fmt"
	"strconv"
	"strings"

	httperrors "github.com/loopwire/uhttp/pkg/errors"
)

// parsedURL is the decomposition of a "http(s)://[user:pass@]host[:port]/path"
// target into the pieces a Client needs to dial and build requests.
type parsedURL struct {
	Host string
	Port int
	Path string
	TLS  bool
	Auth *Credentials
}

// parseURL parses url into its host/port/path/scheme/auth components. path
// is empty when url has no path, and otherwise carries a leading slash; it
// can be used as a client's base path.
func parseURL(url string) (parsedURL, error) {
	var out parsedURL

	switch {
	case strings.HasPrefix(url, "https://"):
		out.TLS = true
		url = url[len("https://"):]
	case strings.HasPrefix(url, "http://"):
		url = url[len("http://"):]
	}

	var hostPort, path string
	if i := strings.IndexByte(url, '/'); i >= 0 {
		hostPort, path = url[:i], "/"+url[i+1:]
	} else {
		hostPort = url
	}

	if i := strings.LastIndexByte(hostPort, '@'); i >= 0 {
		authPart := hostPort[:i]
		hostPort = hostPort[i+1:]
		user, pass, found := strings.Cut(authPart, ":")
		if found {
			out.Auth = &Credentials{Username: user, Password: pass}
		} else {
			out.Auth = &Credentials{Username: authPart}
		}
	}

	if i := strings.LastIndexByte(hostPort, ':'); i >= 0 {
		port, err := strconv.Atoi(hostPort[i+1:])
		if err != nil {
			return parsedURL{}, httperrors.NewValidationError("invalid port in URL: " + url)
		}
		out.Host = hostPort[:i]
		out.Port = port
	} else {
		out.Host = hostPort
		if out.TLS {
			out.Port = 443
		} else {
			out.Port = 80
		}
	}

	out.Path = path
	return out, nil
}

// encodeQuery renders query into a leading-"?" query string, flattening
// []any values into repeated key=value pairs.
func encodeQuery(query map[string]any) string {
	if len(query) == 0 {
		return ""
	}
	var parts []string
	for key, val := range query {
		switch v := val.(type) {
		case nil:
			parts = append(parts, key)
		case []any:
			for _, item := range v {
				parts = append(parts, key+"="+toQueryString(item))
			}
		default:
			parts = append(parts, key+"="+toQueryString(v))
		}
	}
	return "?" + strings.Join(parts, "&")
}

func toQueryString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
