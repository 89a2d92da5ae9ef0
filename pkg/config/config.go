// Package config loads YAML server/client configuration, translating it
// into the Config structs httpserver and httpclient consume, with optional
// fsnotify-driven hot reload of TLS certificate/key files.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loopwire/uhttp/pkg/httpclient"
	"github.com/loopwire/uhttp/pkg/httpserver"
	"github.com/loopwire/uhttp/pkg/tlsconfig"
)

// TLSFiles names the certificate/key pair a ServerConfig loads into its
// TLS wrapper. Both paths empty means plaintext HTTP.
type TLSFiles struct {
	CertFile string `yaml:"certFile,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty"`
}

func (f TLSFiles) empty() bool { return f.CertFile == "" && f.KeyFile == "" }

func (f TLSFiles) load() (*tls.Config, error) {
	if f.empty() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: load tls key pair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// ServerConfig is the YAML shape of a server's configuration, field-for-
// field matching the external-interfaces table: address, port, TLS,
// listen backlog, waiting-client cap, header/body size ceilings, file
// streaming chunk size, keep-alive timeout/request cap, and whether the
// server runs in event-polling mode.
type ServerConfig struct {
	Address string   `yaml:"address"`
	Port    int      `yaml:"port"`
	TLS     TLSFiles `yaml:"tls,omitempty"`

	ListenBacklog        int           `yaml:"listenBacklog,omitempty"`
	MaxWaitingClients    int           `yaml:"maxWaitingClients,omitempty"`
	MaxHeadersLength     int           `yaml:"maxHeadersLength,omitempty"`
	MaxContentLength     int64         `yaml:"maxContentLength,omitempty"`
	FileChunkSize        int           `yaml:"fileChunkSize,omitempty"`
	KeepAliveTimeout     time.Duration `yaml:"keepAliveTimeout,omitempty"`
	KeepAliveMaxRequests int           `yaml:"keepAliveMaxRequests,omitempty"`
	EventMode            bool          `yaml:"eventMode,omitempty"`

	AcceptRatePerSecond float64 `yaml:"acceptRatePerSecond,omitempty"`
	AcceptBurst         int     `yaml:"acceptBurst,omitempty"`

	// WatchTLSFiles, when true, rewatches CertFile/KeyFile for changes and
	// swaps the server's TLS wrapper in place. Has no effect when TLS is
	// unset.
	WatchTLSFiles bool `yaml:"watchTlsFiles,omitempty"`
}

// ClientConfig is the YAML shape of a client's configuration: target
// (either a full URL or host/port), optional TLS and auth, and the
// connect/idle timeouts and response-size ceiling.
type ClientConfig struct {
	URL  string   `yaml:"url,omitempty"`
	Host string   `yaml:"host,omitempty"`
	Port int      `yaml:"port,omitempty"`
	TLS  TLSFiles `yaml:"tls,omitempty"`

	AuthUser string `yaml:"authUser,omitempty"`
	AuthPass string `yaml:"authPass,omitempty"`

	ConnectTimeout          time.Duration `yaml:"connectTimeout,omitempty"`
	IdleTimeout             time.Duration `yaml:"idleTimeout,omitempty"`
	MaxResponseHeadersLength int          `yaml:"maxResponseHeadersLength,omitempty"`
	MaxResponseLength       int64         `yaml:"maxResponseLength,omitempty"`
}

// LoadServerConfig reads and parses a YAML server configuration file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read server config: %w", err)
	}
	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse server config: %w", err)
	}
	return &cfg, nil
}

// LoadClientConfig reads and parses a YAML client configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read client config: %w", err)
	}
	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse client config: %w", err)
	}
	return &cfg, nil
}

// ToServerConfig translates the YAML fields into an httpserver.Config.
func (c ServerConfig) ToServerConfig() httpserver.Config {
	return httpserver.Config{
		ListenBacklog:        c.ListenBacklog,
		MaxWaitingClients:    c.MaxWaitingClients,
		MaxHeadersLength:     c.MaxHeadersLength,
		MaxContentLength:     c.MaxContentLength,
		FileChunkSize:        c.FileChunkSize,
		KeepAliveTimeout:     c.KeepAliveTimeout,
		KeepAliveMaxRequests: c.KeepAliveMaxRequests,
		AcceptRatePerSecond:  c.AcceptRatePerSecond,
		AcceptBurst:          c.AcceptBurst,
		EventMode:            c.EventMode,
	}
}

// TLSWrapper builds the tlsconfig.Wrapper for this server config, or nil
// when TLS is unset.
func (c ServerConfig) TLSWrapper() (*tlsconfig.Wrapper, error) {
	tlsCfg, err := c.TLS.load()
	if err != nil {
		return nil, err
	}
	if tlsCfg == nil {
		return nil, nil
	}
	return tlsconfig.NewWrapper(tlsCfg), nil
}

// ToClientConfig translates the YAML fields into an httpclient.Config.
func (c ClientConfig) ToClientConfig() httpclient.Config {
	return httpclient.Config{
		ConnectTimeout:           c.ConnectTimeout,
		IdleTimeout:              c.IdleTimeout,
		MaxResponseHeadersLength: c.MaxResponseHeadersLength,
		MaxResponseLength:        c.MaxResponseLength,
	}
}

// NewClient builds an httpclient.Client from this configuration, applying
// URL or host/port target resolution and URL-embedded/explicit auth.
func (c ClientConfig) NewClient() (*httpclient.Client, error) {
	ccfg := c.ToClientConfig()

	var client *httpclient.Client
	if c.URL != "" {
		built, err := httpclient.NewFromURL(c.URL, ccfg)
		if err != nil {
			return nil, err
		}
		client = built
	} else {
		tlsCfg, err := c.TLS.load()
		if err != nil {
			return nil, err
		}
		var wrapper *tlsconfig.Wrapper
		if tlsCfg != nil {
			wrapper = tlsconfig.NewWrapper(tlsCfg)
		}
		client = httpclient.New(c.Host, c.Port, wrapper, ccfg)
	}

	if c.AuthUser != "" {
		client.SetAuth(httpclient.Credentials{Username: c.AuthUser, Password: c.AuthPass})
	}
	return client, nil
}
