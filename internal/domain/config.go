package domain

import (
	"net"
	"net/url"
	"strconv"
)

// Ciphers accepted for new servers. Anything else is rejected by add and
// flagged on load.
var supportedCiphers = map[string]struct{}{
	"chacha20-ietf-poly1305": {},
	"aes-128-gcm":            {},
	"aes-192-gcm":            {},
	"aes-256-gcm":            {},
}

type ShadowsocksConfig struct {
	Host     string `json:"host" validate:"required"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Password string `json:"password" validate:"required"`
	Method   string `json:"method" validate:"required"`
	Name     string `json:"name,omitempty"`
}

type ProxyConfigSource struct {
	URL string `json:"url" validate:"required,url,startswith=http"`
}

// ServerConfig is what gets persisted for a server. Proxy is the resolved
// endpoint, Source the URL it can be fetched from.
type ServerConfig struct {
	Name   string             `json:"name,omitempty"`
	Proxy  *ShadowsocksConfig `json:"proxy,omitempty"`
	Source *ProxyConfigSource `json:"source,omitempty"`
}

func (c ServerConfig) Clone() ServerConfig {
	out := ServerConfig{Name: c.Name}
	if c.Proxy != nil {
		p := *c.Proxy
		out.Proxy = &p
	}
	if c.Source != nil {
		s := *c.Source
		out.Source = &s
	}
	return out
}

// AdoptProxy installs a fetched proxy on a source-backed config.
func (c *ServerConfig) AdoptProxy(p ShadowsocksConfig) {
	c.Proxy = &p
}

// ConfigsMatch reports whether two configs identify the same server.
func ConfigsMatch(a, b ServerConfig) bool {
	if a.Source != nil && b.Source != nil && a.Source.URL == b.Source.URL {
		return true
	}
	if a.Proxy != nil && b.Proxy != nil {
		return a.Proxy.Host == b.Proxy.Host &&
			a.Proxy.Port == b.Proxy.Port &&
			a.Proxy.Method == b.Proxy.Method &&
			a.Proxy.Password == b.Proxy.Password
	}
	return false
}

// IsCipherSupported is true for configs without a concrete proxy; those are
// checked once the source is resolved.
func IsCipherSupported(c ServerConfig) bool {
	if c.Proxy == nil {
		return true
	}
	_, ok := supportedCiphers[c.Proxy.Method]
	return ok
}

func DisplayName(c ServerConfig) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Proxy != nil && c.Proxy.Name != "":
		return c.Proxy.Name
	case c.Proxy != nil:
		return net.JoinHostPort(c.Proxy.Host, strconv.Itoa(c.Proxy.Port))
	case c.Source != nil:
		return c.Source.URL
	}
	return ""
}

func DisplayHost(c ServerConfig) string {
	if c.Proxy != nil {
		return net.JoinHostPort(c.Proxy.Host, strconv.Itoa(c.Proxy.Port))
	}
	if c.Source != nil {
		if u, err := url.Parse(c.Source.URL); err == nil && u.Host != "" {
			return u.Host
		}
		return c.Source.URL
	}
	return ""
}
