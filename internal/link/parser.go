// Package link parses Outline access keys into server configs.
package link

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"outline-manager/internal/domain"
)

var ErrInvalidAccessKey = errors.New("invalid access key")

// ParseAccessKey accepts a static ss:// key, an ssconf:// dynamic key or a
// plain https:// source URL.
func ParseAccessKey(key string) (domain.ServerConfig, error) {
	key = strings.TrimSpace(key)

	var cfg domain.ServerConfig
	switch {
	case hasScheme(key, "ss"):
		proxy, err := ParseShadowsocks(key)
		if err != nil {
			return domain.ServerConfig{}, err
		}
		cfg = domain.ServerConfig{Proxy: &proxy, Name: proxy.Name}

	case hasScheme(key, "ssconf"):
		source, name, err := parseSource("https://" + key[len("ssconf://"):])
		if err != nil {
			return domain.ServerConfig{}, err
		}
		cfg = domain.ServerConfig{Source: &source, Name: name}

	case hasScheme(key, "https"):
		source, name, err := parseSource(key)
		if err != nil {
			return domain.ServerConfig{}, err
		}
		cfg = domain.ServerConfig{Source: &source, Name: name}

	default:
		return domain.ServerConfig{}, fmt.Errorf("%w: unsupported scheme", ErrInvalidAccessKey)
	}

	if err := cfg.Validate(); err != nil {
		return domain.ServerConfig{}, fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}
	return cfg, nil
}

func hasScheme(key, scheme string) bool {
	prefix := scheme + "://"
	return len(key) > len(prefix) && strings.EqualFold(key[:len(prefix)], prefix)
}

// parseSource keeps the URL intact apart from the fragment, which names the
// server.
func parseSource(raw string) (domain.ProxyConfigSource, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.ProxyConfigSource{}, "", fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}
	if u.Host == "" {
		return domain.ProxyConfigSource{}, "", fmt.Errorf("%w: missing host", ErrInvalidAccessKey)
	}
	name := u.Fragment
	u.Fragment = ""
	u.RawFragment = ""
	return domain.ProxyConfigSource{URL: u.String()}, name, nil
}

// ParseShadowsocks decodes one ss:// URI in either the SIP002 form
// (ss://userinfo@host:port#name) or the legacy fully base64-encoded form
// (ss://base64(method:password@host:port)#name).
func ParseShadowsocks(raw string) (domain.ShadowsocksConfig, error) {
	raw = strings.TrimSpace(raw)
	if !hasScheme(raw, "ss") {
		return domain.ShadowsocksConfig{}, fmt.Errorf("%w: not an ss:// uri", ErrInvalidAccessKey)
	}
	body := raw[len("ss://"):]

	var name string
	if i := strings.IndexByte(body, '#'); i >= 0 {
		fragment := body[i+1:]
		body = body[:i]
		decoded, err := url.PathUnescape(fragment)
		if err != nil {
			decoded = fragment
		}
		name = decoded
	}

	var userInfo, hostPort string
	if at := strings.LastIndexByte(body, '@'); at >= 0 {
		hostPort = body[at+1:]
		if i := strings.IndexAny(hostPort, "/?"); i >= 0 {
			hostPort = hostPort[:i]
		}
		unescaped, err := url.PathUnescape(body[:at])
		if err != nil {
			return domain.ShadowsocksConfig{}, fmt.Errorf("%w: bad userinfo: %v", ErrInvalidAccessKey, err)
		}
		userInfo = unescaped
		if !strings.Contains(userInfo, ":") {
			decoded, err := decodeBase64(userInfo)
			if err != nil {
				return domain.ShadowsocksConfig{}, fmt.Errorf("%w: bad userinfo: %v", ErrInvalidAccessKey, err)
			}
			userInfo = decoded
		}
	} else {
		decoded, err := decodeBase64(strings.TrimSuffix(body, "/"))
		if err != nil {
			return domain.ShadowsocksConfig{}, fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
		}
		at := strings.LastIndexByte(decoded, '@')
		if at < 0 {
			return domain.ShadowsocksConfig{}, fmt.Errorf("%w: missing host", ErrInvalidAccessKey)
		}
		userInfo, hostPort = decoded[:at], decoded[at+1:]
	}

	method, password, ok := strings.Cut(userInfo, ":")
	if !ok || method == "" || password == "" {
		return domain.ShadowsocksConfig{}, fmt.Errorf("%w: userinfo must be method:password", ErrInvalidAccessKey)
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return domain.ShadowsocksConfig{}, fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return domain.ShadowsocksConfig{}, fmt.Errorf("%w: invalid port %q", ErrInvalidAccessKey, portStr)
	}
	if host == "" {
		return domain.ShadowsocksConfig{}, fmt.Errorf("%w: missing host", ErrInvalidAccessKey)
	}

	return domain.ShadowsocksConfig{
		Host:     host,
		Port:     port,
		Password: password,
		Method:   method,
		Name:     name,
	}, nil
}

// ParseProxyList reads one ss:// URI per line. Blank lines and lines
// starting with '#' are skipped.
func ParseProxyList(text string) ([]domain.ShadowsocksConfig, error) {
	var out []domain.ShadowsocksConfig
	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		proxy, err := ParseShadowsocks(entry)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, proxy)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return out, nil
}

func decodeBase64(s string) (string, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		decoded, err := enc.DecodeString(s)
		if err == nil {
			return string(decoded), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("error decoding base64: %w", lastErr)
}
