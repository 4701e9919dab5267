package xray

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"outline-manager/internal/domain"
)

const (
	inboundTag  = "socks-in"
	outboundTag = "proxy"
)

// Config structures for XRay
type (
	Config struct {
		Log       LogConfig        `json:"log"`
		Inbounds  []InboundConfig  `json:"inbounds"`
		Outbounds []OutboundConfig `json:"outbounds"`
		Routing   RoutingConfig    `json:"routing"`
	}

	LogConfig struct {
		LogLevel string `json:"loglevel"`
	}

	InboundConfig struct {
		Tag      string          `json:"tag"`
		Listen   string          `json:"listen"`
		Port     int             `json:"port"`
		Protocol string          `json:"protocol"`
		Settings json.RawMessage `json:"settings,omitempty"`
		Sniffing SniffingConfig  `json:"sniffing"`
	}

	SniffingConfig struct {
		Enabled      bool     `json:"enabled"`
		DestOverride []string `json:"destOverride"`
		RouteOnly    bool     `json:"routeOnly"`
	}

	OutboundConfig struct {
		Tag            string          `json:"tag"`
		Protocol       string          `json:"protocol"`
		Settings       json.RawMessage `json:"settings"`
		StreamSettings json.RawMessage `json:"streamSettings,omitempty"`
	}

	RoutingConfig struct {
		DomainStrategy string        `json:"domainStrategy,omitempty"`
		Rules          []RoutingRule `json:"rules"`
	}

	RoutingRule struct {
		Type        string `json:"type"`
		InboundTag  string `json:"inboundTag"`
		OutboundTag string `json:"outboundTag"`
	}
)

type shadowsocksServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Method   string `json:"method"`
	Password string `json:"password"`
}

// GenerateConfig builds a config with one socks inbound on listen:port
// routed through a shadowsocks outbound for proxy.
func GenerateConfig(proxy domain.ShadowsocksConfig, listen string, port int) (*Config, error) {
	if proxy.Host == "" || proxy.Port == 0 {
		return nil, fmt.Errorf("proxy address is required")
	}

	settings, err := json.Marshal(map[string]interface{}{
		"servers": []shadowsocksServer{{
			Address:  proxy.Host,
			Port:     proxy.Port,
			Method:   proxy.Method,
			Password: proxy.Password,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal shadowsocks settings: %w", err)
	}

	streamSettings, err := json.Marshal(map[string]interface{}{
		"network":  "tcp",
		"security": "none",
		"tcpSettings": map[string]interface{}{
			"header": map[string]interface{}{"type": "none"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream settings: %w", err)
	}

	return &Config{
		Log: LogConfig{LogLevel: "warning"},
		Inbounds: []InboundConfig{{
			Tag:      inboundTag,
			Listen:   listen,
			Port:     port,
			Protocol: "socks",
			Settings: json.RawMessage(`{"auth":"noauth","udp":true}`),
			Sniffing: SniffingConfig{
				Enabled:      true,
				DestOverride: []string{"http", "tls", "quic"},
				RouteOnly:    true,
			},
		}},
		Outbounds: append([]OutboundConfig{{
			Tag:            outboundTag,
			Protocol:       "shadowsocks",
			Settings:       settings,
			StreamSettings: streamSettings,
		}}, defaultOutbounds()...),
		Routing: RoutingConfig{
			DomainStrategy: "AsIs",
			Rules: []RoutingRule{{
				Type:        "field",
				InboundTag:  inboundTag,
				OutboundTag: outboundTag,
			}},
		},
	}, nil
}

func defaultOutbounds() []OutboundConfig {
	return []OutboundConfig{
		{
			Tag:      "direct",
			Protocol: "freedom",
			Settings: json.RawMessage(`{"domainStrategy":"UseIP"}`),
		},
		{
			Tag:      "block",
			Protocol: "blackhole",
			Settings: json.RawMessage(`{}`),
		},
	}
}

// WriteConfig stores cfg at path, creating the directory if needed. The file
// holds the proxy password, so it is readable by the owner only.
func WriteConfig(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
