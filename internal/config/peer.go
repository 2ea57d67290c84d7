package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PeerConfig drives the command-line client.
type PeerConfig struct {
	SignalURL          string        `mapstructure:"signal_url"`
	QuotaURL           string        `mapstructure:"quota_url"`
	QuotaToken         string        `mapstructure:"quota_token"`
	QuotaTimeout       time.Duration `mapstructure:"quota_timeout"`
	QuotaRetries       int           `mapstructure:"quota_retries"`
	FeatureKey         string        `mapstructure:"feature_key"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	AudioRTPAddr       string        `mapstructure:"audio_rtp_addr"`
	VideoRTPAddr       string        `mapstructure:"video_rtp_addr"`
	AudioOutAddr       string        `mapstructure:"audio_out_addr"`
	VideoOutAddr       string        `mapstructure:"video_out_addr"`
	Reconnects         int           `mapstructure:"reconnects"`
	LogLevel           string        `mapstructure:"log_level"`
}

// LoadPeer reads config/peer.<env>.yaml. Non-empty overrides (typically CLI
// flags) win over file and environment values.
func LoadPeer(overrides map[string]any) (*PeerConfig, error) {
	fileName := fmt.Sprintf("config/peer.%s.yaml", configEnv())
	v := newViper(fileName)

	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("quota_url", "")
	v.SetDefault("quota_token", "")
	v.SetDefault("quota_timeout", "5s")
	v.SetDefault("quota_retries", 3)
	v.SetDefault("feature_key", "video_call")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("negotiation_timeout", "30s")
	v.SetDefault("audio_rtp_addr", "127.0.0.1:5004")
	v.SetDefault("video_rtp_addr", "127.0.0.1:5006")
	v.SetDefault("audio_out_addr", "")
	v.SetDefault("video_out_addr", "")
	v.SetDefault("reconnects", 0)
	v.SetDefault("log_level", "info")

	read(v, fileName)

	for k, val := range overrides {
		if s, ok := val.(string); ok && s == "" {
			continue
		}
		v.Set(k, val)
	}

	var cfg PeerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse peer config: %w", err)
	}
	if cfg.NegotiationTimeout <= 0 {
		return nil, fmt.Errorf("negotiation_timeout must be positive, got %s", cfg.NegotiationTimeout)
	}
	if cfg.FeatureKey == "" {
		return nil, fmt.Errorf("feature_key must be set")
	}
	log.Debug().Str("module", "config").Str("signal_url", cfg.SignalURL).Str("quota_url", cfg.QuotaURL).Msg("peer config")
	return &cfg, nil
}
