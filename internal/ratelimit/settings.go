package ratelimit

import (
	"strings"

	"github.com/leveranciersportal/portalsync/internal/config"
)

// Settings captures the limiter configuration.
type Settings struct {
	Limit        int
	RedisEnabled bool
	RedisPrefix  string
}

// SettingsFromConfig derives limiter settings from the portal config.
// Redis is only used when it is both enabled and addressed.
func SettingsFromConfig(cfg config.PortalConfig) Settings {
	out := Settings{
		Limit:        cfg.RateLimit.Limit,
		RedisEnabled: cfg.RateLimit.RedisEnabled && strings.TrimSpace(cfg.Redis.Addr) != "",
		RedisPrefix:  strings.TrimSpace(cfg.Redis.Prefix),
	}
	if out.Limit < 0 {
		out.Limit = 0
	}
	if out.RedisPrefix == "" {
		out.RedisPrefix = config.DefaultRedisPrefix
	}
	out.RedisPrefix += ":rl"
	return out
}
