package sequencer

import (
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/couture/internal/config"
)

// New picks the Redis-backed sequencer when an address is configured and the
// in-process one otherwise.
func New(cfg config.Config, log *zap.Logger) Sequencer {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		log.Info("sequencer: no redis configured, using in-process locks")
		return NewLocal(cfg.SequencerAcquireTimeout)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
	log.Info("sequencer: using redis locks", zap.String("addr", addr))
	return NewRedis(client, cfg.SequencerLockTTL, cfg.SequencerAcquireTimeout)
}

// Module wires the per-tenant sequencer.
var Module = fx.Module("billing.sequencer",
	fx.Provide(New),
)
