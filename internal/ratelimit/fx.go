package ratelimit

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewWriteLimiter),
	fx.Invoke(announce),
)

func announce(limiter *WriteLimiter, log *zap.Logger) {
	if !limiter.Enabled() {
		log.Info("write rate limit disabled")
		return
	}
	log.Info("write rate limit enabled",
		zap.Float64("rate_per_second", limiter.rule.Rate),
		zap.Int("burst", limiter.rule.Burst),
	)
}
