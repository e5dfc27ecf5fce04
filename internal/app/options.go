package app

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vovakirdan/quizwire/internal/config"
	"github.com/vovakirdan/quizwire/internal/core"
	"github.com/vovakirdan/quizwire/internal/log"
	"github.com/vovakirdan/quizwire/internal/store"
	"github.com/vovakirdan/quizwire/internal/transport/tcp"
	"github.com/vovakirdan/quizwire/internal/transport/ws"
)

func nodeOptions(cfg *config.Config, bans store.BanStore, logger *zerolog.Logger) core.Options {
	return core.Options{
		MaxChatLength:   cfg.MaxChatLength,
		DisposeTimeout:  cfg.DisposeTimeout,
		RefuseGrace:     cfg.RefuseGrace,
		KickBanDuration: cfg.KickBanDuration,
		Localizer:       core.NewLocalizer(cfg.Language),
		Logger:          logger,
		BanStore:        bans,
	}
}

func connOptions(cfg *config.Config, logger *zerolog.Logger) tcp.Options {
	opts := tcp.Options{
		Keepalive:         cfg.Keepalive,
		KeepaliveInterval: cfg.KeepaliveInterval,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		RateLimit:         rate.Limit(cfg.RateLimitPerSecond),
		RateBurst:         cfg.RateLimitBurst,
		Logger:            logger,
	}
	// A nil *FrameSink must not end up in the interface.
	if frames := log.NewFrameSink(logger); frames != nil {
		opts.FrameSink = frames
	}
	return opts
}

func wsOptions(cfg *config.Config, logger *zerolog.Logger) ws.Options {
	return ws.Options{
		WriteTimeout:  cfg.WriteTimeout,
		MaxFrameBytes: int64(cfg.MaxFrameBytes),
		RateLimit:     rate.Limit(cfg.RateLimitPerSecond),
		RateBurst:     cfg.RateLimitBurst,
		Logger:        logger,
	}
}
