package main

import (
	"log/slog"

	"github.com/roomwire/roomwire/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ROOMWIRE_ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: ROOMWIRE_MAX_MESSAGES_PER_SECOND is unset/0 (unlimited) while --mode=prod",
			"warning_code", "message_rate_unlimited_in_prod",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessageBytes <= 0 {
		logger.Warn("startup security warning: ROOMWIRE_MAX_MESSAGE_BYTES is unset/0 (no inbound message size limit)",
			"warning_code", "message_size_unlimited",
			"max_message_bytes", cfg.MaxMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: /webrtc/ice is unserving until the ICE configuration is fixed",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Info("no ICE servers configured; /webrtc/ice will return an empty list and clients will fall back to host candidates only")
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
