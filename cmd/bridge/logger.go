package main

import (
	"github.com/septivank/water-meter-bridge/internal/config"
	"github.com/septivank/water-meter-bridge/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
