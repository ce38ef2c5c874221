package cmd

import (
	"fmt"

	"atendigram/config"
	"atendigram/utils"

	"github.com/sirupsen/logrus"
)

// bootstrap loads the configuration, sets up logging and error reporting and
// connects the database.
func bootstrap() (*logrus.Logger, error) {
	if err := config.LoadConfig(configFile); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := config.AppConfig

	logger, err := utils.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	// LogEvent and LogError write through the standard logger
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.Level)

	if err := utils.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.WithError(err).Warn("Failed to initialize Sentry")
	}

	if err := config.ConnectDB(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return logger, nil
}
