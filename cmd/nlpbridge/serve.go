package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/keepmind9/nlpbridge/internal/connector"
	"github.com/keepmind9/nlpbridge/internal/core"
	"github.com/keepmind9/nlpbridge/internal/logger"
	"github.com/keepmind9/nlpbridge/internal/nlp"
	"github.com/keepmind9/nlpbridge/pkg/constants"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultEnvFile = ".env"

var (
	serveConfigFile string
	serveEnvFile    string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge",
		Long:  "Start the enabled connectors and answer inbound messages with the configured NLP processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env never overrides the process environment
			err := godotenv.Load(serveEnvFile)
			if err != nil && !(serveEnvFile == defaultEnvFile && errors.Is(err, fs.ErrNotExist)) {
				return fmt.Errorf("failed to load env file: %w", err)
			}

			config, source, err := loadServeConfig(serveConfigFile)
			if err != nil {
				return err
			}

			if err := logger.InitLogger(loggerConfig(config.Logging)); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger.WithFields(logrus.Fields{
				"config_file": source,
				"log_level":   config.Logging.Level,
				"log_file":    config.Logging.File,
			}).Info("logger-initialized")

			container, err := buildContainer(config, logger.GetLogger())
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 2)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			return serve(cmd.Context(), container, sigChan, constants.DefaultShutdownTimeout)
		},
	}
)

// loadServeConfig loads the given config file, falling back to the default
// locations and then to the built-in defaults
func loadServeConfig(path string) (*core.Config, string, error) {
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return core.DefaultConfig(), "built-in defaults", nil
	}

	config, err := core.LoadConfig(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	return config, path, nil
}

func loggerConfig(cfg core.LoggingConfig) logger.Config {
	return logger.Config{
		Level:        cfg.Level,
		File:         cfg.File,
		MaxSize:      cfg.MaxSize,
		MaxBackups:   cfg.MaxBackups,
		MaxAge:       cfg.MaxAge,
		Compress:     cfg.Compress,
		EnableStdout: cfg.EnableStdout == nil || *cfg.EnableStdout,
	}
}

// buildContainer creates the host container, applies the connector settings
// from config and registers every enabled connector
func buildContainer(config *core.Config, log logrus.FieldLogger) (*core.Container, error) {
	processor, err := nlp.New(config.NLP)
	if err != nil {
		return nil, fmt.Errorf("failed to create nlp processor: %w", err)
	}

	container := core.NewContainer(config.AppName, log, processor)

	for _, name := range config.EnabledConnectors() {
		connectorConfig, err := config.GetConnectorConfig(name)
		if err != nil {
			return nil, err
		}

		// Registered before the connector's own defaults, which never overwrite
		if settings, ok := connectorConfig.Settings(name); ok {
			container.Registry().RegisterConfiguration(name, settings, true)
		}

		c, err := newConnector(container, name, connectorConfig)
		if err != nil {
			return nil, err
		}
		if err := container.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register connector %s: %w", name, err)
		}

		log.WithField("connector", name).Info("connector-registered")
	}

	return container, nil
}

func newConnector(host connector.Host, name string, cfg core.ConnectorConfig) (core.Connector, error) {
	switch name {
	case constants.TelegramConnectorName:
		return connector.NewTelegramConnector(host, cfg.Token), nil
	case constants.DiscordConnectorName:
		return connector.NewDiscordConnector(host, cfg.Token), nil
	case constants.FeishuConnectorName:
		return connector.NewFeishuConnector(host, connector.FeishuCredentials{
			AppID:             cfg.AppID,
			AppSecret:         cfg.AppSecret,
			EncryptKey:        cfg.EncryptKey,
			VerificationToken: cfg.VerificationToken,
		}), nil
	case constants.DingTalkConnectorName:
		return connector.NewDingTalkConnector(host, cfg.ClientID, cfg.ClientSecret), nil
	default:
		return nil, fmt.Errorf("unknown connector '%s'", name)
	}
}

// bridge is the part of core.Container serve drives
type bridge interface {
	Start(ctx context.Context) error
	Stop() error
	Exit()
	Logger() logrus.FieldLogger
}

// serve starts the container and blocks until a signal arrives or ctx is
// done, then stops it. A second signal during shutdown exits the process.
func serve(ctx context.Context, b bridge, signals <-chan os.Signal, shutdownTimeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.Start(ctx); err != nil {
		return err
	}
	b.Logger().Info("nlpbridge-started")

	select {
	case sig := <-signals:
		b.Logger().WithField("signal", sig.String()).Info("received-signal-shutting-down")
	case <-ctx.Done():
		b.Logger().Info("context-done-shutting-down")
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			b.Logger().WithField("error", err).Error("error-during-shutdown")
			return err
		}
	case sig := <-signals:
		b.Logger().WithField("signal", sig.String()).Warn("received-second-signal-exiting")
		b.Exit()
	case <-time.After(shutdownTimeout):
		b.Logger().WithField("timeout", shutdownTimeout).Warn("shutdown-timed-out")
	}

	b.Logger().Info("nlpbridge-stopped")
	return nil
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Configuration file path (default: built-in defaults)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", defaultEnvFile, "Environment file loaded before the config")
}
