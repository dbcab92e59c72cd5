package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/zbxrelay/internal/config"
	"github.com/HerbHall/zbxrelay/internal/format"
	"github.com/HerbHall/zbxrelay/internal/telegram"
	"github.com/HerbHall/zbxrelay/internal/zabbix"
)

var configPath string

// rootCmd runs the relay when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "zbxrelay",
	Short: "Relay new Zabbix problems to Telegram",
	Long: `zbxrelay polls the Zabbix JSON-RPC API for active problems and sends
each newly observed problem to a Telegram chat exactly once.

Settings come from zbxrelay.yaml, ZBXRELAY_* environment variables and the
legacy ZABBIX_URL, ZABBIX_USER, ZABBIX_PASSWORD, TELEGRAM_TOKEN,
TELEGRAM_CHAT_ID, POLL_INTERVAL and STARTUP_DELAY variables.

Examples:
  # Run the relay
  zbxrelay

  # Check connectivity and list current problems
  zbxrelay check

  # Send a sample alert to the configured chat
  zbxrelay send-test`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRelay,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
}

// setup loads configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, logger, nil
}

// components are the Zabbix and Telegram collaborators shared by the
// commands.
type components struct {
	client    *zabbix.Client
	session   *zabbix.Session
	fetcher   *zabbix.Fetcher
	formatter *format.Formatter
	notifier  *telegram.Notifier
}

func newComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	var opts []zabbix.Option
	if cfg.Zabbix.BearerAuth {
		opts = append(opts, zabbix.WithBearerAuth())
	}
	zlog := logger.Named("zabbix")
	client := zabbix.NewClient(cfg.Zabbix.URL, cfg.Zabbix.Timeout, zlog, opts...)
	session := zabbix.NewSession(client, cfg.Zabbix.User, cfg.Zabbix.Password, zlog)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &components{
		client:  client,
		session: session,
		fetcher: zabbix.NewFetcher(client, session, cfg.Zabbix.ProblemLimit, zlog),
		formatter: format.New(format.Config{
			Title:     cfg.Format.Title,
			Location:  loc,
			MinLength: cfg.Format.MinLength,
		}),
		notifier: telegram.NewNotifier(telegram.Config{
			Token:         cfg.Telegram.Token,
			ChatID:        cfg.Telegram.ChatID,
			APIURL:        cfg.Telegram.APIURL,
			Timeout:       cfg.Telegram.Timeout,
			MinLength:     cfg.Telegram.MinLength,
			RatePerSecond: cfg.Telegram.RatePerSecond,
		}, logger.Named("telegram")),
	}, nil
}

func telegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{Token: cfg.Telegram.Token, ChatID: cfg.Telegram.ChatID}
}
