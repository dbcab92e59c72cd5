package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/HerbHall/zbxrelay/internal/zabbix"
)

var sendTestMessage string

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send a sample alert to the configured Telegram chat",
	RunE:  runSendTest,
}

func init() {
	sendTestCmd.Flags().StringVarP(&sendTestMessage, "message", "m", "", "raw HTML text to send instead of the sample alert")
	rootCmd.AddCommand(sendTestCmd)
}

func runSendTest(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}

	text := sendTestMessage
	if text == "" {
		sample := zabbix.NewEvent(0, zabbix.SeverityInformation,
			"zbxrelay test notification", "zbxrelay", time.Now())
		var ok bool
		if text, ok = c.formatter.Format([]zabbix.Event{sample}); !ok {
			return errors.New("sample message is shorter than format.min_length")
		}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Telegram.Timeout+5*time.Second)
	defer cancel()
	if err := c.notifier.Deliver(ctx, text); err != nil {
		return fmt.Errorf("send test message: %w", err)
	}
	fmt.Println("test message sent")
	return nil
}
