package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/zbxrelay/internal/format"
)

var checkTimeout time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe the Zabbix API, log in and list active problems",
	Long: `Check performs one availability probe, reads the API version, logs in,
fetches the current active problems and logs out again. Nothing is sent to
Telegram.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 30*time.Second, "overall timeout")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c, err := newComponents(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	if err := c.client.Probe(ctx); err != nil {
		return fmt.Errorf("zabbix API unreachable: %w", err)
	}
	fmt.Printf("API:      %s (reachable)\n", c.client.URL())

	if v, err := c.client.APIVersion(ctx); err == nil {
		fmt.Printf("Version:  %s\n", v)
	}

	if err := c.session.Authenticate(ctx); err != nil {
		return fmt.Errorf("login as %q failed: %w", cfg.Zabbix.User, err)
	}
	fmt.Printf("Login:    %s ok\n", cfg.Zabbix.User)
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.session.Logout(logoutCtx); err != nil {
			logger.Debug("logout failed", zap.Error(err))
		}
	}()

	if err := telegramConfig(cfg).Validate(); err != nil {
		fmt.Printf("Telegram: %v\n", err)
	} else {
		fmt.Println("Telegram: configured")
	}

	events := c.fetcher.FetchActiveProblems(ctx)
	fmt.Printf("\n%d active problem(s)\n\n", len(events))
	if len(events) == 0 {
		return nil
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tSEVERITY\tHOST\tSTARTED\tPROBLEM")
	for _, e := range events {
		started := "unknown"
		if !e.Clock.IsZero() {
			started = e.Clock.In(loc).Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\t%s\n",
			e.ID, format.Icon(e.Severity), e.Severity, e.Host, started, e.Name)
	}
	return w.Flush()
}
