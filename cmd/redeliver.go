package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/backstage/services/gateway/internal/core"
	"example.com/backstage/services/gateway/internal/infrastructure"
)

var (
	redeliverLimit  int
	redeliverDryRun bool
	redeliverTarget string
)

var redeliverCmd = &cobra.Command{
	Use:   "redeliver",
	Short: "Re-injects unacknowledged commands through a running gateway",
	Long: `Reads commands from the journal that were sent but never acknowledged
and posts each one to the running gateway's ops API. The old journal rows
are marked redelivered; the relay journals the new attempts with fresh
command ids.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRedelivery()
	},
}

func init() {
	redeliverCmd.Flags().IntVar(&redeliverLimit, "limit", 100, "maximum number of commands to redeliver")
	redeliverCmd.Flags().BoolVar(&redeliverDryRun, "dry-run", false, "list candidates without redelivering")
	redeliverCmd.Flags().StringVar(&redeliverTarget, "target", "", "ops API base URL of the running gateway (default http://localhost:<ops.port>)")
	rootCmd.AddCommand(redeliverCmd)
}

func runRedelivery() error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for redelivery")
	}

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	journal := core.NewCommandStore(db.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	records, err := journal.ListUnacknowledged(ctx, redeliverLimit)
	if err != nil {
		return fmt.Errorf("failed to list unacknowledged commands: %w", err)
	}
	if len(records) == 0 {
		logger.Info("No unacknowledged commands found")
		return nil
	}
	logger.WithField("count", len(records)).Info("Found unacknowledged commands")

	if redeliverDryRun {
		for _, rec := range records {
			logger.WithFields(logrus.Fields{
				"command_id": rec.CommandID,
				"device_id":  rec.DeviceID,
				"sent_at":    rec.SentAt,
			}).Info("Would redeliver")
		}
		return nil
	}

	target := redeliverTarget
	if target == "" {
		target = fmt.Sprintf("http://localhost:%d", cfg.Ops.Port)
	}
	client := &http.Client{Timeout: 10 * time.Second}

	redelivered := 0
	for _, rec := range records {
		req := core.CommandRequest{
			Device:        rec.DeviceID,
			Command:       json.RawMessage(rec.Payload),
			CorrelationID: rec.CorrelationID,
		}
		if err := postCommand(ctx, client, target, req); err != nil {
			logger.WithError(err).WithField("command_id", rec.CommandID).Error("Redelivery failed")
			continue
		}
		if err := journal.MarkRedelivered(ctx, rec.CommandID); err != nil {
			logger.WithError(err).WithField("command_id", rec.CommandID).Error("Failed to mark command redelivered")
			continue
		}
		redelivered++
	}

	logger.WithFields(logrus.Fields{
		"redelivered": redelivered,
		"total":       len(records),
	}).Info("Redelivery complete")
	return nil
}

func postCommand(ctx context.Context, client *http.Client, target string, cmd core.CommandRequest) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target+"/api/v1/commands", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned %s", resp.Status)
	}
	return nil
}
