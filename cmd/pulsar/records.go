package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-ric/internal/config"
	"github.com/oriys/nova-ric/internal/logsink"
	"github.com/oriys/nova-ric/internal/output"
)

var errNoRecordStore = errors.New("no record store configured (set PULSAR_RECORDS_DSN or PULSAR_RECORDS_REDIS)")

func recordsCmd() *cobra.Command {
	var (
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "records",
		Short: "List recent invocation records from the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			reader, closeFn, err := openRecordReader(ctx, cfg.Log)
			if err != nil {
				return err
			}
			defer closeFn()

			recs, err := reader.Recent(ctx, limit)
			if err != nil {
				return err
			}
			return output.NewPrinter(output.ParseFormat(format), cmd.OutOrStdout()).PrintRecords(recs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json or yaml")
	return cmd
}

// openRecordReader prefers PostgreSQL, which keeps the full history, over
// the capped Redis list.
func openRecordReader(ctx context.Context, cfg config.LogConfig) (logsink.RecentReader, func(), error) {
	switch {
	case cfg.RecordsDSN != "":
		s, err := logsink.NewPostgresSink(ctx, cfg.RecordsDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case cfg.RecordsRedis != "":
		s, err := logsink.NewRedisSink(ctx, cfg.RecordsRedis, "", 0, cfg.RecordsKey, cfg.RecordsCap)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, errNoRecordStore
	}
}
