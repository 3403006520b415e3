package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tonft-app/backend/internal/adapter"
	"github.com/tonft-app/backend/internal/storage"
	"github.com/tonft-app/backend/internal/worker"
)

func bonusesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bonuses",
		Short: "List unprocessed referral bonuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openPostgres(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			bonuses, err := storage.NewBonusRepository(db).ListUnprocessedBonuses(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list bonuses: %w", err)
			}

			total := decimal.Zero
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWALLET\tAMOUNT\tCONTRACT\tCREATED")
			for _, b := range bonuses {
				total = total.Add(b.Amount)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					b.ID, b.UserWallet, b.Amount.String(), b.ContractAddress, b.CreatedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d unprocessed bonus(es), total %s\n", len(bonuses), total.String())
			return nil
		},
	}
}

func settleCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Run one referral settlement cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			if cfg == nil {
				return fmt.Errorf("no config found in context")
			}

			db, err := openPostgres(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
			if err != nil {
				return fmt.Errorf("failed to connect to Redis: %w", err)
			}
			defer redisCache.Close()

			toncenter, err := adapter.NewToncenterClient(&cfg.Toncenter)
			if err != nil {
				return err
			}

			settlement, err := worker.NewSettlementWorker(&worker.SettlementWorkerConfig{
				Bonuses:       storage.NewBonusRepository(db),
				Canonicalizer: adapter.NewCachedCanonicalizer(toncenter, storage.NewAddressCache(redisCache, cfg.Cache.AddressTTL)),
				Disburser:     adapter.NewDisburserClient(&cfg.Disburser),
				Journal:       storage.NewSettlementJournal(redisCache, cfg.Settlement.JournalTTL),
				ReferralRate:  cfg.Settlement.ReferralRate,
				Memo:          cfg.Disburser.Memo,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := settlement.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("settlement cycle failed: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "abort the cycle after this long")
	return cmd
}
