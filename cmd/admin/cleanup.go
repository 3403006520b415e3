package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/storage"
)

// ParseIDList parses a comma separated list of order ids. Blank entries are ignored.
func ParseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid order id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no order ids given")
	}
	return ids, nil
}

func cleanupCommand() *cobra.Command {
	var (
		nftItem string
		idList  string
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orders by NFT item address or by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (nftItem == "") == (idList == "") {
				return fmt.Errorf("exactly one of --nft or --ids is required")
			}

			var ids []int64
			if idList != "" {
				parsed, err := ParseIDList(idList)
				if err != nil {
					return err
				}
				ids = parsed
			}

			db, err := openPostgres(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			orders := storage.NewOrderRepository(db)

			var removed int64
			if nftItem != "" {
				removed, err = orders.DeleteByNFT(cmd.Context(), nftItem)
			} else {
				removed, err = orders.DeleteByIDs(cmd.Context(), ids)
			}
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}

			logging.WithFields(map[string]interface{}{
				"nftItem": nftItem,
				"ids":     ids,
				"removed": removed,
			}).Info("Orders removed")
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d order(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&nftItem, "nft", "", "remove every order of this NFT item address")
	cmd.Flags().StringVar(&idList, "ids", "", "remove orders by comma separated ids")
	return cmd
}
