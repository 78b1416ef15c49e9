package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/storage"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect cached turn records",
	}
	cmd.AddCommand(newCacheSessionsCmd(), newCacheRecordsCmd())
	return cmd
}

// openStorage builds a storage manager from config alone; the cache
// commands need no providers or session state.
func openStorage() (*storage.Manager, storage.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, storage.Config{}, err
	}
	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, storage.Config{}, err
	}
	sc := storage.FromConfig(cfg.Storage)
	return storage.NewManager(sc, storage.WithLogger(logger)), sc, nil
}

func newCacheSessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions with cached records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, sc, err := openStorage()
			if err != nil {
				return err
			}
			defer m.Close()

			ids, err := m.SessionIDs(cmd.Context(), sc, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, metaStyle.Render("no cached sessions"))
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d sessions", len(ids))))
			for _, id := range ids {
				fmt.Fprintln(out, "  "+idStyle.Render(id))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum sessions to list (0 = all)")
	return cmd
}

func newCacheRecordsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "records <session-id>",
		Short: "Show the newest cached records of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > 50 {
				return fmt.Errorf("--limit must be between 1 and 50")
			}
			m, sc, err := openStorage()
			if err != nil {
				return err
			}
			defer m.Close()

			recs, err := m.Records(cmd.Context(), sc, args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			if len(recs) == 0 {
				return fmt.Errorf("no cached records for session %s", args[0])
			}
			for _, rec := range recs {
				fmt.Fprintln(out, renderRecord(rec))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of records (1-50)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}
