package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/mnemo/internal/app"
	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/orchestrator"
)

func newTurnCmd() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "turn <message>",
		Short: "Run one turn and print the card",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			built, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(); err != nil {
					built.Logger.Warn("cleanup failed", zap.Error(err))
				}
			}()

			resp, err := built.Orchestrator.RunTurn(cmd.Context(), orchestrator.TurnRequest{
				SessionID: sessionID,
				Messages:  []artifact.Turn{{Role: artifact.RoleUser, Content: strings.Join(args, " ")}},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprintln(out, renderReply(resp.ReplyText))
			if resp.Artifact != nil {
				fmt.Fprintln(out, renderCard(resp.Artifact))
			}
			fmt.Fprintln(out, metaStyle.Render(fmt.Sprintf("session %s  record %s", resp.SessionID, resp.RecordID)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to continue (a new one is created when empty)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")
	return cmd
}
