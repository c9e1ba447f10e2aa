package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore-ai/agentcore/internal/provider"
	"github.com/agentcore-ai/agentcore/pkg/types"
)

var (
	listUser   string
	listStatus string
	listLimit  int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, provider.NewScripted(provider.Reply("")))
		if err != nil {
			return err
		}
		defer a.Close()

		var status *types.SessionStatus
		if listStatus != "" {
			s := types.SessionStatus(listStatus)
			if !s.Valid() {
				return fmt.Errorf("unknown status %q", listStatus)
			}
			status = &s
		}

		sessions, err := a.svc.List(cmd.Context(), listUser, status, listLimit, 0)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			created := time.UnixMilli(s.Time.Created).Format(time.RFC3339)
			fmt.Printf("%s  %-9s  %s  %s\n", s.ID, s.Status, created, s.Title)
		}
		return nil
	},
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, provider.NewScripted(provider.Reply("")))
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.svc.End(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", s.ID, s.Status)
		return nil
	},
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge <session-id>",
	Short: "Physically remove an ended session and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, provider.NewScripted(provider.Reply("")))
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.svc.Purge(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("purged %s\n", args[0])
		return nil
	},
}

var sessionsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire sessions past their deadline",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cfg, provider.NewScripted(provider.Reply("")))
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.svc.SweepExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("expired %d session(s)\n", n)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().StringVar(&listUser, "user", "", "User ID to list sessions for")
	sessionsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	sessionsListCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum sessions to list")
	sessionsListCmd.MarkFlagRequired("user")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsEndCmd)
	sessionsCmd.AddCommand(sessionsPurgeCmd)
	sessionsCmd.AddCommand(sessionsSweepCmd)
}
