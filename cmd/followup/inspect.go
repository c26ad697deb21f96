package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pbaille/followup/internal/domain"
)

func listCmd() *cobra.Command {
	var needsAction bool
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			convs, err := rt.engine.Conversations(context.Background(), needsAction)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet. Use 'followup ingest' or 'followup serve'.")
				return nil
			}
			if limit > 0 && len(convs) > limit {
				convs = convs[:limit]
			}

			for _, c := range convs {
				marker := " "
				if c.NeedsAction {
					marker = "!"
				}
				who := c.DisplayName
				if c.LastMessageSentByOwner {
					who = "you"
				}
				fmt.Printf("%s %-24s %-20s %-14s %s: %s\n",
					marker, truncate(c.ID, 24), truncate(c.DisplayName, 20),
					humanize.Time(c.LastMessageTimestamp), truncate(who, 12), truncate(c.LastMessageText, 50))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&needsAction, "needs-action", false, "only conversations that need a follow-up")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of conversations to show")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show conversation details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			c, err := rt.engine.Conversation(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("ID:       %s\n", c.ID)
			if len(c.AlternateIDs) > 0 {
				fmt.Printf("Also:     %s\n", strings.Join(c.AlternateIDs, ", "))
			}
			fmt.Printf("Name:     %s\n", c.DisplayName)
			if c.Headline != "" {
				fmt.Printf("Headline: %s\n", c.Headline)
			}
			if c.URL != "" {
				fmt.Printf("URL:      %s\n", c.URL)
			}
			fmt.Printf("Status:   %s (needs action: %v)\n", c.Status, c.NeedsAction)
			fmt.Printf("Last:     %s (%s)\n", truncate(c.LastMessageText, 70), humanize.Time(c.LastMessageTimestamp))
			if c.LastAnalyzedAt != nil {
				fmt.Printf("Analyzed: %s\n", humanize.Time(*c.LastAnalyzedAt))
			}
			if a := c.Analysis; a != nil {
				fmt.Printf("\nAnalysis: %s %s (%d%%) %s\n", a.Decision, a.Category, a.Confidence, a.Reason)
				if a.SampleMessage != "" {
					fmt.Printf("Draft:    %s\n", a.SampleMessage)
				}
			}

			if len(c.History) > 0 {
				fmt.Printf("\nHistory (%d):\n", len(c.History))
				for _, m := range c.History {
					fmt.Printf("  %s  %-16s %s\n", m.Timestamp.Format("2006-01-02 15:04"), truncate(m.Sender, 16), truncate(m.Text, 70))
				}
			}
			return nil
		},
	}
}

func remindersCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			reminders, err := rt.engine.Reminders(context.Background())
			if err != nil {
				return err
			}

			shown := 0
			for _, r := range reminders {
				if !all && r.Status == domain.ReminderDone {
					continue
				}
				due := "no due date"
				if r.DueDate != nil {
					due = "due " + humanize.Time(*r.DueDate)
				}
				fmt.Printf("%s  %-9s %-6s %-20s %s (%s)\n", r.ID[:8], r.Status, r.Source, truncate(r.ConversationID, 20), truncate(r.Text, 50), due)
				shown++
			}
			if shown == 0 {
				fmt.Println("No reminders.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include done reminders")
	return cmd
}

func notificationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "List unread notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			notifications, err := rt.engine.Notifications(context.Background())
			if err != nil {
				return err
			}
			if len(notifications) == 0 {
				fmt.Println("No notifications.")
				return nil
			}
			for _, n := range notifications {
				fmt.Printf("%s  %-12s %-20s %s: %s (%s)\n", n.ID[:8], n.Category, truncate(n.Snapshot.DisplayName, 20),
					truncate(n.Reason, 40), truncate(n.Message, 50), humanize.Time(n.CreatedAt))
			}
			return nil
		},
	}
}

func logsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent analysis log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			logs, err := rt.engine.AnalysisLogs(context.Background())
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println("No analyses yet.")
				return nil
			}
			if limit > 0 && len(logs) > limit {
				logs = logs[:limit]
			}
			for _, l := range logs {
				fmt.Printf("%-14s %-20s %-3s %3d%%  %-16s %5dms  %s\n", humanize.Time(l.Timestamp), truncate(l.ConversationName, 20),
					l.Decision, l.Confidence, l.TriggerReason, l.ProcessingTimeMs, truncate(l.Reason, 50))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			st, err := rt.engine.Status(context.Background())
			if err != nil {
				return err
			}
			busy, err := rt.store.IsAnalyzing(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("Store:             %s\n", cfg.Store)
			fmt.Printf("Analyzer:          %s (enabled: %v)\n", cfg.Provider, cfg.AnalysisEnabled())
			fmt.Printf("Analyzing:         %v\n", busy)
			fmt.Printf("Conversations:     %s\n", humanize.Comma(int64(st.Conversations)))
			fmt.Printf("Needs action:      %d\n", st.NeedsAction)
			fmt.Printf("Pending reminders: %d\n", st.PendingReminders)
			fmt.Printf("Notifications:     %d\n", st.Badge)
			return nil
		},
	}
}
