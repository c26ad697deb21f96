package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/followup/internal/artifacts"
	"github.com/pbaille/followup/internal/ingest"
)

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Ingest a payload file (legacy, API or canonical shape, single or array)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 0 || args[0] == "-" {
				data, err = io.ReadAll(os.Stdin)
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			events, err := ingest.Decoder{OwnerProfileID: cfg.OwnerID}.Decode(data)
			if err != nil {
				return err
			}

			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			for i, ev := range events {
				ack, err := rt.engine.Ingest(context.Background(), ev)
				switch {
				case err != nil:
					fmt.Printf("%d: rejected: %v\n", i, err)
				case ack.Dropped:
					fmt.Printf("%d: dropped (own profile)\n", i)
				case ack.Created:
					fmt.Printf("%d: created %s\n", i, ack.ID)
				case ack.Consolidated:
					fmt.Printf("%d: consolidated into %s\n", i, ack.ID)
				default:
					fmt.Printf("%d: updated %s\n", i, ack.ID)
				}
			}
			// Owner-sent events start analyses; let them finish before exiting.
			rt.engine.Wait()
			return nil
		},
	}
}

func dismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss [conversation-id]",
		Short: "Dismiss a conversation until you write again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.engine.DismissConversation(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Dismissed %s\n", args[0])
			return nil
		},
	}
}

func dismissReminderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss-reminder [reminder-id]",
		Short: "Mark a reminder done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			id, err := resolveReminderID(rt, args[0])
			if err != nil {
				return err
			}
			if err := rt.engine.DismissReminder(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Reminder %s done\n", id[:8])
			return nil
		},
	}
}

// resolveReminderID expands an id prefix, as printed by 'reminders'.
func resolveReminderID(rt *app, prefix string) (string, error) {
	reminders, err := rt.engine.Reminders(context.Background())
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range reminders {
		if strings.HasPrefix(r.ID, prefix) {
			matches = append(matches, r.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("reminder not found: %s", prefix)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("ambiguous reminder id %s", prefix)
}

func remindCmd() *cobra.Command {
	var due string

	cmd := &cobra.Command{
		Use:   "remind [conversation-id] [text]",
		Short: "Add a manual reminder to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate := artifacts.ParseDueDate(due)
			if due != "" && dueDate == nil {
				return fmt.Errorf("invalid --due %q: use YYYY-MM-DD or RFC 3339", due)
			}

			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			r, err := rt.engine.AddManualReminder(context.Background(), args[0], strings.Join(args[1:], " "), dueDate)
			if err != nil {
				return err
			}
			fmt.Printf("Added reminder: %s\n", r.ID[:8])
			return nil
		},
	}

	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
	return cmd
}

func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read [notification-id]",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
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
			id := args[0]
			for _, n := range notifications {
				if strings.HasPrefix(n.ID, args[0]) {
					id = n.ID
					break
				}
			}
			if err := rt.engine.MarkNotificationRead(context.Background(), id); err != nil {
				return err
			}
			fmt.Println("Notification cleared")
			return nil
		},
	}
}

func reanalyzeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reanalyze [conversation-id]",
		Short: "Force an analysis, ignoring the silence window",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give a conversation id or --all")
			}

			rt, err := getApp(nil, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			if !all {
				outcome, err := rt.engine.Reanalyze(context.Background(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", args[0], outcome)
				return nil
			}

			outcomes, err := rt.engine.ReanalyzeAll(context.Background())
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(outcomes))
			for id := range outcomes {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Printf("%s: %s\n", id, outcomes[id])
			}
			if len(ids) == 0 {
				fmt.Println("Nothing to analyze.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "every conversation waiting on a reply")
	return cmd
}
