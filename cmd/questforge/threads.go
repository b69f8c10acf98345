package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "Inspect and manage stored campaigns",
}

var threadsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the most recent campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			threads, err := a.svc.ListThreads(ctx)
			if err != nil {
				return err
			}
			if len(threads) == 0 {
				fmt.Println("No campaigns found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED\tPAUSED\tARCHIVED")
			for _, t := range threads {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n", t.ID, t.Name, t.CreatedAt.Format(time.RFC3339), t.Paused, t.IsArchived)
			}
			return w.Flush()
		})
	},
}

var threadsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the latest state of a campaign as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.svc.LatestState(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		})
	},
}

var threadsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Toggle the archived flag of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			archived, err := a.svc.ToggleArchived(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s archived=%t\n", args[0], archived)
			return nil
		})
	},
}

var threadsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a campaign and its checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.svc.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

// withApp builds the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runErr := fn(ctx, a)
	if err := a.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func init() {
	rootCmd.AddCommand(threadsCmd)
	threadsCmd.AddCommand(threadsLsCmd, threadsShowCmd, threadsArchiveCmd, threadsRmCmd)
}
