package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/app"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

func AddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <folder>...",
		Short: "Queue one or more photo folders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				jobs, err := a.Queue.AddBatch(cmd.Context(), args)
				for _, j := range jobs {
					fmt.Fprintf(cmd.OutOrStdout(), "queued %s\t%s\n", j.ID, j.FolderName)
				}
				return err
			})
		},
	}
}

func ListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in creation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			var filter domain.JobStatus
			if status != "" {
				s, err := domain.ParseJobStatus(status)
				if err != nil {
					return err
				}
				filter = s
			}

			return withApp(cmd, func(a *app.App) error {
				var jobs []domain.Job
				for _, j := range a.Queue.Jobs() {
					if filter == "" || j.Status == filter {
						jobs = append(jobs, j)
					}
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
					return nil
				}
				return printJobs(cmd.OutOrStdout(), jobs)
			})
		},
	}
	cmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed, paused, skipped)")
	return cmd
}

func printJobs(out io.Writer, jobs []domain.Job) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFOLDER\tSTATUS\tATTEMPTS\tPRICE\tLISTING\tERROR")
	for _, j := range jobs {
		errText := ""
		if j.ErrorType != nil {
			errText = string(*j.ErrorType)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			j.ID, j.FolderName, j.Status, j.Attempts, j.MaxAttempts,
			deref(j.Price), deref(j.ListingID), errText)
	}
	return w.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				s := a.Queue.Stats()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintf(w, "pending\t%d\n", s.Pending)
				fmt.Fprintf(w, "processing\t%d\n", s.Processing)
				fmt.Fprintf(w, "completed\t%d\n", s.Completed)
				fmt.Fprintf(w, "failed\t%d\n", s.Failed)
				fmt.Fprintf(w, "paused\t%d\n", s.Paused)
				fmt.Fprintf(w, "skipped\t%d\n", s.Skipped)
				fmt.Fprintf(w, "total\t%d\n", s.Total)
				return w.Flush()
			})
		},
	}
}

func RetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id]",
		Short: "Reset failed jobs with attempts left (all, or one by id)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if len(args) == 1 {
					if !a.Queue.RetryJob(cmd.Context(), args[0]) {
						return fmt.Errorf("job %s is not eligible for retry", args[0])
					}
					fmt.Fprintf(cmd.OutOrStdout(), "job %s reset to pending\n", args[0])
					return nil
				}
				n, err := a.Queue.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) reset to pending\n", n)
				return nil
			})
		},
	}
}

func SkipCmd() *cobra.Command {
	return statusCmd("skip", "Mark a pending job skipped", "skipped",
		func(ctx context.Context, a *app.App, id string) error { return a.Queue.SkipJob(ctx, id) })
}

func HoldCmd() *cobra.Command {
	return statusCmd("hold", "Park a pending job so the worker passes over it", "held",
		func(ctx context.Context, a *app.App, id string) error { return a.Queue.HoldJob(ctx, id) })
}

func ReleaseCmd() *cobra.Command {
	return statusCmd("release", "Return a held job to pending", "released",
		func(ctx context.Context, a *app.App, id string) error { return a.Queue.ReleaseJob(ctx, id) })
}

func RemoveCmd() *cobra.Command {
	return statusCmd("remove", "Delete a pending, failed or skipped job", "removed",
		func(ctx context.Context, a *app.App, id string) error { return a.Queue.RemoveJob(ctx, id) })
}

func statusCmd(use, short, verb string, op func(ctx context.Context, a *app.App, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if err := op(cmd.Context(), a, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s %s\n", args[0], verb)
				return nil
			})
		},
	}
}

func ClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed and skipped jobs (--all: every job not processing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return withApp(cmd, func(a *app.App) error {
				remove := a.Queue.ClearCompleted
				if all {
					remove = a.Queue.ClearAll
				}
				n, err := remove(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) removed\n", n)
				return nil
			})
		},
	}
	cmd.Flags().Bool("all", false, "Remove every job except the one being processed")
	return cmd
}
