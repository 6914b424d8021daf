package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/app"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/queue"
)

const drainTimeout = 2 * time.Minute

func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process pending jobs in the foreground until the queue drains",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app.App) error {
				if a.Pipeline == nil {
					return errors.New("pipeline unavailable: set AI_API_KEY and marketplace credentials")
				}
				if a.Queue.Stats().Pending == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Nothing to process.")
					return nil
				}

				events, cancel := a.Queue.Subscribe(256)
				defer cancel()
				printed := make(chan struct{})
				go func() {
					defer close(printed)
					printEvents(cmd.OutOrStdout(), events)
				}()

				a.Queue.Start()
				err := a.Queue.Wait(cmd.Context())
				if err != nil {
					// Interrupted: let the current job finish before exiting.
					a.Queue.Pause()
					fmt.Fprintln(cmd.ErrOrStderr(), "interrupted, finishing current job")
					ctx, stop := context.WithTimeout(context.Background(), drainTimeout)
					defer stop()
					if werr := a.Queue.Wait(ctx); werr != nil {
						return fmt.Errorf("worker still busy after %s: %w", drainTimeout, werr)
					}
				}
				cancel()
				<-printed

				s := a.Queue.Stats()
				fmt.Fprintf(cmd.OutOrStdout(), "done: %d completed, %d failed, %d pending\n",
					s.Completed, s.Failed, s.Pending)
				return nil
			})
		},
	}
}

func printEvents(out io.Writer, events <-chan queue.Event) {
	for e := range events {
		switch e.Type {
		case queue.EventJobStarted:
			fmt.Fprintf(out, "[%s] started\n", e.JobID)
		case queue.EventJobLog:
			fmt.Fprintf(out, "[%s] %s: %s\n", e.JobID, e.Level, e.Message)
		case queue.EventJobCompleted:
			listing := "-"
			if e.Job != nil {
				listing = deref(e.Job.ListingID)
			}
			fmt.Fprintf(out, "[%s] completed, listing %s\n", e.JobID, listing)
		case queue.EventJobError:
			fmt.Fprintf(out, "[%s] failed: %s\n", e.JobID, e.Message)
		}
	}
}
