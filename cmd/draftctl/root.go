package main

import (
	"github.com/spf13/cobra"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/app"
	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/config"
)

// NewRootCmd builds the draftctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "draftctl",
		Short:         "Queue photo folders and turn them into marketplace listing drafts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		AddCmd(),
		RunCmd(),
		ListCmd(),
		StatsCmd(),
		RetryCmd(),
		SkipCmd(),
		HoldCmd(),
		ReleaseCmd(),
		RemoveCmd(),
		ClearCmd(),
		PriceCmd(),
		TokenCmd(),
	)
	return root
}

// withApp loads the configuration, wires the application for the command's
// lifetime and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
