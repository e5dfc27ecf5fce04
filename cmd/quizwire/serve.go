package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/quizwire/internal/app"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		listen  string
		admin   string
		name    string
		console bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host a game",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("admin") {
				cfg.AdminAddr = admin
			}

			ctx := cmd.Context()
			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			if console {
				if name == "" {
					name = cfg.UserName
				}
				if name == "" {
					name = "host"
				}
				c := app.NewConsole(name, os.Stdin, os.Stdout)
				if err := c.Attach(application.Host()); err != nil {
					return err
				}
				go c.Run(ctx)
			}

			logger.Info().Str("addr", cfg.ListenAddr).Msg("starting quizwire host")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("host exited with error")
				return err
			}
			logger.Info().Msg("host stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "peer listen address")
	cmd.Flags().StringVar(&admin, "admin", "", "control API address, empty disables it")
	cmd.Flags().BoolVar(&console, "console", false, "attach a console participant to stdin/stdout")
	cmd.Flags().StringVar(&name, "name", "", "console participant name")
	return cmd
}
