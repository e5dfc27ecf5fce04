package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/quizwire/internal/app"
)

func newJoinCmd(flags *rootFlags) *cobra.Command {
	var (
		host string
		port int
		name string
	)
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a hosted game",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.ConnectHost = host
			}
			if cmd.Flags().Changed("port") {
				cfg.ConnectPort = port
			}
			if cmd.Flags().Changed("name") {
				cfg.UserName = name
			}

			j, err := app.NewJoiner(cfg, os.Stdin, os.Stdout, logger)
			if err != nil {
				return err
			}
			return j.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "host address")
	cmd.Flags().IntVar(&port, "port", 0, "host port")
	cmd.Flags().StringVar(&name, "name", "", "user name")
	return cmd
}
