package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newInfoCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "info <url>",
		Short: "Describe a service, layer or table",
		Long: `Resolve the service type behind a URL and print its description.

FeatureServer and MapServer URLs list their layers, layer and table URLs
list their fields.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, cleanup, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			h, err := sess.Open(ctx, args[0], "")
			if err != nil {
				return err
			}
			if refresh {
				if h, err = sess.Refresh(ctx, h); err != nil {
					return err
				}
			}

			return renderInfo(os.Stdout, viper.GetString("output"), describe(h))
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the metadata cache")

	return cmd
}
