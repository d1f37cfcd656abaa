package cmd

import (
	"errors"

	"github.com/spf13/cobra"
)

func newDetailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detail KEY",
		Short: "Fetches one person's detail page and merges it into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := appInstance.Detail().Fetch(cmd.Context(), args[0])
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil
		},
	}
}
