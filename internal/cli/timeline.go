package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newTimelineCmd(o *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "timeline <incident-id>",
		Short: "Print the audit trail of a stored incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, release, err := o.store(ctx)
			if err != nil {
				return err
			}
			defer release()

			engine, err := o.readEngine(store)
			if err != nil {
				return err
			}
			entries, err := engine.Timeline(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			return printTimeline(cmd.OutOrStdout(), entries)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
