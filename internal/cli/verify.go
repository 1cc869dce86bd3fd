package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/repute/internal/incident"
)

func newVerifyCmd(o *options) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "verify [incident-id...]",
		Short: "Verify the audit ledger hash chain of stored incidents",
		Long: `Verify recomputes every audit entry hash and checks that each entry links
to its predecessor. Any edited, removed or reordered entry fails verification.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass incident IDs or --all")
			}

			ctx := cmd.Context()
			store, release, err := o.store(ctx)
			if err != nil {
				return err
			}
			defer release()

			ids := args
			if all {
				incs, err := store.List(ctx, incident.ListFilter{})
				if err != nil {
					return fmt.Errorf("list incidents: %w", err)
				}
				for _, inc := range incs {
					ids = append(ids, inc.ID)
				}
			}

			engine, err := o.readEngine(store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, id := range ids {
				if err := engine.Verify(ctx, id); err != nil {
					failed++
					fmt.Fprintf(out, "%s\tFAIL\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s\tOK\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d incidents failed verification", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "verify every stored incident")
	return cmd
}
