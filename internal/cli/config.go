package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/repute/internal/incident"
)

// policyView is the YAML rendering of the effective settings.
type policyView struct {
	Weights struct {
		Credibility float64 `yaml:"credibility"`
		Spread      float64 `yaml:"spread"`
		Context     float64 `yaml:"context"`
	} `yaml:"weights"`
	SimilarityThreshold  float64                   `yaml:"similarity_threshold"`
	ClusterWindow        string                    `yaml:"cluster_window"`
	AttentionThreshold   float64                   `yaml:"attention_threshold"`
	ReescalateThreshold  float64                   `yaml:"reescalate_threshold"`
	CorroborationSources int                       `yaml:"corroboration_sources"`
	QuietPeriod          string                    `yaml:"quiet_period"`
	ReopenWindow         string                    `yaml:"reopen_window"`
	AutoReopen           bool                      `yaml:"auto_reopen"`
	Credibility          incident.CredibilityTable `yaml:"credibility"`
	SeverityWeights      map[string]float64        `yaml:"severity_weights"`
}

func newConfigCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect reputectl configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective scoring and lifecycle policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := o.policy()
			if err != nil {
				return err
			}
			cred, err := o.credibility()
			if err != nil {
				return err
			}

			var view policyView
			view.Weights.Credibility = p.WeightCredibility
			view.Weights.Spread = p.WeightSpread
			view.Weights.Context = p.WeightContext
			view.SimilarityThreshold = p.SimilarityThreshold
			view.ClusterWindow = p.ClusterWindow.String()
			view.AttentionThreshold = p.AttentionThreshold
			view.ReescalateThreshold = p.ReescalateThreshold
			view.CorroborationSources = p.CorroborationSources
			view.QuietPeriod = p.QuietPeriod.String()
			view.ReopenWindow = p.ReopenWindow.String()
			view.AutoReopen = p.AutoReopen
			view.Credibility = cred
			view.SeverityWeights = p.SeverityWeights

			if f := o.v.ConfigFileUsed(); f != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n", f)
			}
			data, err := yaml.Marshal(view)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})
	return cmd
}
