// Package cli implements the reputectl command line tool.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/linnemanlabs/repute/internal/incident"
	"github.com/linnemanlabs/repute/internal/incident/pgstore"
	"github.com/linnemanlabs/repute/internal/postgres"
)

const appName = "reputectl"

// StoreOpener returns the incident store used by commands that read persisted
// incidents, and a func that releases it.
type StoreOpener func(ctx context.Context, databaseURL string) (incident.Store, func(), error)

type options struct {
	v         *viper.Viper
	cfgFile   string
	verbose   bool
	openStore StoreOpener
}

// Option customizes the root command.
type Option func(*options)

// WithStoreOpener replaces the default postgres store.
func WithStoreOpener(fn StoreOpener) Option {
	return func(o *options) { o.openStore = fn }
}

// NewRootCmd builds the reputectl command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	o := &options{
		v:         viper.New(),
		openStore: openPostgres,
	}
	for _, opt := range opts {
		opt(o)
	}

	root := &cobra.Command{
		Use:   appName,
		Short: "Inspect and replay reputation incidents",
		Long: `reputectl works with the incident store used by the repute server.

It can replay recorded mention streams through the scoring engine offline,
verify the tamper-evident audit ledger of stored incidents, and print an
incident's timeline.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (REPUTECTL_*)
3. Config file (--config)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return o.initConfig()
		},
	}

	def := incident.DefaultPolicy()
	pf := root.PersistentFlags()
	pf.StringVar(&o.cfgFile, "config", "", "config file (yaml)")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "log engine activity to stderr")
	pf.String("database-url", "", "PostgreSQL connection URL")
	pf.String("credibility-file", "", "YAML credibility table (empty = built-in weights)")
	pf.Float64("similarity-threshold", def.SimilarityThreshold, "minimum similarity for a mention to join an incident")
	pf.Float64("attention-threshold", def.AttentionThreshold, "risk score that escalates an open incident")
	pf.Float64("reescalate-threshold", def.ReescalateThreshold, "risk score that sends a responded incident back to monitoring")
	pf.Int("corroboration-sources", def.CorroborationSources, "distinct sources that escalate an open incident")
	pf.Duration("quiet-period", def.QuietPeriod, "time without mentions after which responded incidents close")
	pf.Duration("reopen-window", def.ReopenWindow, "how long a closed incident can still be reopened")
	pf.Bool("auto-reopen", def.AutoReopen, "reopen closed incidents on hot new mentions")
	_ = o.v.BindPFlags(pf)

	root.AddCommand(
		newReplayCmd(o),
		newVerifyCmd(o),
		newTimelineCmd(o),
		newConfigCmd(o),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *options) initConfig() error {
	o.v.SetEnvPrefix("REPUTECTL")
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	if o.cfgFile == "" {
		return nil
	}
	o.v.SetConfigFile(o.cfgFile)
	if err := o.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", o.cfgFile, err)
	}
	if o.verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", o.v.ConfigFileUsed())
	}
	return nil
}

// policy returns the default policy with configured overrides applied.
func (o *options) policy() (incident.Policy, error) {
	p := incident.DefaultPolicy()
	p.SimilarityThreshold = o.v.GetFloat64("similarity-threshold")
	p.AttentionThreshold = o.v.GetFloat64("attention-threshold")
	p.ReescalateThreshold = o.v.GetFloat64("reescalate-threshold")
	p.CorroborationSources = o.v.GetInt("corroboration-sources")
	p.QuietPeriod = o.v.GetDuration("quiet-period")
	p.ReopenWindow = o.v.GetDuration("reopen-window")
	p.AutoReopen = o.v.GetBool("auto-reopen")
	if err := p.Validate(); err != nil {
		return incident.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func (o *options) credibility() (incident.CredibilityTable, error) {
	path := o.v.GetString("credibility-file")
	if path == "" {
		return incident.DefaultCredibilityTable(), nil
	}
	return incident.LoadCredibilityTable(path)
}

func (o *options) logger() (log.Logger, error) {
	if !o.verbose {
		return log.Nop(), nil
	}
	var lc log.Config
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	lc.RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		return nil, err
	}
	return log.New(lc.ToOptions(appName))
}

// store opens the configured store for read commands.
func (o *options) store(ctx context.Context) (incident.Store, func(), error) {
	return o.openStore(ctx, o.v.GetString("database-url"))
}

func openPostgres(ctx context.Context, databaseURL string) (incident.Store, func(), error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("--database-url (or REPUTECTL_DATABASE_URL) is required")
	}
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	s, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgstore init: %w", err)
	}
	return s, pool.Close, nil
}

// readEngine wraps store for commands that only read incidents.
func (o *options) readEngine(store incident.Store) (*incident.Engine, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return incident.NewEngine(store, incident.EngineConfig{
		Policy:      incident.DefaultPolicy(),
		Credibility: incident.DefaultCredibilityTable(),
	}, logger, incident.EngineHooks{}), nil
}
