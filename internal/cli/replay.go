package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/repute/internal/incident"
	"github.com/linnemanlabs/repute/internal/incident/memstore"
	"github.com/linnemanlabs/repute/internal/source"
)

// maxLine bounds a single recorded mention.
const maxLine = 1 << 20

// record is one line of a mention stream.
type record struct {
	Kind    incident.SourceKind `json:"kind"`
	Payload json.RawMessage     `json:"payload"`
}

// ReplayResult summarizes a replay run.
type ReplayResult struct {
	Ingested  int                  `json:"ingested"`
	Skipped   int                  `json:"skipped"`
	Swept     int                  `json:"swept"`
	Incidents []*incident.Incident `json:"incidents"`
}

// replayClock follows the recorded mention timestamps so lifecycle timing
// matches the original stream. It never moves backwards.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

func newReplayCmd(o *options) *cobra.Command {
	var (
		asJSON bool
		strict bool
		sweep  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <file.jsonl>",
		Short: "Replay a recorded mention stream through the engine",
		Long: `Replay reads one mention per line and ingests it into an in-memory store
with the configured policy. Each line is an object with the source kind and
its payload, for example:

  {"kind":"social","payload":{"platform":"twitter","author":"alice","text":"...","posted_at":"2026-03-01T12:00:00Z"}}

The engine clock follows the recorded timestamps. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			res, err := o.replay(cmd.Context(), in, cmd.ErrOrStderr(), strict, sweep)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return printReplay(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print incidents as JSON")
	cmd.Flags().BoolVar(&strict, "strict", false, "stop at the first line that cannot be ingested")
	cmd.Flags().DurationVar(&sweep, "sweep-after", 0, "advance the clock by this much after the last mention and close quiet incidents")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func (o *options) replay(ctx context.Context, in io.Reader, warn io.Writer, strict bool, sweep time.Duration) (*ReplayResult, error) {
	policy, err := o.policy()
	if err != nil {
		return nil, err
	}
	cred, err := o.credibility()
	if err != nil {
		return nil, err
	}
	logger, err := o.logger()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	clock := &replayClock{}
	engine := incident.NewEngine(memstore.New(), incident.EngineConfig{
		Policy:      policy,
		Credibility: cred,
		Now:         clock.Now,
	}, logger, incident.EngineHooks{})

	res := &ReplayResult{}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}

		if err := ingestLine(ctx, engine, clock, raw); err != nil {
			if strict {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			res.Skipped++
			fmt.Fprintf(warn, "line %d: skipped: %v\n", line, err)
			continue
		}
		res.Ingested++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}

	if sweep > 0 {
		clock.advance(clock.Now().Add(sweep))
		if res.Swept, err = engine.Sweep(ctx); err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
	}
	engine.Wait()

	if res.Incidents, err = engine.List(ctx, incident.ListFilter{}); err != nil {
		return nil, err
	}
	for _, inc := range res.Incidents {
		if err := engine.Verify(ctx, inc.ID); err != nil {
			return nil, fmt.Errorf("ledger check for %s: %w", inc.ID, err)
		}
	}
	return res, nil
}

func ingestLine(ctx context.Context, engine *incident.Engine, clock *replayClock, raw []byte) error {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("%w: %w", incident.ErrMalformedPayload, err)
	}
	if rec.Kind == "" {
		return errors.New("missing kind")
	}
	src, err := source.Decode(rec.Kind, rec.Payload)
	if err != nil {
		return err
	}
	clock.advance(src.Payload().Timestamp)
	_, err = engine.IngestFrom(ctx, src)
	return err
}
