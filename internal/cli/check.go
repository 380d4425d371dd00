package cli

import (
	"fmt"

	"github.com/rileyhilliard/jumpssh/internal/errors"
	"github.com/rileyhilliard/jumpssh/internal/host"
	"github.com/rileyhilliard/jumpssh/internal/ui"
	"github.com/rileyhilliard/jumpssh/internal/util"
	"github.com/spf13/cobra"
)

// hopJSON is one hop of `jump check --json`.
type hopJSON struct {
	Destination string     `json:"destination"`
	OK          bool       `json:"ok"`
	Skipped     bool       `json:"skipped,omitempty"`
	LatencyMS   int64      `json:"latency_ms"`
	Error       *JSONError `json:"error,omitempty"`
}

func newCheckCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect through every hop and report latency",
		Long: `Open the chain hop by hop without retries, print how long each hop took,
and explain the first failure.

Examples:
  jump check
  jump --chain qa check --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, global)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()
			if err := e.resolveHops(); err != nil {
				return err
			}

			results := host.ProbeChain(cmd.Context(), e.hops)

			if e.flags.JSON {
				if err := WriteJSONSuccess(e.stdout, checkJSON(results)); err != nil {
					return err
				}
			} else {
				renderCheck(e, results)
			}

			if failed := host.Failed(results); failed != nil {
				return errors.NewExitError(1)
			}
			return nil
		},
	}
}

func renderCheck(e *env, results []host.HopResult) {
	display := ui.NewPhaseDisplay(e.stdout)
	fmt.Fprintf(e.stdout, "Chain %s\n", e.chainName)
	for _, r := range results {
		name := r.Destination.String()
		switch {
		case r.Skipped:
			display.RenderSkipped(name, "not reached")
		case r.Err != nil:
			display.RenderFailed(name, r.Latency, nil)
			display.RenderSubStatus("", "", r.Err.Reason.String())
			if structured := ErrorToJSON(r.Err); structured.Suggestion != "" {
				display.RenderSubStatus("", "", structured.Suggestion)
			}
		default:
			display.RenderSuccess(name, r.Latency)
		}
	}
	if host.Failed(results) == nil {
		fmt.Fprintf(e.stdout, "%d %s reachable\n", len(results), util.Pluralize(len(results), "hop", "hops"))
	}
}

func checkJSON(results []host.HopResult) []hopJSON {
	out := make([]hopJSON, len(results))
	for i, r := range results {
		out[i] = hopJSON{
			Destination: r.Destination.String(),
			OK:          r.OK(),
			Skipped:     r.Skipped,
			LatencyMS:   r.Latency.Milliseconds(),
		}
		if r.Err != nil {
			out[i].Error = ErrorToJSON(r.Err)
		}
	}
	return out
}
