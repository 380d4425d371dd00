package cli

import (
	"fmt"

	"github.com/rileyhilliard/jumpssh/internal/config"
	"github.com/rileyhilliard/jumpssh/internal/ui"
	"github.com/rileyhilliard/jumpssh/pkg/sshutil"
	"github.com/spf13/cobra"
)

// sshConfigPath is the ssh config listed by `jump hosts`. Empty means
// ~/.ssh/config.
var sshConfigPath string

type chainJSON struct {
	Name    string   `json:"name"`
	Hops    []string `json:"hops"`
	Default bool     `json:"default,omitempty"`
}

type hostJSON struct {
	Alias    string `json:"alias"`
	Hostname string `json:"hostname,omitempty"`
	User     string `json:"user,omitempty"`
	Port     string `json:"port,omitempty"`
}

func newHostsCmd(global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List configured chains and ssh config aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, global)
			if err != nil {
				return err
			}

			var entries []sshutil.HostEntry
			if sshConfigPath != "" {
				entries, err = sshutil.ListHostsFrom(sshConfigPath)
			} else {
				entries, err = sshutil.ListHosts()
			}
			if err != nil {
				e.log.Warn("reading ssh config: %v", err)
			}

			chains := chainRows(e.cfg)
			if e.flags.JSON {
				data := map[string]interface{}{"chains": chainsJSON(chains), "hosts": hostsJSON(entries)}
				return WriteJSONSuccess(e.stdout, data)
			}

			if e.cfgPath != "" {
				fmt.Fprintf(e.stdout, "Chains from %s\n", e.cfgPath)
			}
			fmt.Fprintln(e.stdout, ui.RenderChains(chains))
			fmt.Fprintln(e.stdout)
			rows := make([]ui.HostRow, len(entries))
			for i, h := range entries {
				rows[i] = ui.HostRow{Alias: h.Alias, Description: h.Description(), HasKey: h.HasKey()}
			}
			fmt.Fprintln(e.stdout, ui.RenderHosts(rows))
			return nil
		},
	}
}

func chainRows(cfg *config.Config) []ui.ChainRow {
	names := config.ChainNames(cfg)
	rows := make([]ui.ChainRow, 0, len(names))
	for _, name := range names {
		row := ui.ChainRow{Name: name, Default: name == cfg.Default}
		for _, hop := range cfg.Chains[name] {
			row.Hops = append(row.Hops, hopLabel(hop))
		}
		rows = append(rows, row)
	}
	return rows
}

// hopLabel renders a hop as written, without resolving aliases.
func hopLabel(h config.Hop) string {
	label := h.Host
	if h.User != "" {
		label = h.User + "@" + label
	}
	if h.Port != 0 {
		label = fmt.Sprintf("%s:%d", label, h.Port)
	}
	return label
}

func chainsJSON(rows []ui.ChainRow) []chainJSON {
	out := make([]chainJSON, len(rows))
	for i, r := range rows {
		out[i] = chainJSON{Name: r.Name, Hops: r.Hops, Default: r.Default}
	}
	return out
}

func hostsJSON(entries []sshutil.HostEntry) []hostJSON {
	out := make([]hostJSON, len(entries))
	for i, h := range entries {
		out[i] = hostJSON{Alias: h.Alias, Hostname: h.Hostname, User: h.User, Port: h.Port}
	}
	return out
}
