// Command lrupeer runs a replicating cache node. Commands are read line by
// line from stdin; mutations are replicated to the peers sharing the topic.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/IvanBrykalov/genlru/internal/config"
)

// Build information set via ldflags
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// flagKeys maps config keys to the persistent flags that override them.
var flagKeys = map[string]string{
	"node.name":          "name",
	"cache.max_size":     "max-size",
	"replication.topic":  "topic",
	"replication.listen": "listen",
	"replication.peers":  "peer",
	"metrics.addr":       "metrics-addr",
	"log.level":          "log-level",
	"log.pretty":         "pretty",
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "lrupeer",
		Short:         "Replicating generational LRU cache node",
		Long:          "lrupeer keeps a bounded two-generation cache and replicates set/delete mutations to TCP peers that share a topic.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./lrupeer.yaml if present)")
	f.String("name", "", "node name reported in logs and metrics")
	f.Int("max-size", 0, "cache capacity (entries per generation)")
	f.String("topic", "", "replication topic (at least 8 characters); empty disables replication")
	f.String("listen", "", "TCP address to accept peers on")
	f.StringSlice("peer", nil, "seed peer address (repeatable)")
	f.String("metrics-addr", "", "serve Prometheus metrics at addr; empty disables")
	f.String("log-level", "", "trace, debug, info, warn or error")
	f.Bool("pretty", false, "human-readable logs")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// load reads the configuration with the command's flags bound on top.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Manager, error) {
	m := config.NewManager(o.configPath, nil)
	for key, name := range flagKeys {
		if err := m.Viper().BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lrupeer %s\n", version)
		},
	}
}
