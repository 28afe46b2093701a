package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/micro-nova/statekit/internal/config"
	"github.com/micro-nova/statekit/internal/storage"
)

// Version is set at build time
var Version = "0.1.0"

// cli holds global flags and the durable area shared by store commands.
type cli struct {
	cfgPath      string
	dataDir      string
	backend      string
	outputFormat string

	cfg  config.Config
	area storage.Watched
}

func newRootCmd() *cobra.Command {
	_, root := newCLI()
	return root
}

func newCLI() (*cli, *cobra.Command) {
	c := &cli{}
	root := &cobra.Command{
		Use:   "statekit",
		Short: "Inspect persisted stores and encode files",
		Long: `statekit works on the same durable area as statekitd and any other
process pointed at the same data directory. Writes made here are seen
by running watchers.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.cfgPath)
			if err != nil {
				return err
			}
			if c.dataDir != "" {
				cfg.DataDir = c.dataDir
			}
			if c.backend != "" {
				cfg.Backend = c.backend
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			c.cfg = cfg.WithDefaults()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&c.dataDir, "data-dir", "", "durable area directory (default: ~/.config/statekit)")
	root.PersistentFlags().StringVar(&c.backend, "backend", "", "durable backend: file or sqlite")
	root.PersistentFlags().StringVarP(&c.outputFormat, "output", "o", "json", "Output format: json, yaml")

	root.AddCommand(
		c.getCmd(),
		c.setCmd(),
		c.rmCmd(),
		c.watchCmd(),
		c.encodeCmd(),
		c.decodeCmd(),
		c.discoverCmd(),
	)
	// PersistentPostRun is skipped when RunE fails, so the area is closed
	// from each command instead.
	for _, sub := range root.Commands() {
		if run := sub.RunE; run != nil {
			sub.RunE = func(cmd *cobra.Command, args []string) error {
				defer c.closeArea()
				return run(cmd, args)
			}
		}
	}
	return c, root
}

func (c *cli) closeArea() {
	if c.area != nil {
		c.area.Close()
		c.area = nil
	}
}

// openArea opens the durable area on first use.
func (c *cli) openArea() (storage.Watched, error) {
	if c.area != nil {
		return c.area, nil
	}
	area, err := storage.OpenDurable(c.cfg.Backend, c.cfg.DataDir, c.cfg.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to open durable area: %w", err)
	}
	c.area = area
	return area, nil
}

// formatOutput writes data in the format selected by --output.
func (c *cli) formatOutput(w io.Writer, data interface{}) error {
	switch c.outputFormat {
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(out))
		return err
	case "json", "":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	default:
		return fmt.Errorf("unknown output format %q", c.outputFormat)
	}
}
