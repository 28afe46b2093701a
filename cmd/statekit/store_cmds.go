package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/micro-nova/statekit/internal/store"
)

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key. Missing or undecodable entries
print null.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			area, err := c.openArea()
			if err != nil {
				return err
			}
			return c.formatOutput(cmd.OutOrStdout(), store.Read[any](area, args[0], nil))
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value under a key",
		Long: `Store a JSON value under a key.

Examples:
  statekit set prefs '{"theme":"dark"}'
  statekit set counter 7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var v any
			if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
				return fmt.Errorf("invalid JSON value: %w", err)
			}
			st, err := c.openStore(args[0])
			if err != nil {
				return err
			}
			defer st.Close()
			st.Set(store.Value(v))
			return st.Err()
		},
	}
}

func (c *cli) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openStore(args[0])
			if err != nil {
				return err
			}
			defer st.Close()
			st.Remove()
			return st.Err()
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <key>",
		Short: "Print a key's value and every change made by other processes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			area, err := c.openArea()
			if err != nil {
				return err
			}
			st, err := store.New[any](args[0], nil, area)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			id := uuid.NewString()
			ch := st.Subscribe(id)
			defer st.Unsubscribe(id)

			out := cmd.OutOrStdout()
			if err := c.formatOutput(out, st.Value()); err != nil {
				return err
			}
			for {
				select {
				case v, ok := <-ch:
					if !ok {
						return nil
					}
					if err := c.formatOutput(out, v); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}

// openStore opens a one-shot store that does not follow other processes.
func (c *cli) openStore(key string) (*store.Store[any], error) {
	area, err := c.openArea()
	if err != nil {
		return nil, err
	}
	return store.New[any](key, nil, area, store.WithoutSync[any]())
}
