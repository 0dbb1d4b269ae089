// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/leseb/storybridge/pkg/app"
	"github.com/leseb/storybridge/pkg/core/config"
	"github.com/leseb/storybridge/pkg/observability/logging"
)

// openFunc returns the wired application and a function releasing it.
type openFunc func(ctx context.Context, cli *cli) (*app.App, func(), error)

type cli struct {
	configPath string
	verbose    bool
	jsonOutput bool
	open       openFunc
}

// newRootCmd builds the command tree. A nil open builds the backends from
// configuration on every invocation.
func newRootCmd(open openFunc) *cobra.Command {
	c := &cli{open: open}
	if c.open == nil {
		c.open = openFromConfig
	}

	root := &cobra.Command{
		Use:   "storyctl",
		Short: "Inspect and load user stories and their generated test cases",
		Long: `storyctl reads and writes the story catalog: stories live in the vector
store, generated test cases in the relational store. Backends are selected by
the configuration file and environment variables, as for the server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "config file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "print JSON instead of tables")

	root.AddCommand(
		c.listCmd(),
		c.getCmd(),
		c.searchCmd(),
		c.addCmd(),
		c.addTestsCmd(),
		c.exportCmd(),
		c.seedCmd(),
	)
	return root
}

func (c *cli) logger() *logging.Logger {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	return logging.New(logging.Config{Level: level, Format: "text", Output: os.Stderr})
}

func openFromConfig(ctx context.Context, c *cli) (*app.App, func(), error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = config.Default()
	}

	a, err := app.Build(ctx, cfg, c.logger())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing backends: %w", err)
	}
	return a, func() { a.Close(context.Background()) }, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
