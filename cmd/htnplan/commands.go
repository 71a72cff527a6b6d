// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	format     string
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "htnplan",
		Short: "Contingency HTN planner",
		Long: `htnplan decomposes goals over a fact list into a policy graph with
contingency branches for operator failures, and prints the nominal
action sequence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(opts, cmd.ErrOrStderr())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "json", "Output format (json, yaml, text)")

	rootCmd.AddCommand(
		newPlanCmd(a, opts),
		newServeCmd(a),
		newDomainCmd(a, opts),
	)
	return rootCmd
}

func newPlanCmd(a *app, root *rootOptions) *cobra.Command {
	opts := &planOptions{}
	cmd := &cobra.Command{
		Use:   "plan [atoms-file]",
		Short: "Plan from a fact list read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, a, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.task, "task", "", "Plan this task instead of grounding templates")
	cmd.Flags().StringSliceVar(&opts.args, "args", nil, "Arguments of --task")
	cmd.Flags().StringSliceVar(&opts.templates, "template", nil, "Restrict grounding to these templates")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Include per-node expectations")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the planner over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address override")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "Reload rate limit and timeout when --config changes")
	return cmd
}

func newDomainCmd(a *app, root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "domain",
		Short: "List registered operators, compound tasks and templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDomain(cmd, a, root)
		},
	}
}
