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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

type planOptions struct {
	task      string
	args      []string
	templates []string
	explain   bool
}

// planOutput is what `htnplan plan` prints.
type planOutput struct {
	PlanID  string           `json:"plan_id" yaml:"plan_id"`
	Found   bool             `json:"found" yaml:"found"`
	Tasks   []domain.Task    `json:"tasks" yaml:"tasks"`
	Actions []policy.Action  `json:"actions" yaml:"actions"`
	Stats   htn.Stats        `json:"stats" yaml:"stats"`
	Explain []htn.Annotation `json:"explain,omitempty" yaml:"explain,omitempty"`
}

func runPlan(cmd *cobra.Command, a *app, root *rootOptions, opts *planOptions, args []string) error {
	defer a.close()

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open atoms: %w", err)
		}
		defer f.Close()
		in = f
	}
	atoms, err := readAtoms(in)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	shutdown, err := a.initTelemetry(ctx, false)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if a.cfg.Planner.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Planner.Timeout)
		defer cancel()
	}

	e, err := a.build()
	if err != nil {
		return err
	}

	var res *htn.Result
	if opts.task != "" {
		st, err := facts.ParseAtoms(atoms)
		if err != nil {
			return err
		}
		res, err = e.planner.Plan(ctx, st, domain.NewTask(opts.task, opts.args...))
		if err != nil {
			return err
		}
	} else {
		templates, err := e.registry.TemplatesNamed(opts.templates...)
		if err != nil {
			return err
		}
		res, err = e.grounder.FindGroundedPlan(ctx, atoms, templates)
		if err != nil {
			return err
		}
	}

	out := planOutput{
		PlanID:  res.ID,
		Found:   res.Found,
		Tasks:   res.Tasks,
		Actions: res.Actions,
		Stats:   res.Stats,
	}
	if opts.explain {
		out.Explain = res.Explain()
	}
	return render(cmd.OutOrStdout(), root.format, out, func(w io.Writer) error {
		return writePlanText(w, out)
	})
}

// readAtoms splits input into atoms. Atoms are separated by whitespace;
// text after # on a line is a comment.
func readAtoms(r io.Reader) ([]string, error) {
	var atoms []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		atoms = append(atoms, strings.Fields(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read atoms: %w", err)
	}
	if len(atoms) == 0 {
		return nil, fmt.Errorf("read atoms: no atoms given")
	}
	return atoms, nil
}

func writePlanText(w io.Writer, out planOutput) error {
	if !out.Found {
		_, err := fmt.Fprintln(w, "no plan found")
		return err
	}
	for _, t := range out.Tasks {
		fmt.Fprintf(w, "goal: %s\n", t)
	}
	if len(out.Actions) == 0 {
		fmt.Fprintln(w, "goal already satisfied")
	}
	for i, a := range out.Actions {
		fmt.Fprintf(w, "%3d. %s\n", i+1, a)
	}
	for _, n := range out.Explain {
		fmt.Fprintf(w, "  [%d] %s %s next=%d", n.Node, n.Kind, n.Action, n.Next)
		if len(n.Effect) > 0 {
			fmt.Fprintf(w, " effect=%s", strings.Join(n.Effect, ","))
		}
		fmt.Fprintln(w)
	}
	_, err := fmt.Fprintf(w, "nodes=%d operators=%d backtracks=%d repeat_links=%d branch_runs=%d\n",
		out.Stats.Nodes, out.Stats.Operators, out.Stats.Backtracks, out.Stats.RepeatLinks, out.Stats.BranchRuns)
	return err
}
