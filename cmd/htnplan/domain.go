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
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domains/combat"
)

type templateListing struct {
	Name   string   `json:"name" yaml:"name"`
	Params []string `json:"params" yaml:"params"`
}

type domainListing struct {
	Domain    string              `json:"domain" yaml:"domain"`
	Operators []string            `json:"operators" yaml:"operators"`
	Methods   map[string][]string `json:"methods" yaml:"methods"`
	Templates []templateListing   `json:"templates" yaml:"templates"`
}

func runDomain(cmd *cobra.Command, a *app, root *rootOptions) error {
	defer a.close()
	e, err := a.build()
	if err != nil {
		return err
	}

	r := e.registry
	out := domainListing{
		Domain:    combat.Name,
		Operators: r.Names(domain.KindOperator),
		Methods:   make(map[string][]string),
	}
	for _, task := range r.Names(domain.KindMethods) {
		for _, m := range r.Methods(task) {
			out.Methods[task] = append(out.Methods[task], m.Name)
		}
	}
	for _, t := range r.Templates() {
		out.Templates = append(out.Templates, templateListing{Name: t.Name, Params: t.Params})
	}

	return render(cmd.OutOrStdout(), root.format, out, func(w io.Writer) error {
		fmt.Fprintf(w, "domain %s\n\noperators:\n", out.Domain)
		for _, op := range out.Operators {
			fmt.Fprintf(w, "  %s\n", op)
		}
		fmt.Fprintln(w, "\nmethods:")
		for _, task := range r.Names(domain.KindMethods) {
			fmt.Fprintf(w, "  %s: %s\n", task, strings.Join(out.Methods[task], ", "))
		}
		fmt.Fprintln(w, "\ntemplates:")
		for _, t := range out.Templates {
			fmt.Fprintf(w, "  %s(%s)\n", t.Name, strings.Join(t.Params, ", "))
		}
		return nil
	})
}
