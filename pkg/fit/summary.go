// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fit

import (
	"os"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/muesli/termenv"
)

var summaryBorderColor = lipgloss.Color("#705090")

type scopeSummary struct {
	name                    string
	trainable, nonTrainable int
	memory                  uintptr
}

// ModelSummary returns a table with the number of trainable and non-trainable parameters
// under each sub-scope of scope (one level deep), followed by the totals.
func ModelSummary(ctx *context.Context, scope string) string {
	ctx = ctx.InAbsPath(scope)
	prefix := ctx.Scope()
	if prefix != context.RootScope {
		prefix += context.ScopeSeparator
	}
	byScope := make(map[string]*scopeSummary)
	total := &scopeSummary{name: "Total"}
	for v := range ctx.IterVariablesInScope() {
		name := strings.TrimPrefix(v.Scope(), prefix)
		if idx := strings.Index(name, context.ScopeSeparator); idx >= 0 {
			name = name[:idx]
		}
		if name == "" || v.Scope() == ctx.Scope() {
			name = "."
		}
		s, found := byScope[name]
		if !found {
			s = &scopeSummary{name: name}
			byScope[name] = s
		}
		for _, acc := range []*scopeSummary{s, total} {
			if v.Trainable {
				acc.trainable += v.Shape().Size()
			} else {
				acc.nonTrainable += v.Shape().Size()
			}
			acc.memory += v.Shape().Memory()
		}
	}
	names := make([]string, 0, len(byScope))
	for name := range byScope {
		names = append(names, name)
	}
	slices.Sort(names)

	renderer := lipgloss.NewRenderer(os.Stdout)
	if termenv.EnvNoColor() {
		renderer.SetColorProfile(termenv.Ascii)
	}
	cellStyle := renderer.NewStyle().Padding(0, 1)
	numberStyle := renderer.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(renderer.NewStyle().Foreground(summaryBorderColor)).
		Headers("Scope", "Trainable", "Non-trainable", "Memory").
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return cellStyle
			}
			return numberStyle
		})
	for _, name := range names {
		table.Row(summaryRow(byScope[name])...)
	}
	table.Row(summaryRow(total)...)
	return table.Render()
}

func summaryRow(s *scopeSummary) []string {
	return []string{
		s.name,
		humanize.Comma(int64(s.trainable)),
		humanize.Comma(int64(s.nonTrainable)),
		humanize.IBytes(uint64(s.memory)),
	}
}
