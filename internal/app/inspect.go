package app

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dshills/buildany/internal/catalog"
)

// detect prints what a verb would run without running it.
func (a *App) detect() error {
	b, err := a.resolver.Resolve(a.dir, a.override)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.opts.Stdout, b)
	tw := tabwriter.NewWriter(a.opts.Stdout, 0, 4, 1, ' ', 0)
	for _, verb := range catalog.Verbs() {
		exe, args, err := b.Command(verb)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "  %s:\t%s\n", verb, strings.Join(append([]string{exe}, args...), " "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	candidates, err := a.resolver.Candidates(b.Dir)
	if err != nil {
		return err
	}
	var others []string
	for _, rule := range candidates {
		if rule.Marker == b.Marker {
			continue
		}
		others = append(others, fmt.Sprintf("%s (%s)", rule.Marker, rule.Tool))
	}
	if len(others) > 0 {
		fmt.Fprintf(a.opts.Stdout, "also matched: %s\n", strings.Join(others, ", "))
	}
	return nil
}

// list prints the effective catalog in priority order.
func (a *App) list() error {
	cat := a.resolver.Catalog()
	tw := tabwriter.NewWriter(a.opts.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tMARKER\tTOOL\tEXECUTABLE")
	for i, rule := range cat.Rules() {
		tmpl, _ := cat.Template(rule.Tool)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, rule.Marker, rule.Tool, tmpl.Executable)
	}
	return tw.Flush()
}
