package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/wolfeidau/brandpilot/internal/client"
	"github.com/wolfeidau/brandpilot/internal/plans"
)

// PlansCmd prints the server's plan table.
type PlansCmd struct {
	ClientFlags `embed:""`
}

func (c *PlansCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := c.load()
	if err != nil {
		return err
	}

	table, err := client.New(cfg).Plans(ctx)
	if err != nil {
		return err
	}

	printPlans(os.Stdout, table)
	return nil
}

func printPlans(w io.Writer, table []plans.Plan) {
	if len(table) == 0 {
		fmt.Fprintln(w, "No plans found.")
		return
	}

	fmt.Fprintf(w, "%-8s %-11s %-10s %-12s %s\n",
		"Plan", "Workspaces", "Locations", "Generations", "Features")
	fmt.Fprintln(w, strings.Repeat("─", 80))

	for _, p := range table {
		features := "-"
		if len(p.Features) > 0 {
			names := make([]string, len(p.Features))
			for i, f := range p.Features {
				names[i] = string(f)
			}
			features = strings.Join(names, ", ")
		}

		fmt.Fprintf(w, "%-8s %-11s %-10s %-12s %s\n",
			p.Tier,
			formatLimit(p.WorkspaceLimit),
			formatLimit(p.LocationLimit),
			formatLimit(p.MonthlyGenerationLimit),
			features)
	}
}

func formatLimit(n int) string {
	if n == plans.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
