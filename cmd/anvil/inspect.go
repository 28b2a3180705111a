package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/anvilml/anvil/internal/graph"
)

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Print a summary of a portable graph",
		Flags: graphFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if graphPath == "" {
				return fmt.Errorf("inspect: --graph is required")
			}
			g, err := graph.Load(graphPath)
			if err != nil {
				return err
			}
			printGraphSummary(g)
			return nil
		},
	}
}

func printGraphSummary(g *graph.Graph) {
	fmt.Printf("graph: %s\n", g.Name)

	v := graph.NewViewer(g)
	fmt.Printf("inputs (%d):\n", len(g.Inputs))
	for _, name := range g.Inputs {
		if !v.IsGraphInput(name) {
			continue
		}
		fmt.Printf("  %s %s\n", name, describeValue(v, name))
	}
	fmt.Printf("outputs (%d):\n", len(g.Outputs))
	for _, name := range g.Outputs {
		fmt.Printf("  %s %s\n", name, describeValue(v, name))
	}

	fmt.Printf("initializers (%d):\n", len(g.Initializers))
	names := make([]string, 0, len(g.Initializers))
	for name := range g.Initializers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := g.Initializers[name]
		fmt.Printf("  %s %s dims=%v bytes=%d\n", name, t.DataType, t.Dims, len(t.Raw))
	}

	fmt.Printf("nodes (%d):\n", len(g.Nodes))
	counts := make(map[string]int)
	for i := range g.Nodes {
		counts[g.Nodes[i].OpType]++
	}
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Printf("  %-20s %d\n", op, counts[op])
	}
}

func describeValue(v *graph.Viewer, name string) string {
	tt, ok := v.ValueType(name)
	if !ok {
		return "(no type info)"
	}
	return fmt.Sprintf("%s %v", tt.Elem, tt.Shape)
}
