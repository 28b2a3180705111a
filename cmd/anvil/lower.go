package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/lower"
	"github.com/anvilml/anvil/internal/npu"
)

func lowerCmd() *cli.Command {
	var (
		validate  bool
		dump      bool
		offload   bool
		precision string
		optLevel  int64
	)

	return &cli.Command{
		Name:  "lower",
		Usage: "Lower a portable graph to the NPU backend",
		Flags: append(append(graphFlags(), loggingFlags()...),
			&cli.BoolFlag{
				Name:        "validate",
				Usage:       "validate each node with the backend before committing it",
				Destination: &validate,
			},
			&cli.BoolFlag{
				Name:        "dump",
				Usage:       "print backend tensor and op dumps",
				Destination: &dump,
			},
			&cli.BoolFlag{
				Name:        "offload",
				Usage:       "leave graph-boundary quantize/dequantize to the host",
				Destination: &offload,
			},
			&cli.StringFlag{
				Name:        "precision",
				Usage:       "graph precision (fp16, fp32)",
				Destination: &precision,
			},
			&cli.Int64Flag{
				Name:        "opt-level",
				Usage:       "backend optimization level (0-3)",
				Value:       -1,
				Destination: &optLevel,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := LoadConfig()
			applyLoggingConfig(cmd, cfg)
			applyLowerConfig(cmd, cfg, &validate, &offload, &precision)
			log := buildLogger()

			if graphPath == "" {
				return fmt.Errorf("lower: --graph is required")
			}
			g, err := graph.Load(graphPath)
			if err != nil {
				return err
			}

			var configs []npu.GraphConfig
			if precision != "" {
				configs = append(configs, npu.GraphConfig{Key: "precision", Value: precision})
			}
			if optLevel >= 0 {
				configs = append(configs, npu.GraphConfig{Key: "optimization_level", Value: fmt.Sprintf("%d", optLevel)})
			}

			sim := npu.NewSim()
			m, report, err := lower.Build(g, log, sim, lower.BuildOptions{
				GraphName: graphName,
				Configs:   configs,
				Validate:  validate,
				Settings: lower.Settings{
					OffloadGraphIOQuantization: offload,
				},
			})
			if err != nil {
				return err
			}
			defer m.Close()

			printReport(report, sim, m, dump)
			if !report.Composed {
				return fmt.Errorf("lower: graph %q did not compose", report.Graph)
			}
			return nil
		},
	}
}

func printReport(report *lower.Report, sim *npu.Sim, m *lower.ModelWrapper, dump bool) {
	tensors := sim.Tensors(m.Handle())
	ops := sim.Ops(m.Handle())

	fmt.Printf("graph:      %s\n", report.Graph)
	fmt.Printf("composed:   %t\n", report.Composed)
	fmt.Printf("nodes:      %d portable, %d converted\n", report.Nodes, report.Converted)
	fmt.Printf("backend:    %d tensors, %d ops\n", len(tensors), len(ops))
	for _, diag := range report.Diagnostics {
		fmt.Printf("diagnostic: %s\n", diag)
	}

	if !dump {
		return
	}
	sort.Slice(tensors, func(i, j int) bool { return tensors[i].ID < tensors[j].ID })
	for _, t := range tensors {
		fmt.Println(npu.DumpTensor(t))
	}
	for _, op := range ops {
		fmt.Println(npu.DumpOpConfig(op))
	}
}
