package npu

import (
	"fmt"
	"strconv"
)

// Sim is an in-process reference backend. It performs the same
// structural checks a vendor runtime would (known op types, arity,
// quantization invariants, dangling tensor references at finalize)
// without executing anything. Used by tests and the CLI's dry-run
// lowering path.
type Sim struct{}

// NewSim returns the reference backend.
func NewSim() *Sim { return &Sim{} }

func (s *Sim) Name() string { return "sim" }

type simGraph struct {
	name      string
	nextID    uint64
	tensors   map[string]*Tensor
	ops       []*OpConfig
	finalized bool
	released  bool
}

type opArity struct {
	minIn, maxIn   int
	minOut, maxOut int
	requiredParams []string
}

// The sim op vocabulary mirrors the core NPU op set the lowering layer
// targets. Arity bounds are checked at validate/create time.
var simOps = map[string]opArity{
	"Transpose":           {1, 1, 1, 1, []string{"perm"}},
	"Reshape":             {1, 1, 1, 1, nil},
	"Conv2d":              {2, 3, 1, 1, nil},
	"DepthWiseConv2d":     {2, 3, 1, 1, nil},
	"TransposeConv2d":     {2, 3, 1, 1, nil},
	"MatMul":              {2, 2, 1, 1, nil},
	"FullyConnected":      {2, 3, 1, 1, nil},
	"ElementWiseAdd":      {2, 2, 1, 1, nil},
	"ElementWiseSubtract": {2, 2, 1, 1, nil},
	"ElementWiseMultiply": {2, 2, 1, 1, nil},
	"ElementWiseDivide":   {2, 2, 1, 1, nil},
	"Relu":                {1, 1, 1, 1, nil},
	"ReluMinMax":          {1, 1, 1, 1, []string{"min_value", "max_value"}},
	"Sigmoid":             {1, 1, 1, 1, nil},
	"Tanh":                {1, 1, 1, 1, nil},
	"Gelu":                {1, 1, 1, 1, nil},
	"Softmax":             {1, 1, 1, 1, nil},
	"PoolMax2d":           {1, 1, 1, 1, nil},
	"PoolAvg2d":           {1, 1, 1, 1, nil},
	"Concat":              {1, 16, 1, 1, []string{"axis"}},
	"Split":               {1, 1, 1, 16, nil},
	"Gather":              {2, 2, 1, 1, nil},
	"Cast":                {1, 1, 1, 1, nil},
	"Quantize":            {1, 1, 1, 1, nil},
	"Dequantize":          {1, 1, 1, 1, nil},
}

func (s *Sim) CreateGraph(name string, configs []GraphConfig) (GraphHandle, error) {
	if name == "" {
		return nil, fmt.Errorf("sim: graph name must not be empty")
	}
	for _, cfg := range configs {
		switch cfg.Key {
		case "precision":
			if cfg.Value != "fp16" && cfg.Value != "fp32" {
				return nil, fmt.Errorf("sim: unsupported precision %q", cfg.Value)
			}
		case "optimization_level":
			lvl, err := strconv.Atoi(cfg.Value)
			if err != nil || lvl < 0 || lvl > 3 {
				return nil, fmt.Errorf("sim: bad optimization_level %q", cfg.Value)
			}
		default:
			return nil, fmt.Errorf("sim: unknown graph config key %q", cfg.Key)
		}
	}
	return &simGraph{
		name:    name,
		tensors: make(map[string]*Tensor),
	}, nil
}

func (s *Sim) graph(h GraphHandle) (*simGraph, error) {
	g, ok := h.(*simGraph)
	if !ok || g == nil {
		return nil, fmt.Errorf("sim: invalid graph handle")
	}
	if g.released {
		return nil, fmt.Errorf("sim: graph %q already released", g.name)
	}
	return g, nil
}

func (s *Sim) CreateTensor(h GraphHandle, t *Tensor) error {
	g, err := s.graph(h)
	if err != nil {
		return err
	}
	if g.finalized {
		return fmt.Errorf("sim: graph %q already finalized", g.name)
	}
	if t.Name == "" {
		return fmt.Errorf("sim: tensor name must not be empty")
	}
	if _, ok := g.tensors[t.Name]; ok {
		return fmt.Errorf("sim: tensor %q already exists in graph %q", t.Name, g.name)
	}
	if err := checkTensor(t); err != nil {
		return err
	}
	g.nextID++
	t.ID = g.nextID
	cp := *t
	g.tensors[t.Name] = &cp
	return nil
}

func (s *Sim) ValidateNode(op *OpConfig) error {
	return checkOp(op)
}

func (s *Sim) CreateNode(h GraphHandle, op *OpConfig) error {
	g, err := s.graph(h)
	if err != nil {
		return err
	}
	if g.finalized {
		return fmt.Errorf("sim: graph %q already finalized", g.name)
	}
	if err := checkOp(op); err != nil {
		return err
	}
	for _, t := range op.Inputs {
		if _, ok := g.tensors[t.Name]; !ok {
			return fmt.Errorf("sim: node %q references unknown input tensor %q", op.Name, t.Name)
		}
	}
	for _, t := range op.Outputs {
		if _, ok := g.tensors[t.Name]; !ok {
			return fmt.Errorf("sim: node %q references unknown output tensor %q", op.Name, t.Name)
		}
	}
	cp := *op
	g.ops = append(g.ops, &cp)
	return nil
}

func (s *Sim) Finalize(h GraphHandle) error {
	g, err := s.graph(h)
	if err != nil {
		return err
	}
	if g.finalized {
		return fmt.Errorf("sim: graph %q already finalized", g.name)
	}

	produced := make(map[string]bool, len(g.tensors))
	for _, op := range g.ops {
		for _, t := range op.Outputs {
			produced[t.Name] = true
		}
	}
	for _, op := range g.ops {
		for _, t := range op.Inputs {
			stored := g.tensors[t.Name]
			if stored.Kind == KindStatic || stored.Kind == KindAppWrite {
				continue
			}
			if !produced[t.Name] {
				return fmt.Errorf("sim: graph %q: tensor %q consumed by %q has no producer", g.name, t.Name, op.Name)
			}
		}
	}
	for name, t := range g.tensors {
		if t.Kind == KindAppRead && !produced[name] {
			return fmt.Errorf("sim: graph %q: output tensor %q has no producer", g.name, name)
		}
	}
	g.finalized = true
	return nil
}

func (s *Sim) Release(h GraphHandle) {
	if g, ok := h.(*simGraph); ok && g != nil {
		g.released = true
		g.tensors = nil
		g.ops = nil
	}
}

// Tensors returns the created tensors of a sim graph, for inspection.
func (s *Sim) Tensors(h GraphHandle) []*Tensor {
	g, err := s.graph(h)
	if err != nil {
		return nil
	}
	out := make([]*Tensor, 0, len(g.tensors))
	for _, t := range g.tensors {
		out = append(out, t)
	}
	return out
}

// Ops returns the created nodes of a sim graph in creation order.
func (s *Sim) Ops(h GraphHandle) []*OpConfig {
	g, err := s.graph(h)
	if err != nil {
		return nil
	}
	return g.ops
}

func checkTensor(t *Tensor) error {
	if _, err := ElementSize(t.DataType); err != nil {
		if t.DataType != DataTypeSFixed4 && t.DataType != DataTypeUFixed4 {
			return fmt.Errorf("sim: tensor %q: %w", t.Name, err)
		}
	}
	if err := t.Quant.Validate(t.Dims); err != nil {
		return fmt.Errorf("sim: tensor %q: %w", t.Name, err)
	}
	if t.Kind == KindStatic && t.Data == nil {
		return fmt.Errorf("sim: static tensor %q has no payload", t.Name)
	}
	return nil
}

func checkOp(op *OpConfig) error {
	arity, ok := simOps[op.Type]
	if !ok {
		return fmt.Errorf("sim: unsupported op type %q (node %q)", op.Type, op.Name)
	}
	if n := len(op.Inputs); n < arity.minIn || n > arity.maxIn {
		return fmt.Errorf("sim: node %q: op %s expects %d..%d inputs, got %d",
			op.Name, op.Type, arity.minIn, arity.maxIn, n)
	}
	if n := len(op.Outputs); n < arity.minOut || n > arity.maxOut {
		return fmt.Errorf("sim: node %q: op %s expects %d..%d outputs, got %d",
			op.Name, op.Type, arity.minOut, arity.maxOut, n)
	}
	for _, want := range arity.requiredParams {
		found := false
		for i := range op.Params {
			if op.Params[i].Name == want {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("sim: node %q: op %s missing required param %q", op.Name, op.Type, want)
		}
	}
	for i := range op.Params {
		p := &op.Params[i]
		if (p.Scalar == nil) == (p.Tensor == nil) {
			return fmt.Errorf("sim: node %q: param %q must be exactly one of scalar or tensor", op.Name, p.Name)
		}
	}
	for _, t := range op.Inputs {
		if err := t.Quant.Validate(t.Dims); err != nil {
			return fmt.Errorf("sim: node %q: input %q: %w", op.Name, t.Name, err)
		}
	}
	for _, t := range op.Outputs {
		if err := t.Quant.Validate(t.Dims); err != nil {
			return fmt.Errorf("sim: node %q: output %q: %w", op.Name, t.Name, err)
		}
	}
	return nil
}
