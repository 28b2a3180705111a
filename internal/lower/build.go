package lower

import (
	"fmt"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/logger"
	"github.com/anvilml/anvil/internal/npu"
)

// BuildOptions controls one lowering run.
type BuildOptions struct {
	// GraphName overrides the portable graph's own name when set.
	GraphName string
	Configs   []npu.GraphConfig
	// Validate asks the backend to validate each node configuration
	// before committing it.
	Validate bool
	Settings Settings
}

// Report summarizes a lowering run. Diagnostics collect per-node
// backend rejections; a non-empty list with Composed still true means
// the rejected nodes were skipped.
type Report struct {
	Graph       string   `json:"graph"`
	Composed    bool     `json:"composed"`
	Nodes       int      `json:"nodes"`
	Converted   int      `json:"converted"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Direct portable-to-backend op type mappings. Anything needing layout
// or parameter surgery has a dedicated conversion path instead.
var directOps = map[string]string{
	"MatMul":            "MatMul",
	"Gemm":              "FullyConnected",
	"Add":               "ElementWiseAdd",
	"Sub":               "ElementWiseSubtract",
	"Mul":               "ElementWiseMultiply",
	"Div":               "ElementWiseDivide",
	"Relu":              "Relu",
	"Sigmoid":           "Sigmoid",
	"Tanh":              "Tanh",
	"Gelu":              "Gelu",
	"Softmax":           "Softmax",
	"MaxPool":           "PoolMax2d",
	"AveragePool":       "PoolAvg2d",
	"GlobalAveragePool": "PoolAvg2d",
	"Split":             "Split",
	"Gather":            "Gather",
	"Cast":              "Cast",
}

// Build lowers a portable graph into one backend graph. Per-node
// backend rejections are collected as diagnostics and the node is
// skipped; structural failures (graph creation, compose) end the run.
// The caller owns the returned ModelWrapper and must Close it.
func Build(g *graph.Graph, log logger.Logger, backend npu.Backend, opts BuildOptions) (*ModelWrapper, *Report, error) {
	name := opts.GraphName
	if name == "" {
		name = g.Name
	}
	report := &Report{Graph: name, Nodes: len(g.Nodes)}

	m := NewModelWrapper(graph.NewViewer(g), log, backend, opts.Settings)
	if !m.CreateGraph(name, opts.Configs) {
		return nil, report, fmt.Errorf("lower: backend refused graph %q", name)
	}

	offloaded, err := registerOffloadBoundaries(m, g)
	if err != nil {
		m.Close()
		return nil, report, err
	}

	// Pin the declared graph inputs and outputs in the backend graph up
	// front so an output no converted node produces is caught at
	// compose time. Boundary tensors handed to the host by offload stay
	// out of the backend graph entirely.
	var io []string
	for _, n := range g.Inputs {
		if m.Viewer().IsGraphInput(n) && !offloaded[n] {
			io = append(io, n)
		}
	}
	for _, n := range g.Outputs {
		if m.Viewer().IsGraphOutput(n) && !offloaded[n] {
			io = append(io, n)
		}
	}
	if !m.Materialize(io...) {
		m.Close()
		return nil, report, fmt.Errorf("lower: cannot materialize graph i/o tensors of %q", name)
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if err := convertNode(m, i, node, opts.Validate); err != nil {
			diag := fmt.Sprintf("node %q (%s): %v", NodeName(node), node.OpType, err)
			log.Warn("node conversion failed", "node", NodeName(node), "op", node.OpType, "err", err.Error())
			report.Diagnostics = append(report.Diagnostics, diag)
			continue
		}
		report.Converted++
	}

	if !m.ComposeGraph() {
		report.Diagnostics = append(report.Diagnostics, "backend rejected graph at compose")
		return m, report, nil
	}
	report.Composed = true
	return m, report, nil
}

// registerOffloadBoundaries pre-registers the quantized tensors that
// replace offloaded graph-boundary quantize/dequantize nodes, before
// any intermediate node can claim them as plain intermediates. Returns
// the set of float boundary names the host keeps.
func registerOffloadBoundaries(m *ModelWrapper, g *graph.Graph) (map[string]bool, error) {
	if !m.Settings().OffloadGraphIOQuantization {
		return nil, nil
	}
	offloaded := make(map[string]bool)
	for i := range g.Nodes {
		node := &g.Nodes[i]
		switch node.OpType {
		case "QuantizeLinear":
			if !m.Viewer().IsGraphInput(node.Inputs[0]) {
				continue
			}
			out := quantizedIODef(node, node.Outputs[0])
			info, err := m.GetTensorInfo(out)
			if err != nil {
				return nil, err
			}
			m.AddTensorWrapper(NewTensorWrapper(out.Name, npu.KindAppWrite,
				info.DataType, info.Quant, info.Shape, nil))
			offloaded[node.Inputs[0]] = true
		case "DequantizeLinear":
			if !m.Viewer().IsGraphOutput(node.Outputs[0]) {
				continue
			}
			in := quantizedIODef(node, node.Inputs[0])
			info, err := m.GetTensorInfo(in)
			if err != nil {
				return nil, err
			}
			m.AddTensorWrapper(NewTensorWrapper(in.Name, npu.KindAppRead,
				info.DataType, info.Quant, info.Shape, nil))
			offloaded[node.Outputs[0]] = true
		}
	}
	return offloaded, nil
}

func convertNode(m *ModelWrapper, index int, node *graph.Node, validate bool) error {
	switch node.OpType {
	case "Conv", "ConvTranspose":
		return convertConv(m, index, node, validate)
	case "Clip":
		return convertClip(m, node, validate)
	case "Concat":
		return convertConcat(m, node, validate)
	case "Transpose":
		return convertTranspose(m, index, node, validate)
	case "Reshape":
		return convertReshape(m, node, validate)
	case "QuantizeLinear":
		return convertQuantizeLinear(m, node, validate)
	case "DequantizeLinear":
		return convertDequantizeLinear(m, node, validate)
	}

	opType, ok := directOps[node.OpType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedOp, node.OpType)
	}
	return addSimpleNode(m, node, opType, node.Inputs, nil, validate)
}

func addSimpleNode(m *ModelWrapper, node *graph.Node, opType string, inputs, paramNames []string, validate bool) error {
	name := NodeName(node)
	if validate && !m.AddNode(name, "", opType, inputs, node.Outputs, paramNames, true) {
		return fmt.Errorf("backend validation rejected node")
	}
	if !m.AddNode(name, "", opType, inputs, node.Outputs, paramNames, false) {
		return fmt.Errorf("backend rejected node")
	}
	return nil
}

// convertConv lowers Conv/ConvTranspose, re-ordering the weight
// initializer into the HWCN layout the backend convolution family
// expects. Portable Conv weights are NCHW, ConvTranspose weights CNHW.
func convertConv(m *ModelWrapper, index int, node *graph.Node, validate bool) error {
	if len(node.Inputs) < 2 {
		return fmt.Errorf("convolution needs data and weight inputs, got %d", len(node.Inputs))
	}
	weightName := node.Inputs[1]
	wShape, ok := OnnxShape(m.Viewer(), weightName)
	if !ok {
		return fmt.Errorf("cannot resolve weight shape for %q", weightName)
	}
	if len(wShape) != 4 && len(wShape) != 3 {
		return fmt.Errorf("convolution weight %q has rank %d, want 3 or 4", weightName, len(wShape))
	}
	is3D := len(wShape) == 3

	wDef := &IODef{Name: weightName}
	tw, err := m.MakeTensorWrapper(wDef)
	if err != nil {
		return err
	}
	m.AddTensorWrapper(tw)

	perm := nchwToHwcnPerm
	deconv := node.OpType == "ConvTranspose"
	if deconv {
		perm = cnhwToHwcnPerm
		if is3D {
			perm = cnhwToHwcnPerm3d
		}
	} else if is3D {
		perm = nchwToHwcnPerm3d
	}
	outShape, err := PermuteShape(wShape, perm)
	if err != nil {
		return err
	}

	transposedName := weightName + "_hwcn"
	quant := tw.Tensor.Quant
	dt := tw.Tensor.DataType
	if !m.HasTensor(transposedName) {
		if deconv {
			err = m.AddCnhwToHwcnTranspose(index, weightName, transposedName,
				wShape, outShape, dt, quant, validate, false, false, is3D)
		} else {
			err = m.AddNchwToHwcnTranspose(index, weightName, transposedName,
				wShape, outShape, dt, quant, validate, false, false, is3D)
		}
		if err != nil {
			return err
		}
	}

	inputs := append([]string{node.Inputs[0], transposedName}, node.Inputs[2:]...)
	opType := "Conv2d"
	switch {
	case deconv:
		opType = "TransposeConv2d"
	case NewAttrHelper(node).GetInt64("group", 1) > 1:
		opType = "DepthWiseConv2d"
	}
	return addSimpleNode(m, node, opType, inputs, nil, validate)
}

// convertClip lowers Clip to ReluMinMax with the effective bounds
// resolved from attributes or constant inputs, depending on opset.
func convertClip(m *ModelWrapper, node *graph.Node, validate bool) error {
	min, max, ok := GetClipMinMax(m.Viewer(), node)
	if !ok {
		return fmt.Errorf("clip bounds are not compile-time constants")
	}
	name := NodeName(node)
	minParam := NewNodeScalarParam(name, "min_value", npu.Float32Scalar(min))
	maxParam := NewNodeScalarParam(name, "max_value", npu.Float32Scalar(max))
	m.AddParamWrapper(minParam)
	m.AddParamWrapper(maxParam)

	return addSimpleNode(m, node, "ReluMinMax", node.Inputs[:1],
		[]string{minParam.Name, maxParam.Name}, validate)
}

func convertConcat(m *ModelWrapper, node *graph.Node, validate bool) error {
	axis := NewAttrHelper(node).GetInt32("axis", 0)
	axisParam := NewNodeScalarParam(NodeName(node), "axis", npu.Int32Scalar(axis))
	m.AddParamWrapper(axisParam)

	return addSimpleNode(m, node, "Concat", node.Inputs, []string{axisParam.Name}, validate)
}

func convertTranspose(m *ModelWrapper, index int, node *graph.Node, validate bool) error {
	inShape, ok := OnnxShape(m.Viewer(), node.Inputs[0])
	if !ok {
		return fmt.Errorf("cannot resolve input shape for %q", node.Inputs[0])
	}

	perm := NewAttrHelper(node).GetUint32s("perm", nil)
	if perm == nil {
		// Default permutation reverses the axes.
		perm = make([]uint32, len(inShape))
		for i := range perm {
			perm[i] = uint32(len(inShape) - 1 - i)
		}
	}
	outShape, err := PermuteShape(inShape, perm)
	if err != nil {
		return err
	}

	// Resolve the input through the registry first: a constant input
	// must enter the graph as static data, not as an unproduced
	// intermediate.
	tw, err := m.MakeTensorWrapper(&IODef{Name: node.Inputs[0]})
	if err != nil {
		return err
	}
	m.AddTensorWrapper(tw)
	return m.AddTransposeNode(index, node.Inputs[0], node.Outputs[0],
		inShape, perm, outShape, tw.Tensor.DataType, tw.Tensor.Quant, validate,
		m.Viewer().IsGraphInput(node.Inputs[0]), m.Viewer().IsGraphOutput(node.Outputs[0]))
}

func convertReshape(m *ModelWrapper, node *graph.Node, validate bool) error {
	inShape, ok := OnnxShape(m.Viewer(), node.Inputs[0])
	if !ok {
		return fmt.Errorf("cannot resolve input shape for %q", node.Inputs[0])
	}
	outShape, ok := OnnxShape(m.Viewer(), node.Outputs[0])
	if !ok {
		return fmt.Errorf("cannot resolve output shape for %q", node.Outputs[0])
	}

	// Same as convertTranspose: a constant input must be registered as
	// static data before the synthetic node claims it.
	tw, err := m.MakeTensorWrapper(&IODef{Name: node.Inputs[0]})
	if err != nil {
		return err
	}
	m.AddTensorWrapper(tw)
	return m.AddReshapeNode(node.Inputs[0], node.Outputs[0], inShape, outShape,
		tw.Tensor.DataType, tw.Tensor.Quant, validate,
		m.Viewer().IsGraphInput(node.Inputs[0]), m.Viewer().IsGraphOutput(node.Outputs[0]))
}

// convertQuantizeLinear attaches the node's scale/zero-point constants
// to its output tensor and emits a Quantize op. With graph-boundary
// offload enabled, a quantize of a graph input is dropped entirely:
// the host quantizes and the backend graph starts at the quantized
// tensor.
func convertQuantizeLinear(m *ModelWrapper, node *graph.Node, validate bool) error {
	out := quantizedIODef(node, node.Outputs[0])

	// The boundary pre-pass already replaced this node's output with an
	// AppWrite tensor; the host does the quantize.
	if m.Settings().OffloadGraphIOQuantization && m.Viewer().IsGraphInput(node.Inputs[0]) {
		return nil
	}

	tw, err := m.MakeTensorWrapper(out)
	if err != nil {
		return err
	}
	m.AddTensorWrapper(tw)
	return addSimpleNode(m, node, "Quantize", node.Inputs[:1], nil, validate)
}

// convertDequantizeLinear is the mirror image: the quant constants
// describe the node's input, and with offload enabled a dequantize
// feeding a graph output is dropped so the host dequantizes.
func convertDequantizeLinear(m *ModelWrapper, node *graph.Node, validate bool) error {
	in := quantizedIODef(node, node.Inputs[0])

	// The boundary pre-pass already replaced this node's input with an
	// AppRead tensor; the host does the dequantize.
	if m.Settings().OffloadGraphIOQuantization && m.Viewer().IsGraphOutput(node.Outputs[0]) {
		return nil
	}

	tw, err := m.MakeTensorWrapper(in)
	if err != nil {
		return err
	}
	m.AddTensorWrapper(tw)
	return addSimpleNode(m, node, "Dequantize", node.Inputs[:1], nil, validate)
}

// quantizedIODef builds the IODef for the data tensor of a Q/DQ node,
// naming its scale and optional zero-point initializers and axis.
func quantizedIODef(node *graph.Node, tensorName string) *IODef {
	meta := &QuantMeta{}
	if len(node.Inputs) > 1 {
		meta.ScaleName = node.Inputs[1]
	}
	if len(node.Inputs) > 2 {
		meta.ZeroPointName = node.Inputs[2]
	}
	if axis, ok := NewAttrHelper(node).Int64("axis"); ok {
		meta.Axis = &axis
	}
	return &IODef{Name: tensorName, Quant: meta}
}
