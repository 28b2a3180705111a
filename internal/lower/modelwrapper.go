package lower

import (
	"fmt"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/logger"
	"github.com/anvilml/anvil/internal/npu"
)

// DefaultOpPackage is the op package nodes are created under when the
// caller does not name one.
const DefaultOpPackage = "anvil.core"

// Settings carries per-build options.
type Settings struct {
	// OffloadGraphIOQuantization leaves graph-boundary quantize and
	// dequantize work to the host instead of baking it into the
	// accelerator graph.
	OffloadGraphIOQuantization bool
}

// TensorInfo is the portable-side metadata of one I/O tensor, in the
// form the builder consumes. If IsInitializer is true, Initializer is
// non-nil.
type TensorInfo struct {
	Shape         []uint32
	DataType      npu.DataType
	Quant         npu.QuantParams
	IsInitializer bool
	Initializer   *graph.Tensor
}

type buildState uint8

const (
	stateUninitialized buildState = iota
	stateGraphCreated
	stateComposed
)

// Fixed weight-layout conversions. The backend's convolution family
// wants HWCN weights; portable Conv weights arrive NCHW and portable
// ConvTranspose weights arrive CNHW. Values are part of the backend
// contract, not derivable.
var (
	nchwToHwcnPerm   = []uint32{2, 3, 1, 0}
	nchwToHwcnPerm3d = []uint32{2, 1, 0}
	cnhwToHwcnPerm   = []uint32{2, 3, 0, 1}
	cnhwToHwcnPerm3d = []uint32{2, 0, 1}
)

// ModelWrapper builds one backend graph from a portable graph view.
// It owns every tensor and param descriptor it creates until the
// graph-input/output wrappers are moved out after compose. Not safe
// for concurrent use; one wrapper builds exactly one graph.
type ModelWrapper struct {
	viewer   *graph.Viewer
	log      logger.Logger
	backend  npu.Backend
	settings Settings

	state     buildState
	handle    npu.GraphHandle
	graphName string

	tensors map[string]TensorWrapper
	params  map[string]ParamWrapper

	// created tracks which tensors (including param tensors) have been
	// materialized in the backend graph, so a tensor shared by several
	// consumers is created exactly once.
	created map[string]bool

	inputNames   []string
	outputNames  []string
	inputsTaken  bool
	outputsTaken bool
}

// NewModelWrapper builds a wrapper over a borrowed portable-graph
// view. The view must outlive the wrapper and is never mutated.
func NewModelWrapper(v *graph.Viewer, log logger.Logger, backend npu.Backend, settings Settings) *ModelWrapper {
	return &ModelWrapper{
		viewer:   v,
		log:      log,
		backend:  backend,
		settings: settings,
		tensors:  make(map[string]TensorWrapper),
		params:   make(map[string]ParamWrapper),
		created:  make(map[string]bool),
	}
}

func (m *ModelWrapper) Viewer() *graph.Viewer   { return m.viewer }
func (m *ModelWrapper) Settings() Settings      { return m.settings }
func (m *ModelWrapper) GraphName() string       { return m.graphName }
func (m *ModelWrapper) Handle() npu.GraphHandle { return m.handle }

// CreateGraph creates the named backend graph. Returns false on
// backend rejection; no partial state is retained.
func (m *ModelWrapper) CreateGraph(name string, configs []npu.GraphConfig) bool {
	if m.state != stateUninitialized {
		m.log.Error("graph already created", "graph", m.graphName)
		return false
	}
	handle, err := m.backend.CreateGraph(name, configs)
	if err != nil {
		m.log.Error("backend rejected graph", "graph", name, "diag", err.Error())
		return false
	}
	m.handle = handle
	m.graphName = name
	m.state = stateGraphCreated
	return true
}

// TensorKind classifies a tensor by name. Computed fresh per call: the
// membership maps are owned by the borrowed view.
func (m *ModelWrapper) TensorKind(name string) npu.TensorKind {
	switch {
	case m.viewer.IsInitializer(name):
		return npu.KindStatic
	case m.viewer.IsGraphInput(name):
		return npu.KindAppWrite
	case m.viewer.IsGraphOutput(name):
		return npu.KindAppRead
	default:
		return npu.KindNative
	}
}

// GetTensorInfo resolves the portable-side metadata of an I/O tensor.
func (m *ModelWrapper) GetTensorInfo(io *IODef) (TensorInfo, error) {
	var info TensorInfo

	dt, err := TensorDataType(m.viewer, io.Name, io.IsQuantized())
	if err != nil {
		return info, err
	}
	shape, ok := OnnxShape(m.viewer, io.Name)
	if !ok {
		return info, fmt.Errorf("lower: cannot resolve static shape for tensor %q", io.Name)
	}
	quant, err := MakeQuantParams(m.viewer, io, len(shape))
	if err != nil {
		return info, err
	}

	info.Shape = shape
	info.DataType = dt
	info.Quant = quant
	info.Initializer = m.viewer.ConstantInitializer(io.Name)
	info.IsInitializer = info.Initializer != nil
	return info, nil
}

// MakeTensorWrapper builds the backend descriptor for an I/O tensor.
// Initializer payloads are captured by reference; packed sub-byte
// payloads are the one exception and are unpacked to bytes.
func (m *ModelWrapper) MakeTensorWrapper(io *IODef) (TensorWrapper, error) {
	info, err := m.GetTensorInfo(io)
	if err != nil {
		return TensorWrapper{}, err
	}

	var data []byte
	if info.IsInitializer {
		data, err = m.UnpackInitializerData(info.Initializer)
		if err != nil {
			return TensorWrapper{}, err
		}
	}
	return NewTensorWrapper(io.Name, m.TensorKind(io.Name), info.DataType, info.Quant, info.Shape, data), nil
}

// AddTensorWrapper registers a descriptor by name. Returns false as a
// no-op when the name is already registered: several consumer nodes
// may resolve the same tensor.
func (m *ModelWrapper) AddTensorWrapper(tw TensorWrapper) bool {
	if _, ok := m.tensors[tw.Name]; ok {
		return false
	}
	m.tensors[tw.Name] = tw
	switch tw.Tensor.Kind {
	case npu.KindAppWrite:
		m.inputNames = append(m.inputNames, tw.Name)
	case npu.KindAppRead:
		m.outputNames = append(m.outputNames, tw.Name)
	}
	return true
}

// HasTensor reports whether a descriptor is registered.
func (m *ModelWrapper) HasTensor(name string) bool {
	_, ok := m.tensors[name]
	return ok
}

// TensorWrapper returns a registered descriptor. A miss is a misuse of
// the builder contract and fatal to the build.
func (m *ModelWrapper) TensorWrapper(name string) (TensorWrapper, error) {
	tw, ok := m.tensors[name]
	if !ok {
		return TensorWrapper{}, fmt.Errorf("%w: tensor wrapper %q", ErrNotFound, name)
	}
	return tw, nil
}

// AddParamWrapper registers an op parameter by name. Idempotent like
// AddTensorWrapper.
func (m *ModelWrapper) AddParamWrapper(pw ParamWrapper) bool {
	if _, ok := m.params[pw.Name]; ok {
		return false
	}
	m.params[pw.Name] = pw
	return true
}

// resolveTensors collects descriptors for the named tensors, lazily
// materializing unregistered ones from the portable view, and creates
// them in the backend graph unless validating. Validation must leave
// the created map and the graph untouched.
func (m *ModelWrapper) resolveTensors(names []string, validateOnly bool) ([]npu.Tensor, bool) {
	out := make([]npu.Tensor, 0, len(names))
	for _, name := range names {
		if !m.HasTensor(name) {
			tw, err := m.MakeTensorWrapper(&IODef{Name: name})
			if err != nil {
				m.log.Error("cannot materialize tensor", "tensor", name, "err", err.Error())
				return nil, false
			}
			m.AddTensorWrapper(tw)
		}
		tw := m.tensors[name]
		if !validateOnly && !m.created[name] {
			if err := m.backend.CreateTensor(m.handle, tw.Tensor); err != nil {
				m.log.Error("backend rejected tensor", "tensor", name, "diag", err.Error())
				return nil, false
			}
			m.created[name] = true
		}
		out = append(out, *tw.Tensor)
	}
	return out, true
}

// resolveParams collects registered parameters, creating tensor-valued
// ones in the backend graph unless validating.
func (m *ModelWrapper) resolveParams(names []string, validateOnly bool) ([]npu.Param, bool) {
	out := make([]npu.Param, 0, len(names))
	for _, name := range names {
		pw, ok := m.params[name]
		if !ok {
			m.log.Error("param wrapper not registered", "param", name)
			return nil, false
		}
		if pw.Param.IsTensorParam() && !validateOnly && !m.created[pw.Name] {
			if err := m.backend.CreateTensor(m.handle, pw.Param.Tensor); err != nil {
				m.log.Error("backend rejected param tensor", "param", name, "diag", err.Error())
				return nil, false
			}
			m.created[pw.Name] = true
		}
		out = append(out, *pw.Param)
	}
	return out, true
}

// Materialize resolves and creates the named tensors in the backend
// graph ahead of any node that references them. Used to pin down the
// declared graph inputs and outputs so an output no node produces is
// caught at compose time.
func (m *ModelWrapper) Materialize(names ...string) bool {
	if m.state != stateGraphCreated {
		return false
	}
	_, ok := m.resolveTensors(names, false)
	return ok
}

// AddNode converts one portable node into a backend node. With
// validateOnly it only asks the backend to validate the configuration
// and leaves all builder and graph state untouched. Returns false with
// a logged diagnostic on backend rejection; the caller decides whether
// to abort or fall back for that node.
func (m *ModelWrapper) AddNode(name, pkg, opType string, inputNames, outputNames, paramNames []string, validateOnly bool) bool {
	if m.state != stateGraphCreated {
		m.log.Error("AddNode outside GraphCreated state", "node", name, "state", m.state)
		return false
	}
	if pkg == "" {
		pkg = DefaultOpPackage
	}

	inputs, ok := m.resolveTensors(inputNames, validateOnly)
	if !ok {
		return false
	}
	outputs, ok := m.resolveTensors(outputNames, validateOnly)
	if !ok {
		return false
	}
	params, ok := m.resolveParams(paramNames, validateOnly)
	if !ok {
		return false
	}

	op := npu.OpConfig{
		Name:    name,
		Package: pkg,
		Type:    opType,
		Inputs:  inputs,
		Outputs: outputs,
		Params:  params,
	}
	if validateOnly {
		if err := m.backend.ValidateNode(&op); err != nil {
			m.log.Warn("backend rejected node at validation", "node", name, "op", opType, "diag", err.Error())
			return false
		}
		return true
	}
	if err := m.backend.CreateNode(m.handle, &op); err != nil {
		m.log.Error("backend rejected node", "node", name, "op", opType, "diag", err.Error())
		m.log.Debug("rejected op config", "dump", npu.DumpOpConfig(&op))
		return false
	}
	return true
}

// AddReshapeNode inserts a synthetic Reshape translating between two
// shapes of the same element count.
func (m *ModelWrapper) AddReshapeNode(inputName, outputName string, inputShape, outputShape []uint32,
	dt npu.DataType, quant npu.QuantParams, validateOnly, isForInput, isForOutput bool) error {
	inKind := npu.KindNative
	if isForInput {
		inKind = npu.KindAppWrite
	}
	m.AddTensorWrapper(NewTensorWrapper(inputName, inKind, dt, quant, inputShape, nil))

	outKind := npu.KindNative
	if isForOutput {
		outKind = npu.KindAppRead
	}
	m.AddTensorWrapper(NewTensorWrapper(outputName, outKind, dt, quant, outputShape, nil))

	if !m.AddNode(outputName, DefaultOpPackage, "Reshape",
		[]string{inputName}, []string{outputName}, nil, validateOnly) {
		return fmt.Errorf("lower: failed to add Reshape node %s -> %s", inputName, outputName)
	}
	return nil
}

// AddTransposeNode inserts a synthetic Transpose with an explicit
// permutation. nodeIndex disambiguates the perm param tensor when the
// same output name is transposed under different portable nodes.
func (m *ModelWrapper) AddTransposeNode(nodeIndex int, inputName, outputName string,
	inputShape, perm, outputShape []uint32, dt npu.DataType, quant npu.QuantParams,
	validateOnly, isForInput, isForOutput bool) error {
	if len(inputShape) != len(perm) || len(outputShape) != len(perm) {
		return fmt.Errorf("lower: transpose %s: rank mismatch (in %d, perm %d, out %d)",
			outputName, len(inputShape), len(perm), len(outputShape))
	}

	permData := make([]byte, 4*len(perm))
	for i, p := range perm {
		permData[4*i] = byte(p)
		permData[4*i+1] = byte(p >> 8)
		permData[4*i+2] = byte(p >> 16)
		permData[4*i+3] = byte(p >> 24)
	}
	paramOwner := fmt.Sprintf("%s_%d", outputName, nodeIndex)
	pw := NewTensorParam(paramOwner, "perm", npu.DataTypeUInt32, []uint32{uint32(len(perm))}, permData)
	m.AddParamWrapper(pw)

	inKind := npu.KindNative
	if isForInput {
		inKind = npu.KindAppWrite
	}
	m.AddTensorWrapper(NewTensorWrapper(inputName, inKind, dt, quant, inputShape, nil))

	outKind := npu.KindNative
	if isForOutput {
		outKind = npu.KindAppRead
	}
	m.AddTensorWrapper(NewTensorWrapper(outputName, outKind, dt, quant, outputShape, nil))

	if !m.AddNode(outputName, DefaultOpPackage, "Transpose",
		[]string{inputName}, []string{outputName}, []string{pw.Name}, validateOnly) {
		return fmt.Errorf("lower: failed to add Transpose node %s -> %s", inputName, outputName)
	}
	return nil
}

// AddNchwToHwcnTranspose re-orders a convolution weight tensor from
// the portable NCHW layout to the HWCN layout the backend expects.
func (m *ModelWrapper) AddNchwToHwcnTranspose(nodeIndex int, inputName, outputName string,
	inputShape, outputShape []uint32, dt npu.DataType, quant npu.QuantParams,
	validateOnly, isForInput, isForOutput, is3D bool) error {
	m.log.Debug("adding NCHW->HWCN transpose for conv weight", "input", inputName, "output", outputName)
	perm := nchwToHwcnPerm
	if is3D {
		perm = nchwToHwcnPerm3d
	}
	return m.AddTransposeNode(nodeIndex, inputName, outputName, inputShape, perm, outputShape,
		dt, quant, validateOnly, isForInput, isForOutput)
}

// AddCnhwToHwcnTranspose re-orders a deconvolution weight tensor from
// the portable CNHW layout to HWCN.
func (m *ModelWrapper) AddCnhwToHwcnTranspose(nodeIndex int, inputName, outputName string,
	inputShape, outputShape []uint32, dt npu.DataType, quant npu.QuantParams,
	validateOnly, isForInput, isForOutput, is3D bool) error {
	m.log.Debug("adding CNHW->HWCN transpose for deconv weight", "input", inputName, "output", outputName)
	perm := cnhwToHwcnPerm
	if is3D {
		perm = cnhwToHwcnPerm3d
	}
	return m.AddTransposeNode(nodeIndex, inputName, outputName, inputShape, perm, outputShape,
		dt, quant, validateOnly, isForInput, isForOutput)
}

// ComposeGraph finalizes the backend graph for execution. No AddNode
// is valid afterwards.
func (m *ModelWrapper) ComposeGraph() bool {
	if m.state != stateGraphCreated {
		m.log.Error("ComposeGraph outside GraphCreated state", "graph", m.graphName, "state", m.state)
		return false
	}
	if err := m.backend.Finalize(m.handle); err != nil {
		m.log.Error("backend rejected graph at compose", "graph", m.graphName, "diag", err.Error())
		return false
	}
	m.state = stateComposed
	return true
}

// TakeGraphInputs moves the accumulated graph-input wrappers out of
// the registry. The second call returns an empty slice: the wrappers
// are gone, which signals "already consumed", not an error.
func (m *ModelWrapper) TakeGraphInputs() []TensorWrapper {
	if m.inputsTaken {
		return nil
	}
	m.inputsTaken = true
	return m.takeWrappers(m.inputNames)
}

// TakeGraphOutputs moves the accumulated graph-output wrappers out of
// the registry. Same one-shot semantics as TakeGraphInputs.
func (m *ModelWrapper) TakeGraphOutputs() []TensorWrapper {
	if m.outputsTaken {
		return nil
	}
	m.outputsTaken = true
	return m.takeWrappers(m.outputNames)
}

func (m *ModelWrapper) takeWrappers(names []string) []TensorWrapper {
	out := make([]TensorWrapper, 0, len(names))
	for _, name := range names {
		tw, ok := m.tensors[name]
		if !ok {
			// Moved-out or never-registered names indicate API misuse.
			m.log.Error("graph i/o wrapper missing at take", "tensor", name)
			continue
		}
		delete(m.tensors, name)
		out = append(out, tw)
	}
	return out
}

// UnpackInitializerData returns the raw constant payload. Packed
// 4-bit payloads are expanded to one byte per element; everything
// else is passed through by reference.
func (m *ModelWrapper) UnpackInitializerData(t *graph.Tensor) ([]byte, error) {
	switch t.DataType {
	case graph.DTInt4:
		return UnpackInt4ToInt8(int(t.NumElements()), t.Raw)
	case graph.DTUInt4:
		return UnpackUInt4ToUInt8(int(t.NumElements()), t.Raw)
	default:
		return t.Raw, nil
	}
}

// IsPerChannelQuantized inspects the quantization constants attached
// to an I/O tensor and reports the channel axis when the encoding is
// axis-scoped with more than one distinct scale. A scale tensor whose
// entries are all equal degenerates to per-tensor quantization.
func (m *ModelWrapper) IsPerChannelQuantized(io *IODef) (bool, int64, error) {
	if !io.IsQuantized() {
		return false, 0, nil
	}
	scales, err := UnpackScales(m.viewer, io.Quant.ScaleName)
	if err != nil {
		return false, 0, err
	}
	if len(scales) <= 1 {
		return false, 0, nil
	}
	distinct := false
	for _, s := range scales[1:] {
		if s != scales[0] {
			distinct = true
			break
		}
	}
	if !distinct {
		return false, 0, nil
	}
	axis := defaultChannelAxis
	if io.Quant.Axis != nil {
		axis = *io.Quant.Axis
	}
	if axis < 0 {
		shape, ok := OnnxShape(m.viewer, io.Name)
		if !ok {
			return false, 0, fmt.Errorf("lower: cannot normalize axis for tensor %q without a shape", io.Name)
		}
		axis += int64(len(shape))
	}
	return true, axis, nil
}

// Close releases the backend graph handle and everything the build
// accumulated. The wrapper must not be used afterwards.
func (m *ModelWrapper) Close() {
	if m.handle != nil {
		m.backend.Release(m.handle)
		m.handle = nil
	}
	m.tensors = nil
	m.params = nil
	m.created = nil
}
