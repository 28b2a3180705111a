package graph

// Viewer is a read-only view over a Graph with the index maps the
// lowering layer needs. It is safe for concurrent readers; nothing in
// this package mutates the underlying graph after NewViewer returns.
type Viewer struct {
	g           *Graph
	inputIndex  map[string]int
	outputIndex map[string]int
}

func NewViewer(g *Graph) *Viewer {
	v := &Viewer{
		g:           g,
		inputIndex:  make(map[string]int, len(g.Inputs)),
		outputIndex: make(map[string]int, len(g.Outputs)),
	}
	for i, name := range g.Inputs {
		// Initializers may appear in the input list of older models;
		// they are constants, not runtime graph inputs.
		if _, ok := g.Initializers[name]; ok {
			continue
		}
		v.inputIndex[name] = i
	}
	for i, name := range g.Outputs {
		v.outputIndex[name] = i
	}
	return v
}

func (v *Viewer) Graph() *Graph { return v.g }
func (v *Viewer) Name() string  { return v.g.Name }
func (v *Viewer) Nodes() []Node { return v.g.Nodes }

// InputIndex reports the positional index of a graph input.
func (v *Viewer) InputIndex(name string) (int, bool) {
	i, ok := v.inputIndex[name]
	return i, ok
}

// OutputIndex reports the positional index of a graph output.
func (v *Viewer) OutputIndex(name string) (int, bool) {
	i, ok := v.outputIndex[name]
	return i, ok
}

func (v *Viewer) IsGraphInput(name string) bool {
	_, ok := v.inputIndex[name]
	return ok
}

func (v *Viewer) IsGraphOutput(name string) bool {
	_, ok := v.outputIndex[name]
	return ok
}

// IsInitializer reports whether name refers to a constant tensor.
func (v *Viewer) IsInitializer(name string) bool {
	_, ok := v.g.Initializers[name]
	return ok
}

// ConstantInitializer returns the constant tensor for name, or nil if
// the name is absent or not constant.
func (v *Viewer) ConstantInitializer(name string) *Tensor {
	return v.g.Initializers[name]
}

// ValueType returns recorded type info for a named value.
func (v *Viewer) ValueType(name string) (TensorType, bool) {
	tt, ok := v.g.ValueInfos[name]
	return tt, ok
}
