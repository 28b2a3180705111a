package graph

import (
	"fmt"
	"io"
	"os"
	"slices"

	json "github.com/goccy/go-json"
)

// Wire format for portable graphs. Element types are spelled out as
// strings, tensor payloads travel base64-encoded.

type jsonGraph struct {
	Name         string              `json:"name"`
	Inputs       []string            `json:"inputs"`
	Outputs      []string            `json:"outputs"`
	ValueInfos   map[string]jsonType `json:"value_infos,omitempty"`
	Initializers []jsonTensor        `json:"initializers,omitempty"`
	Nodes        []jsonNode          `json:"nodes"`
}

type jsonType struct {
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
}

type jsonTensor struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Dims  []int64 `json:"dims"`
	Data  []byte  `json:"data,omitempty"`
}

type jsonNode struct {
	Name    string              `json:"name"`
	OpType  string              `json:"op_type"`
	Opset   int64               `json:"opset,omitempty"`
	Inputs  []string            `json:"inputs"`
	Outputs []string            `json:"outputs"`
	Attrs   map[string]jsonAttr `json:"attrs,omitempty"`
}

type jsonAttr struct {
	Float   *float32  `json:"float,omitempty"`
	Int     *int64    `json:"int,omitempty"`
	String  *string   `json:"string,omitempty"`
	Floats  []float32 `json:"floats,omitempty"`
	Ints    []int64   `json:"ints,omitempty"`
	Strings []string  `json:"strings,omitempty"`
}

var dataTypeNames = map[string]DataType{
	"float32": DTFloat,
	"uint8":   DTUInt8,
	"int8":    DTInt8,
	"uint16":  DTUInt16,
	"int16":   DTInt16,
	"int32":   DTInt32,
	"int64":   DTInt64,
	"bool":    DTBool,
	"float16": DTFloat16,
	"float64": DTDouble,
	"uint32":  DTUInt32,
	"uint64":  DTUInt64,
	"int4":    DTInt4,
	"uint4":   DTUInt4,
}

// ParseDataType resolves a wire-format element type name.
func ParseDataType(s string) (DataType, error) {
	dt, ok := dataTypeNames[s]
	if !ok {
		return DTUndefined, fmt.Errorf("graph: unknown data type %q", s)
	}
	return dt, nil
}

// Load reads a portable graph from a JSON file.
func Load(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	g, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("graph: load %s: %w", path, err)
	}
	return g, nil
}

// Decode parses a portable graph from JSON.
func Decode(r io.Reader) (*Graph, error) {
	var jg jsonGraph
	if err := json.NewDecoder(r).Decode(&jg); err != nil {
		return nil, fmt.Errorf("graph: decode: %w", err)
	}

	g := &Graph{
		Name:       jg.Name,
		Inputs:     jg.Inputs,
		Outputs:    jg.Outputs,
		ValueInfos: make(map[string]TensorType, len(jg.ValueInfos)),
	}
	for name, jt := range jg.ValueInfos {
		dt, err := ParseDataType(jt.DType)
		if err != nil {
			return nil, fmt.Errorf("value info %q: %w", name, err)
		}
		g.ValueInfos[name] = TensorType{Elem: dt, Shape: jt.Shape}
	}
	for _, jt := range jg.Initializers {
		dt, err := ParseDataType(jt.DType)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", jt.Name, err)
		}
		if err := g.AddInitializer(&Tensor{Name: jt.Name, DataType: dt, Dims: jt.Dims, Raw: jt.Data}); err != nil {
			return nil, err
		}
	}
	g.Nodes = make([]Node, 0, len(jg.Nodes))
	for _, jn := range jg.Nodes {
		n := Node{
			Name:         jn.Name,
			OpType:       jn.OpType,
			OpsetVersion: jn.Opset,
			Inputs:       jn.Inputs,
			Outputs:      jn.Outputs,
		}
		if len(jn.Attrs) > 0 {
			n.Attrs = make(map[string]Attribute, len(jn.Attrs))
			for key, ja := range jn.Attrs {
				attr, err := ja.toAttribute()
				if err != nil {
					return nil, fmt.Errorf("node %q attribute %q: %w", jn.Name, key, err)
				}
				n.Attrs[key] = attr
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	return g, nil
}

// Encode writes a portable graph as JSON.
func Encode(w io.Writer, g *Graph) error {
	jg := jsonGraph{
		Name:    g.Name,
		Inputs:  g.Inputs,
		Outputs: g.Outputs,
		Nodes:   make([]jsonNode, 0, len(g.Nodes)),
	}
	if len(g.ValueInfos) > 0 {
		jg.ValueInfos = make(map[string]jsonType, len(g.ValueInfos))
		for name, tt := range g.ValueInfos {
			jg.ValueInfos[name] = jsonType{DType: tt.Elem.String(), Shape: tt.Shape}
		}
	}
	for _, t := range sortedInitializers(g) {
		jg.Initializers = append(jg.Initializers, jsonTensor{
			Name:  t.Name,
			DType: t.DataType.String(),
			Dims:  t.Dims,
			Data:  t.Raw,
		})
	}
	for _, n := range g.Nodes {
		jn := jsonNode{
			Name:    n.Name,
			OpType:  n.OpType,
			Opset:   n.OpsetVersion,
			Inputs:  n.Inputs,
			Outputs: n.Outputs,
		}
		if len(n.Attrs) > 0 {
			jn.Attrs = make(map[string]jsonAttr, len(n.Attrs))
			for key, a := range n.Attrs {
				jn.Attrs[key] = fromAttribute(a)
			}
		}
		jg.Nodes = append(jg.Nodes, jn)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jg)
}

func (ja jsonAttr) toAttribute() (Attribute, error) {
	switch {
	case ja.Float != nil:
		return FloatAttr(*ja.Float), nil
	case ja.Int != nil:
		return IntAttr(*ja.Int), nil
	case ja.String != nil:
		return StringAttr(*ja.String), nil
	case ja.Floats != nil:
		return FloatsAttr(ja.Floats), nil
	case ja.Ints != nil:
		return IntsAttr(ja.Ints), nil
	case ja.Strings != nil:
		return StringsAttr(ja.Strings), nil
	default:
		return Attribute{}, fmt.Errorf("graph: attribute has no value")
	}
}

func fromAttribute(a Attribute) jsonAttr {
	switch a.Kind {
	case AttrFloat:
		v := a.F
		return jsonAttr{Float: &v}
	case AttrInt:
		v := a.I
		return jsonAttr{Int: &v}
	case AttrString:
		v := a.S
		return jsonAttr{String: &v}
	case AttrFloats:
		return jsonAttr{Floats: a.Floats}
	case AttrInts:
		return jsonAttr{Ints: a.Ints}
	case AttrStrings:
		return jsonAttr{Strings: a.Strings}
	default:
		return jsonAttr{}
	}
}

func sortedInitializers(g *Graph) []*Tensor {
	names := make([]string, 0, len(g.Initializers))
	for name := range g.Initializers {
		names = append(names, name)
	}
	// Deterministic output keeps graph files diffable.
	slices.Sort(names)
	out := make([]*Tensor, 0, len(names))
	for _, name := range names {
		out = append(out, g.Initializers[name])
	}
	return out
}
