// Package graph holds the portable, vendor-neutral computation graph
// consumed by the lowering pipeline: nodes, typed attributes, value
// type info and constant initializers. Parsing and validation of the
// source model format happen upstream; this package only models the
// result.
package graph

import (
	"errors"
	"fmt"
)

// DataType identifies the element type of a portable tensor. The
// numeric values match the ONNX TensorProto wire enum so upstream
// loaders can pass them through unchanged.
type DataType int32

const (
	DTUndefined DataType = 0
	DTFloat     DataType = 1
	DTUInt8     DataType = 2
	DTInt8      DataType = 3
	DTUInt16    DataType = 4
	DTInt16     DataType = 5
	DTInt32     DataType = 6
	DTInt64     DataType = 7
	DTBool      DataType = 9
	DTFloat16   DataType = 10
	DTDouble    DataType = 11
	DTUInt32    DataType = 12
	DTUInt64    DataType = 13
	DTInt4      DataType = 22
	DTUInt4     DataType = 21
)

func (dt DataType) String() string {
	switch dt {
	case DTUndefined:
		return "undefined"
	case DTFloat:
		return "float32"
	case DTUInt8:
		return "uint8"
	case DTInt8:
		return "int8"
	case DTUInt16:
		return "uint16"
	case DTInt16:
		return "int16"
	case DTInt32:
		return "int32"
	case DTInt64:
		return "int64"
	case DTBool:
		return "bool"
	case DTFloat16:
		return "float16"
	case DTDouble:
		return "float64"
	case DTUInt32:
		return "uint32"
	case DTUInt64:
		return "uint64"
	case DTInt4:
		return "int4"
	case DTUInt4:
		return "uint4"
	default:
		return fmt.Sprintf("DataType(%d)", int32(dt))
	}
}

// AttrKind discriminates the Attribute union.
type AttrKind uint8

const (
	AttrUndefined AttrKind = iota
	AttrFloat
	AttrInt
	AttrString
	AttrFloats
	AttrInts
	AttrStrings
)

// Attribute is a typed node attribute. Exactly one value field is
// meaningful, selected by Kind.
type Attribute struct {
	Kind    AttrKind
	F       float32
	I       int64
	S       string
	Floats  []float32
	Ints    []int64
	Strings []string
}

func FloatAttr(v float32) Attribute    { return Attribute{Kind: AttrFloat, F: v} }
func IntAttr(v int64) Attribute        { return Attribute{Kind: AttrInt, I: v} }
func StringAttr(v string) Attribute    { return Attribute{Kind: AttrString, S: v} }
func FloatsAttr(v []float32) Attribute { return Attribute{Kind: AttrFloats, Floats: v} }
func IntsAttr(v []int64) Attribute     { return Attribute{Kind: AttrInts, Ints: v} }
func StringsAttr(v []string) Attribute { return Attribute{Kind: AttrStrings, Strings: v} }

// Node is one operator instance in the portable graph.
type Node struct {
	Name         string
	OpType       string
	OpsetVersion int64
	Inputs       []string
	Outputs      []string
	Attrs        map[string]Attribute
}

// TensorType records the element type and (possibly partial) shape of
// a named value. A negative dim marks a symbolic/unknown dimension.
type TensorType struct {
	Elem  DataType
	Shape []int64
}

// Graph is a portable computation graph. Inputs and Outputs list the
// graph-boundary tensor names in positional order. ValueInfos covers
// inputs, outputs and any annotated intermediates.
type Graph struct {
	Name         string
	Nodes        []Node
	Inputs       []string
	Outputs      []string
	ValueInfos   map[string]TensorType
	Initializers map[string]*Tensor
}

var errDuplicateTensor = errors.New("graph: duplicate tensor name")

// AddInitializer registers a constant tensor and its implied value
// info. Duplicate names are rejected: the portable graph keys all
// tensors by unique name.
func (g *Graph) AddInitializer(t *Tensor) error {
	if g.Initializers == nil {
		g.Initializers = make(map[string]*Tensor)
	}
	if _, ok := g.Initializers[t.Name]; ok {
		return fmt.Errorf("%w: %q", errDuplicateTensor, t.Name)
	}
	g.Initializers[t.Name] = t
	if g.ValueInfos == nil {
		g.ValueInfos = make(map[string]TensorType)
	}
	if _, ok := g.ValueInfos[t.Name]; !ok {
		g.ValueInfos[t.Name] = TensorType{Elem: t.DataType, Shape: append([]int64(nil), t.Dims...)}
	}
	return nil
}
