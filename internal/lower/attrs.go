package lower

import (
	"fmt"
	"math"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/npu"
)

// AttrHelper is a read-only typed view over a portable node's
// attributes with default fallback.
type AttrHelper struct {
	attrs map[string]graph.Attribute
}

func NewAttrHelper(n *graph.Node) AttrHelper {
	return AttrHelper{attrs: n.Attrs}
}

func (h AttrHelper) HasAttr(key string) bool {
	_, ok := h.attrs[key]
	return ok
}

func (h AttrHelper) GetFloat32(key string, def float32) float32 {
	if a, ok := h.attrs[key]; ok {
		return a.F
	}
	return def
}

func (h AttrHelper) GetInt64(key string, def int64) int64 {
	if a, ok := h.attrs[key]; ok {
		return a.I
	}
	return def
}

// GetInt32 narrows an int attribute.
func (h AttrHelper) GetInt32(key string, def int32) int32 {
	if a, ok := h.attrs[key]; ok {
		return int32(a.I)
	}
	return def
}

// GetUint32 narrows an int attribute.
func (h AttrHelper) GetUint32(key string, def uint32) uint32 {
	if a, ok := h.attrs[key]; ok {
		return uint32(a.I)
	}
	return def
}

func (h AttrHelper) GetString(key, def string) string {
	if a, ok := h.attrs[key]; ok {
		return a.S
	}
	return def
}

func (h AttrHelper) GetFloats(key string, def []float32) []float32 {
	if a, ok := h.attrs[key]; ok {
		return a.Floats
	}
	return def
}

func (h AttrHelper) GetInt64s(key string, def []int64) []int64 {
	if a, ok := h.attrs[key]; ok {
		return a.Ints
	}
	return def
}

// GetInt32s narrows an ints attribute element-wise.
func (h AttrHelper) GetInt32s(key string, def []int32) []int32 {
	if a, ok := h.attrs[key]; ok {
		out := make([]int32, len(a.Ints))
		for i, v := range a.Ints {
			out[i] = int32(v)
		}
		return out
	}
	return def
}

// GetUint32s narrows an ints attribute element-wise.
func (h AttrHelper) GetUint32s(key string, def []uint32) []uint32 {
	if a, ok := h.attrs[key]; ok {
		out := make([]uint32, len(a.Ints))
		for i, v := range a.Ints {
			out[i] = uint32(v)
		}
		return out
	}
	return def
}

func (h AttrHelper) GetStrings(key string, def []string) []string {
	if a, ok := h.attrs[key]; ok {
		return a.Strings
	}
	return def
}

// Optional lookups: value plus presence.

func (h AttrHelper) Float32(key string) (float32, bool) {
	a, ok := h.attrs[key]
	return a.F, ok
}

func (h AttrHelper) Int64(key string) (int64, bool) {
	a, ok := h.attrs[key]
	return a.I, ok
}

func (h AttrHelper) String(key string) (string, bool) {
	a, ok := h.attrs[key]
	return a.S, ok
}

// OnnxElemType reads the element type recorded for a named value.
// Fails with ErrMissingTypeInfo when absent: the graph is malformed.
func OnnxElemType(v *graph.Viewer, name string) (graph.DataType, error) {
	tt, ok := v.ValueType(name)
	if !ok || tt.Elem == graph.DTUndefined {
		return graph.DTUndefined, fmt.Errorf("%w: %q", ErrMissingTypeInfo, name)
	}
	return tt.Elem, nil
}

// OnnxShape reads the static shape of a named value as backend dims.
// Returns false when the value is unknown or has symbolic dims.
func OnnxShape(v *graph.Viewer, name string) ([]uint32, bool) {
	tt, ok := v.ValueType(name)
	if !ok {
		return nil, false
	}
	return ShapeFromDims(tt.Shape)
}

// TensorDataType derives the backend element type of a named value.
func TensorDataType(v *graph.Viewer, name string, quantized bool) (npu.DataType, error) {
	onnxType, err := OnnxElemType(v, name)
	if err != nil {
		return npu.DataTypeUndefined, err
	}
	return DataTypeFromOnnx(onnxType, quantized)
}

// GetClipMinMax resolves the effective [min, max] of a Clip node.
// Opset below 11 stores the bounds as float attributes; opset 11 and
// later moves them to optional constant inputs (float or float16).
// Absent bounds default to the full float range. A bound that exists
// but is not a compile-time constant float/half makes the range
// unknown: ok is false and the caller must not assume anything.
func GetClipMinMax(v *graph.Viewer, node *graph.Node) (min, max float32, ok bool) {
	min = -math.MaxFloat32
	max = math.MaxFloat32

	if node.OpsetVersion < 11 {
		h := NewAttrHelper(node)
		min = h.GetFloat32("min", -math.MaxFloat32)
		max = h.GetFloat32("max", math.MaxFloat32)
		return min, max, true
	}

	// min and max are both optional: neither, one or both may exist.
	if len(node.Inputs) > 1 && node.Inputs[1] != "" {
		val, valOK := clipBound(v, node.Inputs[1])
		if !valOK {
			return 0, 0, false
		}
		min = val
	}
	if len(node.Inputs) > 2 && node.Inputs[2] != "" {
		val, valOK := clipBound(v, node.Inputs[2])
		if !valOK {
			return 0, 0, false
		}
		max = val
	}
	return min, max, true
}

func clipBound(v *graph.Viewer, name string) (float32, bool) {
	init := v.ConstantInitializer(name)
	if init == nil {
		return 0, false
	}
	switch init.DataType {
	case graph.DTFloat, graph.DTFloat16:
		val, err := init.ScalarFloat()
		if err != nil {
			return 0, false
		}
		return val, true
	default:
		return 0, false
	}
}
