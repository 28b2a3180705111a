// Package npu models the accelerator-side graph vocabulary: tensor
// descriptors, operator configs, quantization encodings and the
// Backend contract a vendor runtime must satisfy. The lowering layer
// builds these structures; it never talks to vendor SDK headers
// directly.
package npu

import (
	"errors"
	"fmt"
)

// DataType is the backend element type. Fixed-point variants carry
// quantization encodings; plain integer variants do not.
type DataType uint32

const (
	DataTypeUndefined DataType = iota
	DataTypeInt8
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeUInt8
	DataTypeUInt16
	DataTypeUInt32
	DataTypeUInt64
	DataTypeFloat16
	DataTypeFloat32
	DataTypeBool8
	DataTypeSFixed4
	DataTypeSFixed8
	DataTypeSFixed16
	DataTypeSFixed32
	DataTypeUFixed4
	DataTypeUFixed8
	DataTypeUFixed16
	DataTypeUFixed32
)

var dataTypeNames = map[DataType]string{
	DataTypeUndefined: "UNDEFINED",
	DataTypeInt8:      "INT_8",
	DataTypeInt16:     "INT_16",
	DataTypeInt32:     "INT_32",
	DataTypeInt64:     "INT_64",
	DataTypeUInt8:     "UINT_8",
	DataTypeUInt16:    "UINT_16",
	DataTypeUInt32:    "UINT_32",
	DataTypeUInt64:    "UINT_64",
	DataTypeFloat16:   "FLOAT_16",
	DataTypeFloat32:   "FLOAT_32",
	DataTypeBool8:     "BOOL_8",
	DataTypeSFixed4:   "SFIXED_POINT_4",
	DataTypeSFixed8:   "SFIXED_POINT_8",
	DataTypeSFixed16:  "SFIXED_POINT_16",
	DataTypeSFixed32:  "SFIXED_POINT_32",
	DataTypeUFixed4:   "UFIXED_POINT_4",
	DataTypeUFixed8:   "UFIXED_POINT_8",
	DataTypeUFixed16:  "UFIXED_POINT_16",
	DataTypeUFixed32:  "UFIXED_POINT_32",
}

func (dt DataType) String() string {
	if s, ok := dataTypeNames[dt]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", uint32(dt))
}

var ErrUnknownDataType = errors.New("npu: unknown data type")

// ElementSize returns the byte width of one element. Sub-byte
// fixed-point types have no standalone element size and are rejected.
func ElementSize(dt DataType) (int, error) {
	switch dt {
	case DataTypeInt8, DataTypeUInt8, DataTypeBool8, DataTypeSFixed8, DataTypeUFixed8:
		return 1, nil
	case DataTypeInt16, DataTypeUInt16, DataTypeFloat16, DataTypeSFixed16, DataTypeUFixed16:
		return 2, nil
	case DataTypeInt32, DataTypeUInt32, DataTypeFloat32, DataTypeSFixed32, DataTypeUFixed32:
		return 4, nil
	case DataTypeInt64, DataTypeUInt64:
		return 8, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownDataType, dt)
	}
}

// TensorKind is the backend tensor category: who reads and writes it.
type TensorKind uint32

const (
	// KindAppWrite marks a graph input written by the host.
	KindAppWrite TensorKind = iota
	// KindAppRead marks a graph output read back by the host.
	KindAppRead
	// KindNative marks an intermediate owned by the backend.
	KindNative
	// KindStatic marks constant data baked into the graph.
	KindStatic
)

func (k TensorKind) String() string {
	switch k {
	case KindAppWrite:
		return "APP_WRITE"
	case KindAppRead:
		return "APP_READ"
	case KindNative:
		return "NATIVE"
	case KindStatic:
		return "STATIC"
	default:
		return fmt.Sprintf("TensorKind(%d)", uint32(k))
	}
}

// MemKind says how tensor payload memory is referenced.
type MemKind uint32

const (
	MemRaw MemKind = iota
	MemHandle
)

func (m MemKind) String() string {
	switch m {
	case MemRaw:
		return "RAW"
	case MemHandle:
		return "MEMHANDLE"
	default:
		return fmt.Sprintf("MemKind(%d)", uint32(m))
	}
}

// Tensor is the backend tensor descriptor. ID is assigned by the
// backend when the tensor is created in a graph.
type Tensor struct {
	ID       uint64
	Name     string
	Kind     TensorKind
	DataType DataType
	MemKind  MemKind
	Dims     []uint32
	Quant    QuantParams
	Data     []byte
}

// Rank returns the tensor rank.
func (t *Tensor) Rank() int { return len(t.Dims) }

// NumElements returns the element count implied by Dims.
func (t *Tensor) NumElements() uint64 {
	n := uint64(1)
	for _, d := range t.Dims {
		n *= uint64(d)
	}
	return n
}

// Scalar is a scalar-valued operator parameter.
type Scalar struct {
	DataType DataType
	F32      float32
	I32      int32
	U32      uint32
	B8       bool
}

func Uint32Scalar(v uint32) Scalar   { return Scalar{DataType: DataTypeUInt32, U32: v} }
func Int32Scalar(v int32) Scalar     { return Scalar{DataType: DataTypeInt32, I32: v} }
func Float32Scalar(v float32) Scalar { return Scalar{DataType: DataTypeFloat32, F32: v} }
func BoolScalar(v bool) Scalar       { return Scalar{DataType: DataTypeBool8, B8: v} }

// Param is an operator parameter: exactly one of Scalar or Tensor is
// set.
type Param struct {
	Name   string
	Scalar *Scalar
	Tensor *Tensor
}

// IsTensorParam reports whether the parameter is tensor-valued.
func (p *Param) IsTensorParam() bool { return p.Tensor != nil }

// GraphConfig is one opaque backend graph option.
type GraphConfig struct {
	Key   string
	Value string
}

// OpConfig describes one backend node: its identity plus resolved
// input/output tensor descriptors and parameters.
type OpConfig struct {
	Name    string
	Package string
	Type    string
	Inputs  []Tensor
	Outputs []Tensor
	Params  []Param
}
