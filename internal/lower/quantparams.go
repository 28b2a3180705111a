package lower

import (
	"fmt"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/npu"
)

// QuantMeta names the quantization constants the upstream Q/DQ layer
// attached to a tensor: a scale initializer, an optional zero-point
// initializer, and an optional axis for per-channel encodings.
type QuantMeta struct {
	ScaleName     string
	ZeroPointName string
	Axis          *int64
}

// IODef identifies one input or output of a portable node. Quant is
// nil for float tensors.
type IODef struct {
	Name  string
	Quant *QuantMeta
}

// IsQuantized reports whether the tensor carries quant metadata.
func (io *IODef) IsQuantized() bool { return io.Quant != nil }

// defaultChannelAxis is the per-channel axis when the Q/DQ metadata
// does not name one.
const defaultChannelAxis = int64(1)

// UnpackScales reads float scales from an initializer: one for
// per-tensor encodings, several for per-axis.
func UnpackScales(v *graph.Viewer, name string) ([]float32, error) {
	init := v.ConstantInitializer(name)
	if init == nil {
		return nil, fmt.Errorf("lower: scale %q is not a constant initializer", name)
	}
	scales, err := init.Floats()
	if err != nil {
		return nil, fmt.Errorf("lower: unpack scales %q: %w", name, err)
	}
	return scales, nil
}

// UnpackZeroPoints reads zero-points from an initializer, widened to
// int32 and negated to the backend's stored convention. The portable
// element type of the initializer is returned so callers can detect
// sub-byte encodings.
func UnpackZeroPoints(v *graph.Viewer, name string) ([]int32, graph.DataType, error) {
	init := v.ConstantInitializer(name)
	if init == nil {
		return nil, graph.DTUndefined, fmt.Errorf("lower: zero-point %q is not a constant initializer", name)
	}

	n := int(init.NumElements())
	out := make([]int32, n)
	switch init.DataType {
	case graph.DTInt4:
		for i := 0; i < n; i++ {
			nib := nibbleAt(init.Raw, i)
			out[i] = -int32(int8(nib<<4) >> 4)
		}
	case graph.DTUInt4:
		for i := 0; i < n; i++ {
			out[i] = -int32(nibbleAt(init.Raw, i))
		}
	case graph.DTInt8, graph.DTUInt8:
		vals, err := init.Int64s()
		if err != nil {
			return nil, graph.DTUndefined, fmt.Errorf("lower: unpack zero-points %q: %w", name, err)
		}
		for i, zp := range vals {
			out[i] = -int32(zp)
		}
	case graph.DTInt16, graph.DTUInt16, graph.DTInt32:
		vals, err := wideZeroPoints(init)
		if err != nil {
			return nil, graph.DTUndefined, fmt.Errorf("lower: unpack zero-points %q: %w", name, err)
		}
		for i, zp := range vals {
			out[i] = -int32(zp)
		}
	default:
		return nil, graph.DTUndefined, fmt.Errorf("%w: zero-point %q has type %s",
			ErrUnsupportedDataType, name, init.DataType)
	}
	return out, init.DataType, nil
}

func nibbleAt(raw []byte, i int) byte {
	b := raw[i/2]
	if i%2 == 0 {
		return b & 0x0F
	}
	return b >> 4
}

func wideZeroPoints(init *graph.Tensor) ([]int64, error) {
	n := int(init.NumElements())
	out := make([]int64, n)
	switch init.DataType {
	case graph.DTInt16:
		for i := 0; i < n; i++ {
			out[i] = int64(int16(uint16(init.Raw[i*2]) | uint16(init.Raw[i*2+1])<<8))
		}
	case graph.DTUInt16:
		for i := 0; i < n; i++ {
			out[i] = int64(uint16(init.Raw[i*2]) | uint16(init.Raw[i*2+1])<<8)
		}
	case graph.DTInt32:
		for i := 0; i < n; i++ {
			out[i] = int64(int32(uint32(init.Raw[i*4]) | uint32(init.Raw[i*4+1])<<8 |
				uint32(init.Raw[i*4+2])<<16 | uint32(init.Raw[i*4+3])<<24))
		}
	default:
		return nil, fmt.Errorf("cannot decode %s zero-points", init.DataType)
	}
	return out, nil
}

// MakeQuantParams builds the backend quantization descriptor for an
// I/O tensor from its attached Q/DQ constants. rank is the tensor rank,
// used to normalize a negative channel axis.
func MakeQuantParams(v *graph.Viewer, io *IODef, rank int) (npu.QuantParams, error) {
	if !io.IsQuantized() {
		return npu.QuantParams{}, nil
	}

	scales, err := UnpackScales(v, io.Quant.ScaleName)
	if err != nil {
		return npu.QuantParams{}, err
	}

	var offsets []int32
	zpType := graph.DTUndefined
	if io.Quant.ZeroPointName != "" {
		offsets, zpType, err = UnpackZeroPoints(v, io.Quant.ZeroPointName)
		if err != nil {
			return npu.QuantParams{}, err
		}
		if len(offsets) != len(scales) {
			return npu.QuantParams{}, fmt.Errorf("lower: tensor %q: %d zero-points for %d scales",
				io.Name, len(offsets), len(scales))
		}
	} else {
		offsets = make([]int32, len(scales))
	}
	subByte := zpType == graph.DTInt4 || zpType == graph.DTUInt4

	if len(scales) == 1 {
		if subByte {
			return npu.BWQuant(4, scales[0], offsets[0]), nil
		}
		return npu.ScaleOffsetQuant(scales[0], offsets[0]), nil
	}

	axis := defaultChannelAxis
	if io.Quant.Axis != nil {
		axis = *io.Quant.Axis
	}
	if axis < 0 {
		axis += int64(rank)
	}
	if axis < 0 || axis >= int64(rank) {
		return npu.QuantParams{}, fmt.Errorf("lower: tensor %q: channel axis %d out of range for rank %d",
			io.Name, axis, rank)
	}
	if subByte {
		return npu.BWAxisQuant(4, int32(axis), scales, offsets), nil
	}
	return npu.AxisQuant(int32(axis), scales, offsets), nil
}
