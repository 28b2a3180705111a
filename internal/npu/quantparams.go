package npu

import (
	"errors"
	"fmt"
)

// QuantEncoding selects the QuantParams variant.
type QuantEncoding uint32

const (
	// EncodingUndefined marks a non-quantized tensor.
	EncodingUndefined QuantEncoding = iota
	// EncodingScaleOffset is one scale/offset pair for the whole tensor.
	EncodingScaleOffset
	// EncodingAxisScaleOffset is one pair per slice along Axis.
	EncodingAxisScaleOffset
	// EncodingBWScaleOffset is a per-tensor pair with an explicit
	// sub-byte bit width.
	EncodingBWScaleOffset
	// EncodingBWAxisScaleOffset is per-axis pairs with an explicit
	// sub-byte bit width.
	EncodingBWAxisScaleOffset
)

func (e QuantEncoding) String() string {
	switch e {
	case EncodingUndefined:
		return "ENCODING_UNDEFINED"
	case EncodingScaleOffset:
		return "ENCODING_SCALE_OFFSET"
	case EncodingAxisScaleOffset:
		return "ENCODING_AXIS_SCALE_OFFSET"
	case EncodingBWScaleOffset:
		return "ENCODING_BW_SCALE_OFFSET"
	case EncodingBWAxisScaleOffset:
		return "ENCODING_BW_AXIS_SCALE_OFFSET"
	default:
		return fmt.Sprintf("QuantEncoding(%d)", uint32(e))
	}
}

// QuantParams is the quantization descriptor attached to a tensor.
// The stored Offset follows the backend convention: it is the negated
// conventional zero-point, so dequantization is (q + offset) * scale.
type QuantParams struct {
	Encoding QuantEncoding
	Bits     uint32
	Axis     int32
	Scale    float32
	Offset   int32
	Scales   []float32
	Offsets  []int32
}

var errQuantParams = errors.New("npu: invalid quant params")

// ScaleOffsetQuant builds a per-tensor encoding.
func ScaleOffsetQuant(scale float32, offset int32) QuantParams {
	return QuantParams{Encoding: EncodingScaleOffset, Scale: scale, Offset: offset}
}

// AxisQuant builds a per-axis encoding.
func AxisQuant(axis int32, scales []float32, offsets []int32) QuantParams {
	return QuantParams{Encoding: EncodingAxisScaleOffset, Axis: axis, Scales: scales, Offsets: offsets}
}

// BWQuant builds a per-tensor encoding with an explicit bit width.
func BWQuant(bits uint32, scale float32, offset int32) QuantParams {
	return QuantParams{Encoding: EncodingBWScaleOffset, Bits: bits, Scale: scale, Offset: offset}
}

// BWAxisQuant builds a per-axis encoding with an explicit bit width.
func BWAxisQuant(bits uint32, axis int32, scales []float32, offsets []int32) QuantParams {
	return QuantParams{Encoding: EncodingBWAxisScaleOffset, Bits: bits, Axis: axis, Scales: scales, Offsets: offsets}
}

// IsQuantized reports whether the tensor carries any encoding.
func (q *QuantParams) IsQuantized() bool { return q.Encoding != EncodingUndefined }

// IsPerTensor reports a scalar scale/offset encoding.
func (q *QuantParams) IsPerTensor() bool {
	return q.Encoding == EncodingScaleOffset || q.Encoding == EncodingBWScaleOffset
}

// IsPerAxis reports an axis-scoped encoding.
func (q *QuantParams) IsPerAxis() bool {
	return q.Encoding == EncodingAxisScaleOffset || q.Encoding == EncodingBWAxisScaleOffset
}

// Validate checks the variant invariants, including that axis-scoped
// arrays match the size of the tensor along Axis when dims are given.
func (q *QuantParams) Validate(dims []uint32) error {
	switch q.Encoding {
	case EncodingUndefined, EncodingScaleOffset:
		return nil
	case EncodingBWScaleOffset:
		if q.Bits == 0 {
			return fmt.Errorf("%w: zero bit width", errQuantParams)
		}
		return nil
	case EncodingAxisScaleOffset, EncodingBWAxisScaleOffset:
		if q.Encoding == EncodingBWAxisScaleOffset && q.Bits == 0 {
			return fmt.Errorf("%w: zero bit width", errQuantParams)
		}
		if len(q.Scales) != len(q.Offsets) {
			return fmt.Errorf("%w: %d scales vs %d offsets", errQuantParams, len(q.Scales), len(q.Offsets))
		}
		if len(dims) > 0 {
			if q.Axis < 0 || int(q.Axis) >= len(dims) {
				return fmt.Errorf("%w: axis %d out of range for rank %d", errQuantParams, q.Axis, len(dims))
			}
			if uint32(len(q.Scales)) != dims[q.Axis] {
				return fmt.Errorf("%w: %d scales for axis dim %d", errQuantParams, len(q.Scales), dims[q.Axis])
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: encoding %s", errQuantParams, q.Encoding)
	}
}
