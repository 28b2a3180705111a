package lower

import (
	"fmt"
	"math"

	"github.com/anvilml/anvil/internal/npu"
)

// Quantization parameter derivation. The backend's encoding convention
// differs from the usual one in a single place: the stored offset is
// the negated conventional zero-point, so dequantization reads
// (q + offset) * scale. DeriveScaleZeroPoint applies that negation as
// its final step; do not re-derive it from sign conventions.

// minQuantRange is the smallest float range the backend accepts.
const minQuantRange = 1e-4

// ClampRange widens [rmin, rmax] so the range spans at least
// minQuantRange and contains zero. Zero must be exactly representable
// so zero padding survives quantization.
func ClampRange(rmin, rmax float32) (float32, float32) {
	rmax = float32(math.Max(float64(rmax), float64(rmin)+minQuantRange))
	rmin = float32(math.Min(float64(rmin), 0))
	rmax = float32(math.Max(float64(rmax), 0))
	return rmin, rmax
}

// SymmetricRange centers [rmin, rmax] around zero.
func SymmetricRange(rmin, rmax float32) (float32, float32) {
	absMax := float32(math.Max(math.Abs(float64(rmin)), math.Abs(float64(rmax))))
	return -absMax, absMax
}

// QuantLimits returns the representable [qmin, qmax] of a fixed-point
// element type.
func QuantLimits(dt npu.DataType) (qmin, qmax float64, err error) {
	switch dt {
	case npu.DataTypeSFixed8:
		return math.MinInt8, math.MaxInt8, nil
	case npu.DataTypeUFixed8:
		return 0, math.MaxUint8, nil
	case npu.DataTypeSFixed16:
		return math.MinInt16, math.MaxInt16, nil
	case npu.DataTypeUFixed16:
		return 0, math.MaxUint16, nil
	case npu.DataTypeSFixed32:
		return math.MinInt32, math.MaxInt32, nil
	default:
		return 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedWidth, dt)
	}
}

// Saturate clamps v into [qmin, qmax].
func Saturate(qmax, qmin, v float64) float64 {
	if v > qmax {
		return qmax
	}
	if v < qmin {
		return qmin
	}
	return v
}

// DeriveScaleZeroPoint computes the scale and stored zero-point for a
// clamped float range and a fixed-point target type. The float
// zero-point is saturated first and rounded half-to-even second; the
// order matters at the boundaries and matches the backend contract.
func DeriveScaleZeroPoint(rmin, rmax float32, dt npu.DataType, symmetric bool) (float32, int32, error) {
	rmin, rmax = ClampRange(rmin, rmax)
	if symmetric {
		rmin, rmax = SymmetricRange(rmin, rmax)
	}

	qmin, qmax, err := QuantLimits(dt)
	if err != nil {
		return 0, 0, err
	}

	scale := (rmax - rmin) / float32(qmax-qmin)
	var initialZeroPoint float64
	if symmetric {
		initialZeroPoint = math.Round(float64(rmin+rmax)) / 2
	} else {
		initialZeroPoint = qmin - float64(rmin)/float64(scale)
	}
	zeroPoint := int32(math.RoundToEven(Saturate(qmax, qmin, initialZeroPoint)))
	// Stored zero-point is negated to match the backend definition.
	zeroPoint = 0 - zeroPoint
	return scale, zeroPoint, nil
}

// Quantize maps a real value to its fixed-point code, saturating to
// the representable range. zeroPoint is the stored (negated) form.
func Quantize(value float64, scale float32, zeroPoint int32, dt npu.DataType) (int, error) {
	qmin, qmax, err := QuantLimits(dt)
	if err != nil {
		return 0, err
	}
	q := math.Round(value/float64(scale) - float64(zeroPoint))
	return int(Saturate(qmax, qmin, q)), nil
}

// Dequantize maps a fixed-point code back to a real value. offset is
// the stored (negated) zero-point.
func Dequantize(offset int32, scale float32, quantValue float64) float64 {
	return (quantValue + float64(offset)) * float64(scale)
}
