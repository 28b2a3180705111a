package graph

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Tensor is a constant initializer: raw little-endian payload plus the
// metadata needed to interpret it. Raw is borrowed from the loader and
// must not be mutated.
type Tensor struct {
	Name     string
	DataType DataType
	Dims     []int64
	Raw      []byte
}

// NumElements returns the element count implied by Dims. A rank-0
// tensor holds one element.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// Floats decodes the payload as float32 values. Float16 payloads are
// widened; other element types are rejected.
func (t *Tensor) Floats() ([]float32, error) {
	n := int(t.NumElements())
	switch t.DataType {
	case DTFloat:
		if len(t.Raw) < n*4 {
			return nil, fmt.Errorf("graph: tensor %q: payload too short for %d float32", t.Name, n)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Raw[i*4:]))
		}
		return out, nil
	case DTFloat16:
		if len(t.Raw) < n*2 {
			return nil, fmt.Errorf("graph: tensor %q: payload too short for %d float16", t.Name, n)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = Float16ToFloat32(binary.LittleEndian.Uint16(t.Raw[i*2:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("graph: tensor %q: cannot decode %s as floats", t.Name, t.DataType)
	}
}

// Int64s decodes the payload as int64 values, widening narrower
// integer element types.
func (t *Tensor) Int64s() ([]int64, error) {
	n := int(t.NumElements())
	out := make([]int64, n)
	switch t.DataType {
	case DTInt64:
		if len(t.Raw) < n*8 {
			return nil, fmt.Errorf("graph: tensor %q: payload too short for %d int64", t.Name, n)
		}
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(t.Raw[i*8:]))
		}
	case DTInt32:
		if len(t.Raw) < n*4 {
			return nil, fmt.Errorf("graph: tensor %q: payload too short for %d int32", t.Name, n)
		}
		for i := range out {
			out[i] = int64(int32(binary.LittleEndian.Uint32(t.Raw[i*4:])))
		}
	case DTInt8:
		if len(t.Raw) < n {
			return nil, fmt.Errorf("graph: tensor %q: payload too short for %d int8", t.Name, n)
		}
		for i := range out {
			out[i] = int64(int8(t.Raw[i]))
		}
	case DTUInt8:
		if len(t.Raw) < n {
			return nil, fmt.Errorf("graph: tensor %q: payload too short for %d uint8", t.Name, n)
		}
		for i := range out {
			out[i] = int64(t.Raw[i])
		}
	default:
		return nil, fmt.Errorf("graph: tensor %q: cannot decode %s as ints", t.Name, t.DataType)
	}
	return out, nil
}

// ScalarFloat decodes a single-element float or float16 tensor.
func (t *Tensor) ScalarFloat() (float32, error) {
	vals, err := t.Floats()
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("graph: tensor %q: expected scalar, got %d elements", t.Name, len(vals))
	}
	return vals[0], nil
}

// Float16ToFloat32 widens an IEEE 754 binary16 value.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1F
	frac := uint32(h) & 0x3FF

	var bits uint32
	switch {
	case exp == 0 && frac == 0:
		bits = sign << 31
	case exp == 0:
		// subnormal: normalize
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3FF
		bits = sign<<31 | e<<23 | frac<<13
	case exp == 0x1F:
		bits = sign<<31 | 0xFF<<23 | frac<<13
	default:
		bits = sign<<31 | (exp-15+127)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}

// Float32ToFloat16 narrows to IEEE 754 binary16 with round-to-nearest-even.
func Float32ToFloat16(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & 0x8000
	exp := int32(bits>>23)&0xFF - 127 + 15
	frac := bits & 0x7FFFFF

	switch {
	case exp >= 0x1F:
		// overflow or inf/nan
		if int32(bits>>23)&0xFF == 0xFF && frac != 0 {
			return sign | 0x7C00 | 0x200
		}
		return sign | 0x7C00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		frac |= 0x800000
		shift := uint32(14 - exp)
		half := uint32(1) << (shift - 1)
		return sign | uint16((frac+half)>>shift)
	default:
		rounded := frac + 0xFFF + ((frac >> 13) & 1)
		if rounded&0x800000 != 0 {
			rounded = 0
			exp++
			if exp >= 0x1F {
				return sign | 0x7C00
			}
		}
		return sign | uint16(exp)<<10 | uint16(rounded>>13)
	}
}
