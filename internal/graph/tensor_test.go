package graph

import (
	"encoding/binary"
	"math"
	"testing"
)

func f32raw(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestNumElements(t *testing.T) {
	t.Parallel()

	scalar := &Tensor{Name: "s"}
	if got := scalar.NumElements(); got != 1 {
		t.Fatalf("rank-0 NumElements = %d, want 1", got)
	}
	mat := &Tensor{Name: "m", Dims: []int64{2, 3, 4}}
	if got := mat.NumElements(); got != 24 {
		t.Fatalf("NumElements = %d, want 24", got)
	}
}

func TestFloats(t *testing.T) {
	t.Parallel()

	tensor := &Tensor{Name: "f", DataType: DTFloat, Dims: []int64{3}, Raw: f32raw(1, -2.5, 0)}
	vals, err := tensor.Floats()
	if err != nil {
		t.Fatalf("Floats: %v", err)
	}
	want := []float32{1, -2.5, 0}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("vals = %v, want %v", vals, want)
		}
	}
}

func TestFloatsFloat16(t *testing.T) {
	t.Parallel()

	// 1.5 and -2.0 as binary16.
	raw := []byte{0x00, 0x3E, 0x00, 0xC0}
	tensor := &Tensor{Name: "h", DataType: DTFloat16, Dims: []int64{2}, Raw: raw}
	vals, err := tensor.Floats()
	if err != nil {
		t.Fatalf("Floats: %v", err)
	}
	if vals[0] != 1.5 || vals[1] != -2.0 {
		t.Fatalf("vals = %v, want [1.5 -2]", vals)
	}
}

func TestFloatsErrors(t *testing.T) {
	t.Parallel()

	short := &Tensor{Name: "f", DataType: DTFloat, Dims: []int64{3}, Raw: f32raw(1)}
	if _, err := short.Floats(); err == nil {
		t.Fatal("expected short payload error")
	}
	ints := &Tensor{Name: "i", DataType: DTInt32, Dims: []int64{1}, Raw: []byte{1, 0, 0, 0}}
	if _, err := ints.Floats(); err == nil {
		t.Fatal("expected type error decoding int32 as floats")
	}
}

func TestInt64s(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tr   Tensor
		want []int64
	}{
		{"int64", Tensor{DataType: DTInt64, Dims: []int64{2},
			Raw: []byte{1, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
			[]int64{1, -1}},
		{"int32", Tensor{DataType: DTInt32, Dims: []int64{2},
			Raw: []byte{2, 0, 0, 0, 0xFE, 0xFF, 0xFF, 0xFF}},
			[]int64{2, -2}},
		{"int8", Tensor{DataType: DTInt8, Dims: []int64{2}, Raw: []byte{3, 0xFD}}, []int64{3, -3}},
		{"uint8", Tensor{DataType: DTUInt8, Dims: []int64{2}, Raw: []byte{4, 0xFC}}, []int64{4, 252}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.tr.Int64s()
			if err != nil {
				t.Fatalf("Int64s: %v", err)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("vals = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestScalarFloat(t *testing.T) {
	t.Parallel()

	s := &Tensor{Name: "s", DataType: DTFloat, Dims: []int64{}, Raw: f32raw(6)}
	v, err := s.ScalarFloat()
	if err != nil {
		t.Fatalf("ScalarFloat: %v", err)
	}
	if v != 6 {
		t.Fatalf("v = %g, want 6", v)
	}

	multi := &Tensor{Name: "m", DataType: DTFloat, Dims: []int64{2}, Raw: f32raw(1, 2)}
	if _, err := multi.ScalarFloat(); err == nil {
		t.Fatal("expected error for non-scalar tensor")
	}
}

func TestFloat16Conversions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    uint16
		f    float32
	}{
		{"one", 0x3C00, 1},
		{"one point five", 0x3E00, 1.5},
		{"minus two", 0xC000, -2},
		{"zero", 0x0000, 0},
		{"neg zero", 0x8000, float32(math.Copysign(0, -1))},
		{"max half", 0x7BFF, 65504},
		{"smallest subnormal", 0x0001, 5.9604645e-08},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Float16ToFloat32(tc.h); got != tc.f {
				t.Fatalf("Float16ToFloat32(%#04x) = %g, want %g", tc.h, got, tc.f)
			}
			if got := Float32ToFloat16(tc.f); got != tc.h {
				t.Fatalf("Float32ToFloat16(%g) = %#04x, want %#04x", tc.f, got, tc.h)
			}
		})
	}
}

func TestFloat16Infinities(t *testing.T) {
	t.Parallel()

	if got := Float16ToFloat32(0x7C00); !math.IsInf(float64(got), 1) {
		t.Fatalf("0x7C00 = %g, want +Inf", got)
	}
	if got := Float16ToFloat32(0xFC00); !math.IsInf(float64(got), -1) {
		t.Fatalf("0xFC00 = %g, want -Inf", got)
	}
	// Values beyond the half range overflow to infinity.
	if got := Float32ToFloat16(1e6); got != 0x7C00 {
		t.Fatalf("Float32ToFloat16(1e6) = %#04x, want 0x7C00", got)
	}
	if got := Float16ToFloat32(0x7E00); !math.IsNaN(float64(got)) {
		t.Fatalf("0x7E00 = %g, want NaN", got)
	}
}

func TestFloat16RoundTripAllFinite(t *testing.T) {
	t.Parallel()

	for h := uint16(0); h < 0x7C00; h++ {
		f := Float16ToFloat32(h)
		if got := Float32ToFloat16(f); got != h {
			t.Fatalf("half %#04x -> %g -> %#04x", h, f, got)
		}
	}
	for h := uint16(0x8000); h < 0xFC00; h++ {
		f := Float16ToFloat32(h)
		if got := Float32ToFloat16(f); got != h {
			t.Fatalf("half %#04x -> %g -> %#04x", h, f, got)
		}
	}
}
