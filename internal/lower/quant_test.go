package lower

import (
	"errors"
	"math"
	"testing"

	"github.com/anvilml/anvil/internal/npu"
)

func TestClampRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		rmin, rmax float32
		wantMin    float32
		wantMax    float32
	}{
		{"already valid", -1, 2, -1, 2},
		{"positive only range pulled to zero", 1, 2, 0, 2},
		{"negative only range pulled to zero", -2, -1, -2, 0},
		{"degenerate range widened", 0.5, 0.5, 0, 0.5001},
		{"zero range", 0, 0, 0, 1e-4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			gotMin, gotMax := ClampRange(tc.rmin, tc.rmax)
			if math.Abs(float64(gotMin-tc.wantMin)) > 1e-7 || math.Abs(float64(gotMax-tc.wantMax)) > 1e-7 {
				t.Fatalf("ClampRange(%g, %g) = (%g, %g), want (%g, %g)",
					tc.rmin, tc.rmax, gotMin, gotMax, tc.wantMin, tc.wantMax)
			}
		})
	}
}

func TestClampRangeIdempotent(t *testing.T) {
	t.Parallel()

	ranges := [][2]float32{{-1, 2}, {3, 7}, {-5, -2}, {0, 0}, {0.25, 0.25}}
	for _, r := range ranges {
		min1, max1 := ClampRange(r[0], r[1])
		min2, max2 := ClampRange(min1, max1)
		if min1 != min2 || max1 != max2 {
			t.Fatalf("ClampRange not idempotent for (%g, %g): first (%g, %g), second (%g, %g)",
				r[0], r[1], min1, max1, min2, max2)
		}
	}
}

func TestDeriveScaleZeroPointAsymmetricU8(t *testing.T) {
	t.Parallel()

	scale, zp, err := DeriveScaleZeroPoint(-1, 2, npu.DataTypeUFixed8, false)
	if err != nil {
		t.Fatalf("DeriveScaleZeroPoint: %v", err)
	}
	want := float32(3.0 / 255.0)
	if math.Abs(float64(scale-want)) > 1e-7 {
		t.Fatalf("scale = %g, want %g", scale, want)
	}
	// Conventional zero-point is 85; the stored form is negated.
	if zp != -85 {
		t.Fatalf("zero-point = %d, want -85", zp)
	}
}

func TestDeriveScaleZeroPointSymmetric(t *testing.T) {
	t.Parallel()

	scale, zp, err := DeriveScaleZeroPoint(-2, 1, npu.DataTypeSFixed8, true)
	if err != nil {
		t.Fatalf("DeriveScaleZeroPoint: %v", err)
	}
	// Symmetric range widens to [-2, 2].
	want := float32(4.0 / 255.0)
	if math.Abs(float64(scale-want)) > 1e-7 {
		t.Fatalf("scale = %g, want %g", scale, want)
	}
	if zp != 0 {
		t.Fatalf("symmetric zero-point = %d, want 0", zp)
	}
}

func TestDeriveScaleZeroPointUnsupportedWidth(t *testing.T) {
	t.Parallel()

	if _, _, err := DeriveScaleZeroPoint(-1, 1, npu.DataTypeFloat32, false); !errors.Is(err, ErrUnsupportedWidth) {
		t.Fatalf("expected ErrUnsupportedWidth, got %v", err)
	}
}

func TestQuantizeZeroMapsToNegatedZeroPoint(t *testing.T) {
	t.Parallel()

	cases := [][2]float32{{-1, 2}, {-0.5, 0.5}, {-3, 1}, {0, 6}}
	for _, r := range cases {
		scale, zp, err := DeriveScaleZeroPoint(r[0], r[1], npu.DataTypeUFixed8, false)
		if err != nil {
			t.Fatalf("derive (%g, %g): %v", r[0], r[1], err)
		}
		if scale <= 0 {
			t.Fatalf("derive (%g, %g): scale %g not positive", r[0], r[1], scale)
		}
		q, err := Quantize(0, scale, zp, npu.DataTypeUFixed8)
		if err != nil {
			t.Fatalf("quantize 0: %v", err)
		}
		if int32(q) != -zp {
			t.Fatalf("range (%g, %g): Quantize(0) = %d, want %d", r[0], r[1], q, -zp)
		}
		back := Dequantize(zp, scale, float64(q))
		if math.Abs(back) > float64(scale)/2 {
			t.Fatalf("range (%g, %g): zero round-trips to %g, beyond scale/2 = %g",
				r[0], r[1], back, scale/2)
		}
	}
}

func TestQuantizeDequantizeRoundTrip(t *testing.T) {
	t.Parallel()

	scale, zp, err := DeriveScaleZeroPoint(-1, 2, npu.DataTypeUFixed8, false)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for q := 0; q <= 255; q++ {
		v := Dequantize(zp, scale, float64(q))
		got, err := Quantize(v, scale, zp, npu.DataTypeUFixed8)
		if err != nil {
			t.Fatalf("quantize %g: %v", v, err)
		}
		if got != q {
			t.Fatalf("round trip %d -> %g -> %d", q, v, got)
		}
	}
}

func TestQuantizeDequantizeRoundTrip16(t *testing.T) {
	t.Parallel()

	scale, zp, err := DeriveScaleZeroPoint(-4, 4, npu.DataTypeSFixed16, false)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	for q := math.MinInt16; q <= math.MaxInt16; q += 257 {
		v := Dequantize(zp, scale, float64(q))
		got, err := Quantize(v, scale, zp, npu.DataTypeSFixed16)
		if err != nil {
			t.Fatalf("quantize %g: %v", v, err)
		}
		if got != q {
			t.Fatalf("round trip %d -> %g -> %d", q, v, got)
		}
	}
}

func TestQuantizeSaturates(t *testing.T) {
	t.Parallel()

	scale, zp, err := DeriveScaleZeroPoint(-1, 1, npu.DataTypeSFixed8, false)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	hi, err := Quantize(100, scale, zp, npu.DataTypeSFixed8)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if hi != math.MaxInt8 {
		t.Fatalf("expected saturation at %d, got %d", math.MaxInt8, hi)
	}
	lo, err := Quantize(-100, scale, zp, npu.DataTypeSFixed8)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if lo != math.MinInt8 {
		t.Fatalf("expected saturation at %d, got %d", math.MinInt8, lo)
	}
}
