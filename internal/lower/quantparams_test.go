package lower

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/anvilml/anvil/internal/graph"
	"github.com/anvilml/anvil/internal/npu"
)

func floatRaw(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func quantGraph(t *testing.T, tensors ...*graph.Tensor) *graph.Viewer {
	t.Helper()
	g := &graph.Graph{Name: "q"}
	for _, tt := range tensors {
		if err := g.AddInitializer(tt); err != nil {
			t.Fatalf("AddInitializer(%q): %v", tt.Name, err)
		}
	}
	return graph.NewViewer(g)
}

func TestUnpackZeroPointsNegatesUInt8(t *testing.T) {
	t.Parallel()

	v := quantGraph(t, &graph.Tensor{
		Name: "zp", DataType: graph.DTUInt8, Dims: []int64{1}, Raw: []byte{3},
	})
	out, dt, err := UnpackZeroPoints(v, "zp")
	if err != nil {
		t.Fatalf("UnpackZeroPoints: %v", err)
	}
	if dt != graph.DTUInt8 {
		t.Fatalf("dtype = %s", dt)
	}
	if len(out) != 1 || out[0] != -3 {
		t.Fatalf("zero-points = %v, want [-3]", out)
	}
}

func TestUnpackZeroPointsInt4Nibble(t *testing.T) {
	t.Parallel()

	// One packed byte: -2 (0xE) in the low nibble, 7 in the high.
	v := quantGraph(t, &graph.Tensor{
		Name: "zp", DataType: graph.DTInt4, Dims: []int64{2}, Raw: []byte{0x7E},
	})
	out, dt, err := UnpackZeroPoints(v, "zp")
	if err != nil {
		t.Fatalf("UnpackZeroPoints: %v", err)
	}
	if dt != graph.DTInt4 {
		t.Fatalf("dtype = %s", dt)
	}
	if len(out) != 2 || out[0] != 2 || out[1] != -7 {
		t.Fatalf("zero-points = %v, want [2 -7]", out)
	}
}

func TestUnpackZeroPointsNotConstant(t *testing.T) {
	t.Parallel()

	v := quantGraph(t)
	if _, _, err := UnpackZeroPoints(v, "missing"); err == nil {
		t.Fatal("expected error for non-constant zero-point")
	}
}

func TestMakeQuantParamsPerTensor(t *testing.T) {
	t.Parallel()

	v := quantGraph(t,
		&graph.Tensor{Name: "s", DataType: graph.DTFloat, Dims: []int64{1}, Raw: floatRaw(0.5)},
		&graph.Tensor{Name: "z", DataType: graph.DTUInt8, Dims: []int64{1}, Raw: []byte{10}},
	)
	io := &IODef{Name: "x", Quant: &QuantMeta{ScaleName: "s", ZeroPointName: "z"}}
	qp, err := MakeQuantParams(v, io, 4)
	if err != nil {
		t.Fatalf("MakeQuantParams: %v", err)
	}
	if qp.Encoding != npu.EncodingScaleOffset {
		t.Fatalf("encoding = %s", qp.Encoding)
	}
	if qp.Scale != 0.5 || qp.Offset != -10 {
		t.Fatalf("scale/offset = %g/%d, want 0.5/-10", qp.Scale, qp.Offset)
	}
}

func TestMakeQuantParamsPerAxisNegativeAxis(t *testing.T) {
	t.Parallel()

	v := quantGraph(t,
		&graph.Tensor{Name: "s", DataType: graph.DTFloat, Dims: []int64{2}, Raw: floatRaw(0.5, 0.25)},
		&graph.Tensor{Name: "z", DataType: graph.DTInt8, Dims: []int64{2}, Raw: []byte{1, 0xFF}},
	)
	axis := int64(-1)
	io := &IODef{Name: "w", Quant: &QuantMeta{ScaleName: "s", ZeroPointName: "z", Axis: &axis}}
	qp, err := MakeQuantParams(v, io, 4)
	if err != nil {
		t.Fatalf("MakeQuantParams: %v", err)
	}
	if qp.Encoding != npu.EncodingAxisScaleOffset {
		t.Fatalf("encoding = %s", qp.Encoding)
	}
	if qp.Axis != 3 {
		t.Fatalf("axis = %d, want 3 (normalized from -1 at rank 4)", qp.Axis)
	}
	if len(qp.Scales) != 2 || qp.Scales[1] != 0.25 {
		t.Fatalf("scales = %v", qp.Scales)
	}
	// int8 -1 negates to +1.
	if len(qp.Offsets) != 2 || qp.Offsets[0] != -1 || qp.Offsets[1] != 1 {
		t.Fatalf("offsets = %v, want [-1 1]", qp.Offsets)
	}
}

func TestMakeQuantParamsCountMismatch(t *testing.T) {
	t.Parallel()

	v := quantGraph(t,
		&graph.Tensor{Name: "s", DataType: graph.DTFloat, Dims: []int64{2}, Raw: floatRaw(0.5, 0.25)},
		&graph.Tensor{Name: "z", DataType: graph.DTUInt8, Dims: []int64{3}, Raw: []byte{0, 0, 0}},
	)
	io := &IODef{Name: "w", Quant: &QuantMeta{ScaleName: "s", ZeroPointName: "z"}}
	if _, err := MakeQuantParams(v, io, 4); err == nil {
		t.Fatal("expected scale/zero-point count mismatch error")
	}
}

func TestMakeQuantParamsSubByteZeroPoint(t *testing.T) {
	t.Parallel()

	v := quantGraph(t,
		&graph.Tensor{Name: "s", DataType: graph.DTFloat, Dims: []int64{1}, Raw: floatRaw(0.125)},
		&graph.Tensor{Name: "z", DataType: graph.DTInt4, Dims: []int64{1}, Raw: []byte{0x00}},
	)
	io := &IODef{Name: "w", Quant: &QuantMeta{ScaleName: "s", ZeroPointName: "z"}}
	qp, err := MakeQuantParams(v, io, 2)
	if err != nil {
		t.Fatalf("MakeQuantParams: %v", err)
	}
	if qp.Encoding != npu.EncodingBWScaleOffset || qp.Bits != 4 {
		t.Fatalf("encoding = %s bits = %d, want BW/4", qp.Encoding, qp.Bits)
	}
}

func TestMakeQuantParamsMissingZeroPoint(t *testing.T) {
	t.Parallel()

	v := quantGraph(t,
		&graph.Tensor{Name: "s", DataType: graph.DTFloat, Dims: []int64{1}, Raw: floatRaw(2)},
	)
	io := &IODef{Name: "x", Quant: &QuantMeta{ScaleName: "s"}}
	qp, err := MakeQuantParams(v, io, 1)
	if err != nil {
		t.Fatalf("MakeQuantParams: %v", err)
	}
	if qp.Scale != 2 || qp.Offset != 0 {
		t.Fatalf("scale/offset = %g/%d, want 2/0", qp.Scale, qp.Offset)
	}
}

func TestMakeQuantParamsFloatTensor(t *testing.T) {
	t.Parallel()

	v := quantGraph(t)
	io := &IODef{Name: "x"}
	qp, err := MakeQuantParams(v, io, 4)
	if err != nil {
		t.Fatalf("MakeQuantParams: %v", err)
	}
	if qp.IsQuantized() {
		t.Fatal("float tensor must carry no encoding")
	}
}
