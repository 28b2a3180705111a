package npu

import "testing"

func TestQuantParamsPredicates(t *testing.T) {
	t.Parallel()

	var none QuantParams
	if none.IsQuantized() || none.IsPerTensor() || none.IsPerAxis() {
		t.Fatal("zero value must report no encoding")
	}

	so := ScaleOffsetQuant(0.5, -1)
	if !so.IsQuantized() || !so.IsPerTensor() || so.IsPerAxis() {
		t.Fatal("scale/offset predicates wrong")
	}

	ax := AxisQuant(0, []float32{1}, []int32{0})
	if !ax.IsQuantized() || ax.IsPerTensor() || !ax.IsPerAxis() {
		t.Fatal("axis predicates wrong")
	}

	bw := BWQuant(4, 1, 0)
	if !bw.IsPerTensor() {
		t.Fatal("bit-width scale/offset must be per-tensor")
	}
	bwa := BWAxisQuant(4, 1, []float32{1, 2}, []int32{0, 0})
	if !bwa.IsPerAxis() {
		t.Fatal("bit-width axis encoding must be per-axis")
	}
}

func TestQuantParamsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		q       QuantParams
		dims    []uint32
		wantErr bool
	}{
		{"undefined", QuantParams{}, []uint32{2}, false},
		{"scale offset", ScaleOffsetQuant(1, 0), []uint32{2}, false},
		{"bw ok", BWQuant(4, 1, 0), nil, false},
		{"bw zero bits", QuantParams{Encoding: EncodingBWScaleOffset}, nil, true},
		{"axis ok", AxisQuant(1, []float32{1, 2, 3}, []int32{0, 0, 0}), []uint32{4, 3}, false},
		{"axis no dims", AxisQuant(1, []float32{1, 2}, []int32{0, 0}), nil, false},
		{"axis count mismatch", AxisQuant(1, []float32{1, 2}, []int32{0, 0}), []uint32{4, 3}, true},
		{"axis out of range", AxisQuant(2, []float32{1}, []int32{0}), []uint32{4, 3}, true},
		{"scales vs offsets", AxisQuant(0, []float32{1, 2}, []int32{0}), nil, true},
		{"bw axis zero bits", QuantParams{Encoding: EncodingBWAxisScaleOffset, Scales: []float32{1}, Offsets: []int32{0}}, nil, true},
		{"bw axis ok", BWAxisQuant(4, 0, []float32{1, 2}, []int32{0, 0}), []uint32{2, 8}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.q.Validate(tc.dims)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate(%v) err = %v, wantErr %t", tc.dims, err, tc.wantErr)
			}
		})
	}
}

func TestElementSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dt   DataType
		want int
	}{
		{DataTypeInt8, 1},
		{DataTypeUFixed8, 1},
		{DataTypeFloat16, 2},
		{DataTypeSFixed16, 2},
		{DataTypeFloat32, 4},
		{DataTypeUFixed32, 4},
		{DataTypeInt64, 8},
	}
	for _, tc := range tests {
		got, err := ElementSize(tc.dt)
		if err != nil {
			t.Fatalf("ElementSize(%s): %v", tc.dt, err)
		}
		if got != tc.want {
			t.Fatalf("ElementSize(%s) = %d, want %d", tc.dt, got, tc.want)
		}
	}

	// Sub-byte fixed-point types have no standalone element size.
	if _, err := ElementSize(DataTypeSFixed4); err == nil {
		t.Fatal("expected error for sub-byte type")
	}
	if _, err := ElementSize(DataTypeUndefined); err == nil {
		t.Fatal("expected error for undefined type")
	}
}
