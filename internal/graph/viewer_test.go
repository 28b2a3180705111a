package graph

import "testing"

func TestViewerIndexes(t *testing.T) {
	t.Parallel()

	g := &Graph{
		Name:    "v",
		Inputs:  []string{"x", "w"},
		Outputs: []string{"y"},
		ValueInfos: map[string]TensorType{
			"x": {Elem: DTFloat, Shape: []int64{1, 4}},
		},
	}
	if err := g.AddInitializer(&Tensor{Name: "w", DataType: DTFloat, Dims: []int64{4}, Raw: make([]byte, 16)}); err != nil {
		t.Fatal(err)
	}
	v := NewViewer(g)

	if !v.IsGraphInput("x") {
		t.Fatal("x must be a graph input")
	}
	// Initializers listed in the input block are constants, not inputs.
	if v.IsGraphInput("w") {
		t.Fatal("initializer w must not count as a graph input")
	}
	if !v.IsInitializer("w") || v.ConstantInitializer("w") == nil {
		t.Fatal("w must be a constant initializer")
	}
	if !v.IsGraphOutput("y") {
		t.Fatal("y must be a graph output")
	}

	if i, ok := v.InputIndex("x"); !ok || i != 0 {
		t.Fatalf("InputIndex(x) = %d, %t", i, ok)
	}
	if _, ok := v.InputIndex("w"); ok {
		t.Fatal("InputIndex(w) must miss")
	}
	if i, ok := v.OutputIndex("y"); !ok || i != 0 {
		t.Fatalf("OutputIndex(y) = %d, %t", i, ok)
	}

	if tt, ok := v.ValueType("x"); !ok || tt.Elem != DTFloat {
		t.Fatalf("ValueType(x) = %+v, %t", tt, ok)
	}
	if _, ok := v.ValueType("ghost"); ok {
		t.Fatal("ValueType(ghost) must miss")
	}
}
