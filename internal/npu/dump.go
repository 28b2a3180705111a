package npu

import (
	"fmt"
	"strings"
)

// Diagnostic dumps. These feed failure logs and the debug service;
// they are deterministic but not part of any correctness contract.

const maxDumpScaleOffsets = 20

// DumpQuantParams renders a quantization descriptor. Axis-scoped
// arrays are truncated to the first 20 entries and annotated with
// "..." so dumps of wide per-channel tensors stay readable.
func DumpQuantParams(q *QuantParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, " encoding=%s", q.Encoding)
	switch q.Encoding {
	case EncodingScaleOffset:
		fmt.Fprintf(&b, " scale=%g offset=%d", q.Scale, q.Offset)
	case EncodingBWScaleOffset:
		fmt.Fprintf(&b, " bitwidth=%d scale=%g offset=%d", q.Bits, q.Scale, q.Offset)
	case EncodingAxisScaleOffset:
		fmt.Fprintf(&b, " axis=%d", q.Axis)
		dumpScaleOffsets(&b, q.Scales, q.Offsets)
	case EncodingBWAxisScaleOffset:
		fmt.Fprintf(&b, " axis=%d bw=%d", q.Axis, q.Bits)
		dumpScaleOffsets(&b, q.Scales, q.Offsets)
	}
	return b.String()
}

func dumpScaleOffsets(b *strings.Builder, scales []float32, offsets []int32) {
	n := len(scales)
	truncate := n > maxDumpScaleOffsets
	if truncate {
		n = maxDumpScaleOffsets
	}
	b.WriteString(" scales=(")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(b, "%g", scales[i])
	}
	b.WriteString(") offsets=(")
	for i := 0; i < n && i < len(offsets); i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(b, "%d", offsets[i])
	}
	if truncate {
		b.WriteString("...)")
	} else {
		b.WriteString(")")
	}
}

// DumpTensor renders a tensor descriptor: name, id, category, element
// type, shape, memory kind and quantization details.
func DumpTensor(t *Tensor) string {
	var b strings.Builder
	fmt.Fprintf(&b, " name=%s id=%d type=%s dataType=%s rank=%d dimensions=(",
		t.Name, t.ID, t.Kind, t.DataType, t.Rank())
	for i, d := range t.Dims {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d", d)
	}
	fmt.Fprintf(&b, ") memType=%s", t.MemKind)
	b.WriteString(" quantizeParams:")
	b.WriteString(DumpQuantParams(&t.Quant))
	return b.String()
}

// DumpScalar renders a scalar parameter value.
func DumpScalar(s *Scalar) string {
	switch s.DataType {
	case DataTypeFloat32:
		return fmt.Sprintf("%g", s.F32)
	case DataTypeInt8, DataTypeInt16, DataTypeInt32:
		return fmt.Sprintf("%d", s.I32)
	case DataTypeUInt8, DataTypeUInt16, DataTypeUInt32:
		return fmt.Sprintf("%d", s.U32)
	case DataTypeBool8:
		return fmt.Sprintf("%t", s.B8)
	default:
		return fmt.Sprintf("<%s not printable>", s.DataType)
	}
}

// DumpParam renders an operator parameter.
func DumpParam(p *Param) string {
	var b strings.Builder
	if p.IsTensorParam() {
		fmt.Fprintf(&b, " type=TENSOR name=%s", p.Name)
		b.WriteString(DumpTensor(p.Tensor))
	} else {
		fmt.Fprintf(&b, " type=SCALAR name=%s value=%s", p.Name, DumpScalar(p.Scalar))
	}
	return b.String()
}

// DumpOpConfig renders a full node configuration with its tensors and
// parameters, one element per line.
func DumpOpConfig(op *OpConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "op name: %s package: %s type: %s inputs: %d outputs: %d params: %d\n",
		op.Name, op.Package, op.Type, len(op.Inputs), len(op.Outputs), len(op.Params))
	b.WriteString(" node_inputs:\n")
	for i := range op.Inputs {
		b.WriteString(DumpTensor(&op.Inputs[i]))
		b.WriteByte('\n')
	}
	b.WriteString(" node_outputs:\n")
	for i := range op.Outputs {
		b.WriteString(DumpTensor(&op.Outputs[i]))
		b.WriteByte('\n')
	}
	b.WriteString(" node_params:\n")
	for i := range op.Params {
		b.WriteString(DumpParam(&op.Params[i]))
		b.WriteByte('\n')
	}
	return b.String()
}
