package lower

import (
	"github.com/anvilml/anvil/internal/npu"
)

// TensorWrapper owns one backend tensor descriptor, keyed by name.
// Wrappers live in the builder's registry until graph-input/output
// wrappers are moved out via TakeGraphInputs/TakeGraphOutputs.
type TensorWrapper struct {
	Name   string
	Tensor *npu.Tensor
}

// NewTensorWrapper builds a descriptor wrapper. data may be nil for
// non-static tensors.
func NewTensorWrapper(name string, kind npu.TensorKind, dt npu.DataType,
	quant npu.QuantParams, dims []uint32, data []byte) TensorWrapper {
	return TensorWrapper{
		Name: name,
		Tensor: &npu.Tensor{
			Name:     name,
			Kind:     kind,
			DataType: dt,
			MemKind:  npu.MemRaw,
			Dims:     dims,
			Quant:    quant,
			Data:     data,
		},
	}
}

// ParamWrapper owns one backend operator parameter, keyed by the
// backend param-tensor name (node name + param name for tensor-valued
// params).
type ParamWrapper struct {
	Name  string
	Param *npu.Param
}

// NewScalarParam wraps a scalar-valued op parameter.
func NewScalarParam(name string, value npu.Scalar) ParamWrapper {
	v := value
	return ParamWrapper{
		Name:  name,
		Param: &npu.Param{Name: name, Scalar: &v},
	}
}

// NewNodeScalarParam wraps a scalar-valued op parameter under a
// node-scoped registry key, so the same param name on different nodes
// does not collide.
func NewNodeScalarParam(nodeName, paramName string, value npu.Scalar) ParamWrapper {
	v := value
	return ParamWrapper{
		Name:  ParamTensorName(nodeName, paramName),
		Param: &npu.Param{Name: paramName, Scalar: &v},
	}
}

// ParamTensorName derives the unique registry key for a tensor-valued
// parameter of a node.
func ParamTensorName(nodeName, paramName string) string {
	return nodeName + "_" + paramName
}

// NewTensorParam wraps a tensor-valued op parameter. Param tensors are
// always static data.
func NewTensorParam(nodeName, paramName string, dt npu.DataType, dims []uint32, data []byte) ParamWrapper {
	tensorName := ParamTensorName(nodeName, paramName)
	return ParamWrapper{
		Name: tensorName,
		Param: &npu.Param{
			Name: paramName,
			Tensor: &npu.Tensor{
				Name:     tensorName,
				Kind:     npu.KindStatic,
				DataType: dt,
				MemKind:  npu.MemRaw,
				Dims:     dims,
				Data:     data,
			},
		},
	}
}
