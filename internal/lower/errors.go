package lower

import "errors"

var (
	// ErrMissingTypeInfo marks a tensor with no element-type metadata.
	// Always a malformed input graph, never recoverable here.
	ErrMissingTypeInfo = errors.New("lower: tensor has no element type info")

	// ErrNotFound marks a registry lookup of a tensor or param that
	// was never added. This is a misuse of the builder contract and is
	// fatal to the build.
	ErrNotFound = errors.New("lower: not found")

	// ErrUnsupportedDataType marks an element type this backend has no
	// mapping for.
	ErrUnsupportedDataType = errors.New("lower: unsupported data type")

	// ErrUnsupportedWidth marks a fixed-point width with no defined
	// quantization limits.
	ErrUnsupportedWidth = errors.New("lower: unsupported fixed-point width")

	// ErrUnsupportedOp marks a portable op type the lowering layer has
	// no conversion for.
	ErrUnsupportedOp = errors.New("lower: unsupported op type")
)
