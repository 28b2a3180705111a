package npu

// GraphHandle is an opaque, single-owner reference to one in-flight
// backend graph. The owner must call Backend.Release exactly once when
// done (directly or through a successful Finalize followed by session
// teardown).
type GraphHandle interface{}

// Backend is the downstream accelerator runtime contract. All calls
// are synchronous. A failure is reported as an error whose message is
// the backend diagnostic; callers decide whether it is fatal.
type Backend interface {
	// Name identifies the backend implementation.
	Name() string

	// CreateGraph creates an empty named graph. Config handling is
	// backend-defined; unknown keys are rejected.
	CreateGraph(name string, configs []GraphConfig) (GraphHandle, error)

	// CreateTensor materializes a tensor descriptor in the graph and
	// assigns its ID.
	CreateTensor(h GraphHandle, t *Tensor) error

	// ValidateNode checks an op configuration without touching any
	// graph state.
	ValidateNode(op *OpConfig) error

	// CreateNode adds a node to the graph. All referenced tensors must
	// already be created.
	CreateNode(h GraphHandle, op *OpConfig) error

	// Finalize composes the graph for execution. No further mutation
	// is valid afterwards.
	Finalize(h GraphHandle) error

	// Release frees the graph and everything it owns. Safe to call on
	// a nil handle.
	Release(h GraphHandle)
}
