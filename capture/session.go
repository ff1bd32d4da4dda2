package capture

import "context"

// Session is an open capture.
//
// Every method may block on I/O. Implementations return errors wrapping
// ErrSessionUnavailable when the capture can no longer be reached,
// *CaptureReadError when one event's data is unreadable, and
// ErrStageDataAbsent from Reflection and Bindpoints when a stage has no data.
//
// A Session is not required to be safe for concurrent use; see Serialize.
type Session interface {
	// RootActions returns the top level of the action tree.
	RootActions(ctx context.Context) ([]Action, error)

	// PipelineState returns the pipeline configuration at event.
	PipelineState(ctx context.Context, event EventID) (PipelineState, error)

	// Reflection returns the reflection of the shader bound to stage at event.
	Reflection(ctx context.Context, event EventID, stage ShaderStage) (*Reflection, error)

	// Bindpoints returns the bindpoint mapping for stage at event.
	Bindpoints(ctx context.Context, event EventID, stage ShaderStage) ([]BindpointSlot, error)

	// VertexInputs returns the vertex shader input signature at event.
	VertexInputs(ctx context.Context, event EventID) ([]VertexInputAttribute, error)

	// Resources returns the capture's resource inventory.
	Resources(ctx context.Context) (*Inventory, error)

	// Close releases the session.
	Close() error
}
