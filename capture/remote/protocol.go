package remote

import (
	"encoding/json"
	"errors"

	"github.com/gogpu/gpuwaste/capture"
)

// Path is the HTTP path a Server is mounted on by ListenAndServe.
const Path = "/capture"

// Request methods, one per capture.Session read.
const (
	MethodActions    = "actions"
	MethodPipeline   = "pipeline"
	MethodReflection = "reflection"
	MethodBindpoints = "bindpoints"
	MethodInputs     = "vertexInputs"
	MethodResources  = "resources"
)

// Error codes carried in a Response.
const (
	CodeRead        = "read"
	CodeAbsent      = "absent"
	CodeUnavailable = "unavailable"
	CodeClosed      = "closed"
	CodeBadRequest  = "bad-request"
)

// Request is one client call. Stage is set for per-stage methods only.
type Request struct {
	ID     uint64               `json:"id"`
	Method string               `json:"method"`
	Event  capture.EventID      `json:"event,omitempty"`
	Stage  *capture.ShaderStage `json:"stage,omitempty"`
}

// Response answers the Request with the same ID. Exactly one of Result
// and Error is set.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the wire form of a session error.
type Error struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Op      string               `json:"op,omitempty"`
	Event   capture.EventID      `json:"event,omitempty"`
	Stage   *capture.ShaderStage `json:"stage,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// encodeError classifies err for the wire.
func encodeError(err error) *Error {
	var we *Error
	if errors.As(err, &we) {
		return we
	}
	e := &Error{Code: CodeRead, Message: err.Error()}
	var re *capture.CaptureReadError
	switch {
	case errors.Is(err, capture.ErrSessionUnavailable):
		e.Code = CodeUnavailable
	case errors.Is(err, capture.ErrStageDataAbsent):
		e.Code = CodeAbsent
	case errors.As(err, &re):
		e.Op, e.Event = re.Op, re.Event
		if re.Err != nil {
			e.Message = re.Err.Error()
		}
		if re.HasStage {
			st := re.Stage
			e.Stage = &st
		}
		if errors.Is(err, capture.ErrSessionClosed) {
			e.Code = CodeClosed
		}
	}
	return e
}

// decode maps a wire error back onto the capture error taxonomy. Errors
// without read context are attributed to req.
func (e *Error) decode(req *Request) error {
	switch e.Code {
	case CodeUnavailable:
		return capture.Unavailable("remote "+req.Method, e)
	case CodeAbsent:
		return capture.ErrStageDataAbsent
	}

	op, event, stage := e.Op, e.Event, e.Stage
	if op == "" {
		op, event, stage = req.Method, req.Event, req.Stage
	}
	var cause error = e
	if e.Code == CodeClosed {
		cause = capture.ErrSessionClosed
	}
	if stage != nil {
		return capture.NewStageReadError(op, event, *stage, cause)
	}
	return capture.NewReadError(op, event, cause)
}
