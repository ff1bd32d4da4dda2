package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gogpu/gpuwaste/capture"
)

func init() {
	capture.Register(capture.SchemeFile, Open)
}

// Open loads the capture document at path. Shader sources resolve
// against the document's directory, then opts.SearchPath, then
// DefaultSearchPath.
func Open(ctx context.Context, path string, opts capture.OpenOptions) (capture.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	dirs := append([]string{filepath.Dir(path)}, opts.SearchPath...)
	capture.Logger().Debug("local: capture loaded", "path", path, "shaders", len(doc.Shaders))
	return New(doc, dirs...), nil
}

var (
	errNoPipeline   = errors.New("no pipeline state recorded")
	errInvalidStage = errors.New("invalid stage")
)

// drawState is the normalized form of a DrawEntry.
type drawState struct {
	pipeline   capture.PipelineState
	bindpoints map[capture.ShaderStage][]SlotEntry
	inputs     []InputEntry
}

// reflection is a cached reflection outcome.
type reflection struct {
	info *ShaderInfo
	err  error
}

// Session is a capture.Session over a Document.
//
// Reflection is computed once per shader, on first use. Session is safe
// for concurrent use.
type Session struct {
	search  *SearchPath
	actions []capture.Action
	draws   map[capture.EventID]*drawState
	shaders map[capture.ShaderID]*ShaderEntry
	inv     *capture.Inventory

	mu        sync.Mutex
	reflected map[capture.ShaderID]*reflection
	closed    bool
}

// New returns a session over a validated document. Shader files resolve
// against dirs and then DefaultSearchPath.
func New(doc *Document, dirs ...string) *Session {
	s := &Session{
		search:    NewSearchPath(dirs...),
		draws:     make(map[capture.EventID]*drawState),
		shaders:   make(map[capture.ShaderID]*ShaderEntry, len(doc.Shaders)),
		inv:       doc.Resources.inventory(),
		reflected: make(map[capture.ShaderID]*reflection),
	}
	for i := range doc.Shaders {
		s.shaders[doc.Shaders[i].ID] = &doc.Shaders[i]
	}
	s.actions = s.convert(doc.Actions)
	return s
}

func (s *Session) convert(entries []ActionEntry) []capture.Action {
	if len(entries) == 0 {
		return nil
	}
	out := make([]capture.Action, len(entries))
	for i, e := range entries {
		flags, _ := parseFlags(e.Flags)
		out[i] = capture.Action{
			EventID:  e.Event,
			Name:     e.Name,
			Flags:    flags,
			Children: s.convert(e.Children),
		}
		if e.Draw != nil {
			s.draws[e.Event] = newDrawState(e.Draw)
		}
	}
	return out
}

func newDrawState(d *DrawEntry) *drawState {
	st := &drawState{
		pipeline: capture.PipelineState{
			VertexCount:   d.VertexCount,
			InstanceCount: d.InstanceCount,
			ColorTargets:  slices.Clone(d.ColorTargets),
			DepthTarget:   d.DepthTarget,
		},
		bindpoints: make(map[capture.ShaderStage][]SlotEntry, len(d.Bindpoints)),
		inputs:     d.Inputs,
	}
	if d.Topology != "" {
		st.pipeline.Topology, _ = capture.ParseTopology(d.Topology)
	}
	for name, id := range d.Shaders {
		stage, _ := capture.ParseShaderStage(name)
		st.pipeline.Shaders[stage] = id
	}
	for name, slots := range d.Bindpoints {
		stage, _ := capture.ParseShaderStage(name)
		st.bindpoints[stage] = slots
	}
	return st
}

// draw returns the state recorded at event.
func (s *Session) draw(ctx context.Context, op string, event capture.EventID) (*drawState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, capture.NewReadError(op, event, capture.ErrSessionClosed)
	}
	d, ok := s.draws[event]
	if !ok {
		return nil, capture.NewReadError(op, event, errNoPipeline)
	}
	return d, nil
}

// shader returns the entry of the shader bound to stage, or
// ErrStageDataAbsent when nothing is bound.
func (s *Session) shader(op string, event capture.EventID, d *drawState, stage capture.ShaderStage) (*ShaderEntry, error) {
	if !stage.Valid() {
		return nil, capture.NewStageReadError(op, event, stage, errInvalidStage)
	}
	id := d.pipeline.Shaders[stage]
	if id == 0 {
		return nil, capture.ErrStageDataAbsent
	}
	entry, ok := s.shaders[id]
	if !ok {
		return nil, capture.NewStageReadError(op, event, stage, fmt.Errorf("unknown shader %d", id))
	}
	if st, _ := capture.ParseShaderStage(entry.Stage); st != stage {
		return nil, capture.NewStageReadError(op, event, stage,
			fmt.Errorf("shader %d is a %s shader", id, st))
	}
	return entry, nil
}

// hasSource reports whether the shader's reflection comes from WGSL.
func (e *ShaderEntry) hasSource() bool {
	return e.Source != "" || e.Code != ""
}

// reflect returns the cached WGSL reflection of e, compiling it on first
// use. A failed compile is cached too.
func (s *Session) reflect(e *ShaderEntry) (*ShaderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.reflected[e.ID]; ok {
		return r.info, r.err
	}
	info, err := s.compile(e)
	s.reflected[e.ID] = &reflection{info: info, err: err}
	if err != nil {
		capture.Logger().Warn("local: shader reflection failed", "shader", e.ID, "err", err)
	} else {
		capture.Logger().Debug("local: shader reflected", "shader", e.ID,
			"entryPoint", info.EntryPoint, "resources", len(info.Resources), "inputs", len(info.Inputs))
	}
	return info, err
}

func (s *Session) compile(e *ShaderEntry) (*ShaderInfo, error) {
	stage, err := capture.ParseShaderStage(e.Stage)
	if err != nil {
		return nil, err
	}
	code := e.Code
	if e.Source != "" {
		path, err := s.search.Resolve(e.Source)
		if err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		code = string(b)
	}
	info, err := ReflectWGSL(code, e.EntryPoint, stage)
	if err != nil {
		return nil, fmt.Errorf("shader %d: %w", e.ID, err)
	}
	return info, nil
}

func (s *Session) RootActions(ctx context.Context) ([]capture.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, capture.NewReadError("actions", 0, capture.ErrSessionClosed)
	}
	return s.actions, nil
}

func (s *Session) PipelineState(ctx context.Context, event capture.EventID) (capture.PipelineState, error) {
	d, err := s.draw(ctx, "pipeline", event)
	if err != nil {
		return capture.PipelineState{}, err
	}
	p := d.pipeline
	p.ColorTargets = slices.Clone(p.ColorTargets)
	return p, nil
}

func (s *Session) Reflection(ctx context.Context, event capture.EventID, stage capture.ShaderStage) (*capture.Reflection, error) {
	const op = "reflection"
	d, err := s.draw(ctx, op, event)
	if err != nil {
		return nil, err
	}
	entry, err := s.shader(op, event, d, stage)
	if err != nil {
		return nil, err
	}
	if !entry.hasSource() {
		refl := &capture.Reflection{Shader: entry.ID, EntryPoint: entry.EntryPoint}
		for _, r := range entry.Resources {
			refl.Resources = append(refl.Resources, capture.ShaderResource(r))
		}
		return refl, nil
	}
	info, err := s.reflect(entry)
	if err != nil {
		return nil, capture.NewStageReadError(op, event, stage, err)
	}
	return info.Reflection(entry.ID), nil
}

func (s *Session) Bindpoints(ctx context.Context, event capture.EventID, stage capture.ShaderStage) ([]capture.BindpointSlot, error) {
	const op = "bindpoints"
	d, err := s.draw(ctx, op, event)
	if err != nil {
		return nil, err
	}
	entry, err := s.shader(op, event, d, stage)
	if err != nil {
		return nil, err
	}

	var info *ShaderInfo
	if entry.hasSource() {
		if info, err = s.reflect(entry); err != nil {
			return nil, capture.NewStageReadError(op, event, stage, err)
		}
	}

	recorded, ok := d.bindpoints[stage]
	if !ok {
		return derivedSlots(entry, info), nil
	}
	slots := make([]capture.BindpointSlot, len(recorded))
	for i, r := range recorded {
		used := true
		switch {
		case r.Used != nil:
			used = *r.Used
		case info != nil:
			if rs, ok := info.slot(r.Kind, r.Slot); ok {
				used = rs.Used
			}
		}
		slots[i] = capture.BindpointSlot{
			Slot:      r.Slot,
			Kind:      r.Kind,
			Set:       r.Set,
			Binding:   r.Binding,
			ArraySize: r.ArraySize,
			Used:      used,
			Resource:  r.Resource,
		}
	}
	return slots, nil
}

// derivedSlots binds every declared resource once. Shaders without WGSL
// have no usage data and report every slot used.
func derivedSlots(entry *ShaderEntry, info *ShaderInfo) []capture.BindpointSlot {
	if info != nil {
		return slices.Clone(info.Slots)
	}
	slots := make([]capture.BindpointSlot, len(entry.Resources))
	for i, r := range entry.Resources {
		slots[i] = capture.BindpointSlot{Slot: r.Slot, Kind: r.Kind, ArraySize: 1, Used: true}
	}
	return slots
}

func (s *Session) VertexInputs(ctx context.Context, event capture.EventID) ([]capture.VertexInputAttribute, error) {
	const op = "vertexInputs"
	d, err := s.draw(ctx, op, event)
	if err != nil {
		return nil, err
	}
	if len(d.inputs) > 0 {
		return inputs(d.inputs), nil
	}
	entry, err := s.shader(op, event, d, capture.StageVertex)
	if err != nil {
		return nil, err
	}
	switch {
	case len(entry.Inputs) > 0:
		return inputs(entry.Inputs), nil
	case entry.hasSource():
		info, err := s.reflect(entry)
		if err != nil {
			return nil, capture.NewStageReadError(op, event, capture.StageVertex, err)
		}
		return slices.Clone(info.Inputs), nil
	}
	return nil, capture.ErrStageDataAbsent
}

func (s *Session) Resources(ctx context.Context) (*capture.Inventory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, capture.NewReadError("resources", 0, capture.ErrSessionClosed)
	}
	return &capture.Inventory{
		Textures: slices.Clone(s.inv.Textures),
		Buffers:  slices.Clone(s.inv.Buffers),
	}, nil
}

// Close marks the session closed. Later reads fail with ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
