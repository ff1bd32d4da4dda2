package local

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gpuwaste/capture"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// ShaderInfo is the reflection of one WGSL entry point.
type ShaderInfo struct {
	EntryPoint string
	Stage      capture.ShaderStage

	// Resources lists the declared resources, numbered per kind in
	// (group, binding) order.
	Resources []capture.ShaderResource

	// Slots holds one bound slot per declared resource, carrying the
	// entry point's static usage of it.
	Slots []capture.BindpointSlot

	// Inputs is the vertex input signature. It is empty for other stages.
	Inputs []capture.VertexInputAttribute
}

// Reflection returns the session view of info for shader id.
func (info *ShaderInfo) Reflection(id capture.ShaderID) *capture.Reflection {
	return &capture.Reflection{
		Shader:     id,
		EntryPoint: info.EntryPoint,
		Resources:  slices.Clone(info.Resources),
	}
}

// slot returns the reflected slot of the given kind, if declared.
func (info *ShaderInfo) slot(kind capture.ResourceKind, slot uint32) (capture.BindpointSlot, bool) {
	for _, s := range info.Slots {
		if s.Kind == kind && s.Slot == slot {
			return s, true
		}
	}
	return capture.BindpointSlot{}, false
}

// ReflectWGSL parses and lowers WGSL source with naga and reflects one
// entry point. An empty entryPoint selects the first entry point of stage.
//
// A resource counts as used when the entry point, or any function it
// calls, references it. Vertex input masks come from the expressions that
// consume each input: swizzles and component indexing read the named
// components, any other consumer reads all of them.
func ReflectWGSL(source, entryPoint string, stage capture.ShaderStage) (*ShaderInfo, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("wgsl parse: %w", err)
	}
	mod, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("wgsl lower: %w", err)
	}

	ep, err := findEntryPoint(mod, entryPoint, stage)
	if err != nil {
		return nil, err
	}

	info := &ShaderInfo{EntryPoint: ep.Name, Stage: stage}
	info.Resources, info.Slots = reflectResources(mod, usedGlobals(mod, &ep.Function))
	if stage == capture.StageVertex {
		info.Inputs = vertexInputs(mod, &ep.Function)
	}
	return info, nil
}

func stageOf(s ir.ShaderStage) (capture.ShaderStage, bool) {
	switch s {
	case ir.StageVertex:
		return capture.StageVertex, true
	case ir.StageFragment:
		return capture.StagePixel, true
	case ir.StageCompute:
		return capture.StageCompute, true
	}
	return 0, false
}

func findEntryPoint(mod *ir.Module, name string, stage capture.ShaderStage) (*ir.EntryPoint, error) {
	for i := range mod.EntryPoints {
		ep := &mod.EntryPoints[i]
		st, ok := stageOf(ep.Stage)
		if !ok || st != stage {
			continue
		}
		if name == "" || ep.Name == name {
			return ep, nil
		}
	}
	if name != "" {
		return nil, fmt.Errorf("no %s entry point %q", stage, name)
	}
	return nil, fmt.Errorf("no %s entry point", stage)
}

func typeInner(mod *ir.Module, h ir.TypeHandle) ir.TypeInner {
	if int(h) < len(mod.Types) {
		return mod.Types[h].Inner
	}
	return nil
}

// resourceClass returns the binding class and array size of a global.
// Samplers and private globals report false.
func resourceClass(mod *ir.Module, g *ir.GlobalVariable) (capture.ResourceKind, uint32, bool) {
	size := uint32(1)
	inner := typeInner(mod, g.Type)
	if arr, ok := inner.(ir.BindingArrayType); ok {
		// Unbounded arrays count as one slot.
		if arr.Size != nil && *arr.Size > 0 {
			size = *arr.Size
		}
		inner = typeInner(mod, arr.Base)
	}

	switch g.Space {
	case ir.SpaceUniform:
		return capture.ResourceConstantBuffer, size, true
	case ir.SpaceStorage:
		if g.Access == ir.StorageRead {
			return capture.ResourceReadOnly, size, true
		}
		return capture.ResourceReadWrite, size, true
	case ir.SpaceHandle:
		switch t := inner.(type) {
		case ir.ImageType:
			if t.Class == ir.ImageClassStorage && t.StorageAccess != ir.StorageAccessRead {
				return capture.ResourceReadWrite, size, true
			}
			return capture.ResourceReadOnly, size, true
		case ir.AccelerationStructureType:
			return capture.ResourceReadOnly, size, true
		}
	}
	return 0, 0, false
}

func reflectResources(mod *ir.Module, used []bool) ([]capture.ShaderResource, []capture.BindpointSlot) {
	type bound struct {
		name           string
		group, binding uint32
		kind           capture.ResourceKind
		size           uint32
		used           bool
	}

	var globals []bound
	for h := range mod.GlobalVariables {
		g := &mod.GlobalVariables[h]
		if g.Binding == nil {
			continue
		}
		kind, size, ok := resourceClass(mod, g)
		if !ok {
			continue
		}
		globals = append(globals, bound{
			name:    g.Name,
			group:   g.Binding.Group,
			binding: g.Binding.Binding,
			kind:    kind,
			size:    size,
			used:    used[h],
		})
	}
	slices.SortStableFunc(globals, func(a, b bound) int {
		return cmp.Or(cmp.Compare(a.group, b.group), cmp.Compare(a.binding, b.binding))
	})

	var next [capture.NumResourceKinds]uint32
	resources := make([]capture.ShaderResource, 0, len(globals))
	slots := make([]capture.BindpointSlot, 0, len(globals))
	for _, g := range globals {
		slot := next[g.kind]
		next[g.kind]++
		resources = append(resources, capture.ShaderResource{Name: g.name, Kind: g.kind, Slot: slot})
		slots = append(slots, capture.BindpointSlot{
			Slot:      slot,
			Kind:      g.kind,
			Set:       g.group,
			Binding:   g.binding,
			ArraySize: g.size,
			Used:      g.used,
		})
	}
	return resources, slots
}

// walkStatements calls fn for every statement of block, nested blocks
// included.
func walkStatements(block ir.Block, fn func(ir.Statement)) {
	for _, s := range block {
		fn(s)
		switch k := s.Kind.(type) {
		case ir.StmtBlock:
			walkStatements(k.Block, fn)
		case ir.StmtIf:
			walkStatements(k.Accept, fn)
			walkStatements(k.Reject, fn)
		case ir.StmtSwitch:
			for _, c := range k.Cases {
				walkStatements(c.Body, fn)
			}
		case ir.StmtLoop:
			walkStatements(k.Body, fn)
			walkStatements(k.Continuing, fn)
		}
	}
}

// usedGlobals marks the globals referenced from entry and every function
// reachable from it through calls.
func usedGlobals(mod *ir.Module, entry *ir.Function) []bool {
	used := make([]bool, len(mod.GlobalVariables))
	called := make([]bool, len(mod.Functions))

	var trace func(f *ir.Function)
	trace = func(f *ir.Function) {
		for _, e := range f.Expressions {
			if gv, ok := e.Kind.(ir.ExprGlobalVariable); ok && int(gv.Variable) < len(used) {
				used[gv.Variable] = true
			}
		}
		walkStatements(f.Body, func(s ir.Statement) {
			call, ok := s.Kind.(ir.StmtCall)
			if !ok || int(call.Function) >= len(called) || called[call.Function] {
				return
			}
			called[call.Function] = true
			trace(&mod.Functions[call.Function])
		})
	}
	trace(entry)
	return used
}

// consumer is one use of an expression: another expression, or a
// statement when stmt is set.
type consumer struct {
	expr ir.ExpressionHandle
	stmt bool
}

// useIndex maps an expression to its consumers within one function.
type useIndex struct {
	fn   *ir.Function
	uses map[ir.ExpressionHandle][]consumer
}

func newUseIndex(fn *ir.Function) *useIndex {
	u := &useIndex{fn: fn, uses: make(map[ir.ExpressionHandle][]consumer)}
	for h, e := range fn.Expressions {
		for _, op := range exprOperands(e.Kind) {
			u.uses[op] = append(u.uses[op], consumer{expr: ir.ExpressionHandle(h)})
		}
	}
	walkStatements(fn.Body, func(s ir.Statement) {
		for _, op := range stmtOperands(s.Kind) {
			u.uses[op] = append(u.uses[op], consumer{stmt: true})
		}
	})
	return u
}

// mask returns the components of h read by its consumers.
func (u *useIndex) mask(h ir.ExpressionHandle, components int) capture.ChannelMask {
	full := capture.MaskForComponents(components)
	var m capture.ChannelMask
	for _, c := range u.uses[h] {
		if c.stmt {
			return full
		}
		switch k := u.fn.Expressions[c.expr].Kind.(type) {
		case ir.ExprSwizzle:
			for _, comp := range k.Pattern[:k.Size] {
				m |= capture.ChannelMask(1) << comp
			}
		case ir.ExprAccessIndex:
			m |= capture.ChannelMask(1) << min(k.Index, 7)
		default:
			return full
		}
	}
	return m & full
}

// memberMask returns the components of struct member of h read by the
// consumers of that member. Using the struct as a whole reads everything.
func (u *useIndex) memberMask(h ir.ExpressionHandle, member uint32, components int) capture.ChannelMask {
	full := capture.MaskForComponents(components)
	var m capture.ChannelMask
	for _, c := range u.uses[h] {
		if c.stmt {
			return full
		}
		ai, ok := u.fn.Expressions[c.expr].Kind.(ir.ExprAccessIndex)
		if !ok {
			return full
		}
		if ai.Index == member {
			m |= u.mask(c.expr, components)
		}
	}
	return m
}

func locationOf(b *ir.Binding) (uint32, bool) {
	if b == nil {
		return 0, false
	}
	switch lb := (*b).(type) {
	case ir.LocationBinding:
		return lb.Location, true
	case *ir.LocationBinding:
		return lb.Location, true
	}
	return 0, false
}

func vertexInputs(mod *ir.Module, fn *ir.Function) []capture.VertexInputAttribute {
	u := newUseIndex(fn)

	// Arguments may be materialized by more than one expression.
	args := make(map[uint32][]ir.ExpressionHandle)
	for h, e := range fn.Expressions {
		if fa, ok := e.Kind.(ir.ExprFunctionArgument); ok {
			args[fa.Index] = append(args[fa.Index], ir.ExpressionHandle(h))
		}
	}

	var attrs []capture.VertexInputAttribute
	for i, arg := range fn.Arguments {
		exprs := args[uint32(i)]
		if loc, ok := locationOf(arg.Binding); ok {
			a := attribute(mod, arg.Name, loc, arg.Type)
			for _, h := range exprs {
				a.ChannelMask |= u.mask(h, componentCount(mod, arg.Type))
			}
			attrs = append(attrs, a)
			continue
		}
		st, ok := typeInner(mod, arg.Type).(ir.StructType)
		if !ok {
			continue
		}
		for m, member := range st.Members {
			loc, ok := locationOf(member.Binding)
			if !ok {
				continue
			}
			a := attribute(mod, member.Name, loc, member.Type)
			for _, h := range exprs {
				a.ChannelMask |= u.memberMask(h, uint32(m), componentCount(mod, member.Type))
			}
			attrs = append(attrs, a)
		}
	}
	slices.SortStableFunc(attrs, func(a, b capture.VertexInputAttribute) int {
		return cmp.Compare(a.Location, b.Location)
	})
	return attrs
}

// scalarOf returns the scalar type and component count of an input type.
// Anything that is not a scalar or vector is treated as a vec4 of f32.
func scalarOf(mod *ir.Module, h ir.TypeHandle) (ir.ScalarType, int) {
	switch t := typeInner(mod, h).(type) {
	case ir.ScalarType:
		return t, 1
	case ir.VectorType:
		return t.Scalar, int(t.Size)
	}
	return ir.ScalarType{Kind: ir.ScalarFloat, Width: 4}, 4
}

func componentCount(mod *ir.Module, h ir.TypeHandle) int {
	_, n := scalarOf(mod, h)
	return n
}

func attribute(mod *ir.Module, name string, location uint32, ty ir.TypeHandle) capture.VertexInputAttribute {
	scalar, n := scalarOf(mod, ty)

	var prefix string
	switch scalar.Kind {
	case ir.ScalarUint:
		prefix = "uint"
	case ir.ScalarSint:
		prefix = "sint"
	default:
		prefix = "float"
	}
	format := fmt.Sprintf("%s%d", prefix, int(scalar.Width)*8)
	if n > 1 {
		format += fmt.Sprintf("x%d", n)
	}
	if f, ok := capture.ParseVertexFormat(format); ok {
		format = f.String()
	}

	return capture.VertexInputAttribute{
		Semantic: name,
		Location: location,
		Format:   format,
		ByteSize: uint32(scalar.Width) * uint32(n),
	}
}

func optional(h *ir.ExpressionHandle) []ir.ExpressionHandle {
	if h == nil {
		return nil
	}
	return []ir.ExpressionHandle{*h}
}

// exprOperands lists the expressions an expression reads.
func exprOperands(kind ir.ExpressionKind) []ir.ExpressionHandle {
	switch k := kind.(type) {
	case ir.ExprCompose:
		return k.Components
	case ir.ExprAccess:
		return []ir.ExpressionHandle{k.Base, k.Index}
	case ir.ExprAccessIndex:
		return []ir.ExpressionHandle{k.Base}
	case ir.ExprSplat:
		return []ir.ExpressionHandle{k.Value}
	case ir.ExprSwizzle:
		return []ir.ExpressionHandle{k.Vector}
	case ir.ExprLoad:
		return []ir.ExpressionHandle{k.Pointer}
	case ir.ExprAlias:
		return []ir.ExpressionHandle{k.Source}
	case ir.ExprPhi:
		ops := make([]ir.ExpressionHandle, len(k.Incoming))
		for i, in := range k.Incoming {
			ops[i] = in.Value
		}
		return ops
	case ir.ExprImageSample:
		ops := []ir.ExpressionHandle{k.Image, k.Sampler, k.Coordinate}
		ops = append(ops, optional(k.ArrayIndex)...)
		ops = append(ops, optional(k.Offset)...)
		ops = append(ops, optional(k.DepthRef)...)
		switch l := k.Level.(type) {
		case ir.SampleLevelExact:
			ops = append(ops, l.Level)
		case ir.SampleLevelBias:
			ops = append(ops, l.Bias)
		case ir.SampleLevelGradient:
			ops = append(ops, l.X, l.Y)
		}
		return ops
	case ir.ExprImageLoad:
		ops := []ir.ExpressionHandle{k.Image, k.Coordinate}
		ops = append(ops, optional(k.ArrayIndex)...)
		ops = append(ops, optional(k.Sample)...)
		return append(ops, optional(k.Level)...)
	case ir.ExprImageQuery:
		ops := []ir.ExpressionHandle{k.Image}
		if q, ok := k.Query.(ir.ImageQuerySize); ok {
			ops = append(ops, optional(q.Level)...)
		}
		return ops
	case ir.ExprUnary:
		return []ir.ExpressionHandle{k.Expr}
	case ir.ExprBinary:
		return []ir.ExpressionHandle{k.Left, k.Right}
	case ir.ExprSelect:
		return []ir.ExpressionHandle{k.Condition, k.Accept, k.Reject}
	case ir.ExprDerivative:
		return []ir.ExpressionHandle{k.Expr}
	case ir.ExprRelational:
		return []ir.ExpressionHandle{k.Argument}
	case ir.ExprMath:
		ops := []ir.ExpressionHandle{k.Arg}
		ops = append(ops, optional(k.Arg1)...)
		ops = append(ops, optional(k.Arg2)...)
		return append(ops, optional(k.Arg3)...)
	case ir.ExprAs:
		return []ir.ExpressionHandle{k.Expr}
	case ir.ExprArrayLength:
		return []ir.ExpressionHandle{k.Array}
	case ir.ExprRayQueryGetIntersection:
		return []ir.ExpressionHandle{k.Query}
	}
	return nil
}

// stmtOperands lists the expressions a statement reads directly. Emit
// ranges are not reads.
func stmtOperands(kind ir.StatementKind) []ir.ExpressionHandle {
	switch k := kind.(type) {
	case ir.StmtIf:
		return []ir.ExpressionHandle{k.Condition}
	case ir.StmtSwitch:
		return []ir.ExpressionHandle{k.Selector}
	case ir.StmtLoop:
		return optional(k.BreakIf)
	case ir.StmtReturn:
		return optional(k.Value)
	case ir.StmtStore:
		return []ir.ExpressionHandle{k.Pointer, k.Value}
	case ir.StmtImageStore:
		ops := []ir.ExpressionHandle{k.Image, k.Coordinate, k.Value}
		return append(ops, optional(k.ArrayIndex)...)
	case ir.StmtAtomic:
		return []ir.ExpressionHandle{k.Pointer, k.Value}
	case ir.StmtImageAtomic:
		ops := []ir.ExpressionHandle{k.Image, k.Coordinate, k.Value}
		return append(ops, optional(k.ArrayIndex)...)
	case ir.StmtWorkGroupUniformLoad:
		return []ir.ExpressionHandle{k.Pointer}
	case ir.StmtCall:
		return k.Arguments
	case ir.StmtSubgroupCollectiveOperation:
		return []ir.ExpressionHandle{k.Argument}
	case ir.StmtSubgroupGather:
		return []ir.ExpressionHandle{k.Argument}
	case ir.StmtSubgroupBallot:
		return optional(k.Predicate)
	}
	return nil
}
