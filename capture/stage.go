package capture

import (
	"fmt"
	"strings"
)

// ShaderStage identifies a programmable pipeline stage.
// The numeric order is the fixed pipeline order used for reporting.
type ShaderStage uint8

const (
	StageVertex ShaderStage = iota
	StageHull
	StageDomain
	StageGeometry
	StagePixel
	StageCompute
)

// NumStages is the number of shader stages.
const NumStages = int(StageCompute) + 1

var stageNames = [NumStages]string{
	"Vertex",
	"Hull",
	"Domain",
	"Geometry",
	"Pixel",
	"Compute",
}

// stageAliases maps API-specific stage names onto the closed stage set.
var stageAliases = map[string]ShaderStage{
	"vertex":                  StageVertex,
	"vs":                      StageVertex,
	"hull":                    StageHull,
	"hs":                      StageHull,
	"tessellation-control":    StageHull,
	"tesscontrol":             StageHull,
	"domain":                  StageDomain,
	"ds":                      StageDomain,
	"tessellation-evaluation": StageDomain,
	"tesseval":                StageDomain,
	"geometry":                StageGeometry,
	"gs":                      StageGeometry,
	"pixel":                   StagePixel,
	"ps":                      StagePixel,
	"fragment":                StagePixel,
	"fs":                      StagePixel,
	"compute":                 StageCompute,
	"cs":                      StageCompute,
}

// String returns the stage name.
func (s ShaderStage) String() string {
	if int(s) < NumStages {
		return stageNames[s]
	}
	return fmt.Sprintf("ShaderStage(%d)", uint8(s))
}

// Valid reports whether s is one of the defined stages.
func (s ShaderStage) Valid() bool {
	return int(s) < NumStages
}

// MarshalText implements encoding.TextMarshaler.
func (s ShaderStage) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("capture: invalid shader stage %d", uint8(s))
	}
	return []byte(stageNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ShaderStage) UnmarshalText(text []byte) error {
	st, err := ParseShaderStage(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseShaderStage parses a stage name. Matching is case-insensitive and
// accepts common API spellings ("fragment", "ps", "tessellation-control").
func ParseShaderStage(name string) (ShaderStage, error) {
	if st, ok := stageAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return st, nil
	}
	return 0, fmt.Errorf("capture: unknown shader stage %q", name)
}

// Stages returns every stage in pipeline order.
func Stages() []ShaderStage {
	out := make([]ShaderStage, NumStages)
	for i := range out {
		out[i] = ShaderStage(i)
	}
	return out
}

// StageSet is a set of shader stages.
type StageSet uint8

// StageSetOf builds a set from the given stages.
func StageSetOf(stages ...ShaderStage) StageSet {
	var s StageSet
	for _, st := range stages {
		s = s.With(st)
	}
	return s
}

// Has reports whether the set contains st.
func (s StageSet) Has(st ShaderStage) bool {
	return st.Valid() && s&(1<<st) != 0
}

// With returns the set with st added.
func (s StageSet) With(st ShaderStage) StageSet {
	if !st.Valid() {
		return s
	}
	return s | 1<<st
}

// Len returns the number of stages in the set.
func (s StageSet) Len() int {
	n := 0
	for st := range NumStages {
		if s&(1<<st) != 0 {
			n++
		}
	}
	return n
}

// Stages returns the members in pipeline order.
func (s StageSet) Stages() []ShaderStage {
	out := make([]ShaderStage, 0, s.Len())
	for st := range NumStages {
		if s&(1<<st) != 0 {
			out = append(out, ShaderStage(st))
		}
	}
	return out
}

// String returns the members joined by "|", or "None".
func (s StageSet) String() string {
	stages := s.Stages()
	if len(stages) == 0 {
		return "None"
	}
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.String()
	}
	return strings.Join(names, "|")
}
