package capture

import (
	"strings"

	"github.com/gogpu/gputypes"
)

// defaultAttributeSize is used for vertex formats that cannot be sized.
const defaultAttributeSize = 4

var (
	vertexFormatsByName  = make(map[string]gputypes.VertexFormat)
	textureFormatsByName = make(map[string]gputypes.TextureFormat)
)

// dxgiVertexSizes sizes DXGI-style format names by component layout.
// Formats with a gputypes equivalent are resolved through it first.
var dxgiVertexSizes = map[string]uint32{
	"r32g32b32a32": 16,
	"r32g32b32":    12,
	"r32g32":       8,
	"r32":          4,
	"r16g16b16a16": 8,
	"r16g16":       4,
	"r16":          2,
	"r8g8b8a8":     4,
	"b8g8r8a8":     4,
	"r10g10b10a2":  4,
	"r11g11b10":    4,
	"r8g8":         2,
	"r8":           1,
}

func init() {
	for f := gputypes.VertexFormatUint8x2; f <= gputypes.VertexFormatUnorm1010102; f++ {
		vertexFormatsByName[normalizeName(f.String())] = f
	}
	for f := gputypes.TextureFormatR8Unorm; f <= gputypes.TextureFormatASTC12x12UnormSrgb; f++ {
		if name := f.String(); name != "Unknown" {
			textureFormatsByName[normalizeName(name)] = f
		}
	}
}

// ParseVertexFormat looks up a WebGPU vertex format name ("float32x3").
func ParseVertexFormat(name string) (gputypes.VertexFormat, bool) {
	f, ok := vertexFormatsByName[normalizeName(name)]
	return f, ok
}

// VertexFormatSize returns the per-vertex byte size of a format name.
// WebGPU names are sized by gputypes; DXGI-style names
// ("R32G32B32_FLOAT") by their component layout. Unknown names report
// false and the fallback size of 4 bytes.
func VertexFormatSize(name string) (uint32, bool) {
	if f, ok := ParseVertexFormat(name); ok {
		if sz := f.Size(); sz > 0 {
			return uint32(sz), true
		}
	}
	layout := strings.ToLower(name)
	if i := strings.IndexByte(layout, '_'); i >= 0 {
		layout = layout[:i]
	}
	if sz, ok := dxgiVertexSizes[layout]; ok {
		return sz, true
	}
	return defaultAttributeSize, false
}

// ParseTextureFormat looks up a WebGPU texture format name ("rgba8unorm").
func ParseTextureFormat(name string) (gputypes.TextureFormat, bool) {
	f, ok := textureFormatsByName[normalizeName(name)]
	return f, ok
}

// blockInfo is the storage of one texel block.
type blockInfo struct {
	bytes         uint64
	width, height uint32
}

// textureBlock returns the block layout of f. Unknown formats are treated
// as 4-byte texels.
func textureBlock(f gputypes.TextureFormat) blockInfo {
	switch {
	case f >= gputypes.TextureFormatR8Unorm && f <= gputypes.TextureFormatR8Sint,
		f == gputypes.TextureFormatStencil8:
		return blockInfo{1, 1, 1}
	case f >= gputypes.TextureFormatR16Unorm && f <= gputypes.TextureFormatRG8Sint,
		f == gputypes.TextureFormatDepth16Unorm:
		return blockInfo{2, 1, 1}
	case f >= gputypes.TextureFormatR32Float && f <= gputypes.TextureFormatRGB9E5Ufloat,
		f == gputypes.TextureFormatDepth24Plus,
		f == gputypes.TextureFormatDepth24PlusStencil8,
		f == gputypes.TextureFormatDepth32Float:
		return blockInfo{4, 1, 1}
	case f >= gputypes.TextureFormatRG32Float && f <= gputypes.TextureFormatRGBA16Float,
		f == gputypes.TextureFormatDepth32FloatStencil8:
		return blockInfo{8, 1, 1}
	case f >= gputypes.TextureFormatRGBA32Float && f <= gputypes.TextureFormatRGBA32Sint:
		return blockInfo{16, 1, 1}
	case f == gputypes.TextureFormatBC1RGBAUnorm, f == gputypes.TextureFormatBC1RGBAUnormSrgb,
		f == gputypes.TextureFormatBC4RUnorm, f == gputypes.TextureFormatBC4RSnorm,
		f >= gputypes.TextureFormatETC2RGB8Unorm && f <= gputypes.TextureFormatETC2RGB8A1UnormSrgb,
		f == gputypes.TextureFormatEACR11Unorm, f == gputypes.TextureFormatEACR11Snorm:
		return blockInfo{8, 4, 4}
	case f >= gputypes.TextureFormatBC2RGBAUnorm && f <= gputypes.TextureFormatBC7RGBAUnormSrgb,
		f >= gputypes.TextureFormatETC2RGBA8Unorm && f <= gputypes.TextureFormatEACRG11Snorm:
		return blockInfo{16, 4, 4}
	}
	if w, h, ok := astcBlock(f); ok {
		return blockInfo{16, w, h}
	}
	return blockInfo{4, 1, 1}
}

// astcBlock parses the footprint out of an ASTC format name.
func astcBlock(f gputypes.TextureFormat) (w, h uint32, ok bool) {
	name, found := strings.CutPrefix(f.String(), "ASTC")
	if !found {
		return 0, 0, false
	}
	name = strings.TrimSuffix(strings.TrimSuffix(name, "UnormSrgb"), "Unorm")
	ws, hs, found := strings.Cut(name, "x")
	if !found {
		return 0, 0, false
	}
	return atou(ws), atou(hs), atou(ws) > 0 && atou(hs) > 0
}

func atou(s string) uint32 {
	var n uint32
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + uint32(c-'0')
	}
	return n
}

// TextureByteSize estimates the storage of t over its full mip chain and
// array layers. A recorded ByteSize takes precedence.
func TextureByteSize(t *Texture) uint64 {
	if t.ByteSize > 0 {
		return t.ByteSize
	}
	b := textureBlock(t.Format)
	w, h, d := max(t.Width, 1), max(t.Height, 1), max(t.Depth, 1)
	layers := uint64(max(t.ArraySize, 1))
	mips := max(t.MipLevels, 1)

	var total uint64
	for range mips {
		bw := uint64((w + b.width - 1) / b.width)
		bh := uint64((h + b.height - 1) / b.height)
		total += bw * bh * uint64(d) * b.bytes
		w, h, d = max(w/2, 1), max(h/2, 1), max(d/2, 1)
	}
	return total * layers
}
