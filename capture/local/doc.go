// Package local opens captures stored as YAML or JSON documents.
//
// A document records the action tree, the pipeline state of each draw,
// the resource inventory and the shaders. Shader reflection is computed
// from WGSL with naga: declared bindings, their static use by the entry
// point, and the components read from each vertex input.
//
// Importing the package registers the "file" provider:
//
//	import _ "github.com/gogpu/gpuwaste/capture/local"
//
//	s, err := capture.Open(ctx, "frame.yaml", capture.OpenOptions{})
//
// Shader files are resolved relative to the document, then through
// OpenOptions.SearchPath, the GPUWASTE_MODULE_PATH directories,
// ~/.gpuwaste/shaders and /usr/share/gpuwaste/shaders.
package local
