// Package remote reads captures held by a capture server over WebSocket.
//
// The client sends one JSON Request per session call and waits for the
// Response with the same ID:
//
//	{"id": 7, "method": "bindpoints", "event": 42, "stage": "Pixel"}
//	{"id": 7, "result": [{"slot": 0, "kind": "SRV", ...}]}
//	{"id": 8, "error": {"code": "absent", "message": "..."}}
//
// Importing the package registers the "remote" provider. The default
// address is localhost:38920, the port a device capture server is
// forwarded to:
//
//	import _ "github.com/gogpu/gpuwaste/capture/remote"
//
//	s, err := capture.Open(ctx, "remote:localhost:38920", capture.OpenOptions{})
//
// Server is the other end; it exposes any capture.Session, which lets a
// capture file on one machine be analyzed from another.
package remote
