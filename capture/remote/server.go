package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gogpu/gpuwaste/capture"
	"github.com/gorilla/websocket"
)

// Server exposes a capture.Session to Clients. Every connection shares
// the session; calls into it are serialized with capture.Serialize.
type Server struct {
	session  capture.Session
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewServer returns a Server answering requests from s.
func NewServer(s capture.Session) *Server {
	return &Server{
		session: capture.Serialize(s),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close drops every open connection and refuses new ones. The session
// is not closed.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	clear(s.conns)
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and answers requests
// until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		capture.Logger().Warn("remote: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	capture.Logger().Info("remote: client connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				capture.Logger().Debug("remote: read failed", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		resp := s.handle(ctx, &req)
		if err := conn.WriteJSON(resp); err != nil {
			capture.Logger().Debug("remote: write failed", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, req *Request) *Response {
	resp := &Response{ID: req.ID}
	result, err := s.dispatch(ctx, req)
	if err == nil {
		resp.Result, err = json.Marshal(result)
	}
	if err != nil {
		resp.Result = nil
		resp.Error = encodeError(err)
		capture.Logger().Debug("remote: request failed", "method", req.Method, "event", req.Event, "err", err)
	}
	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	stage := func() (capture.ShaderStage, error) {
		if req.Stage == nil {
			return 0, &Error{Code: CodeBadRequest, Message: req.Method + ": missing stage"}
		}
		return *req.Stage, nil
	}

	switch req.Method {
	case MethodActions:
		return s.session.RootActions(ctx)
	case MethodPipeline:
		return s.session.PipelineState(ctx, req.Event)
	case MethodReflection:
		st, err := stage()
		if err != nil {
			return nil, err
		}
		return s.session.Reflection(ctx, req.Event, st)
	case MethodBindpoints:
		st, err := stage()
		if err != nil {
			return nil, err
		}
		return s.session.Bindpoints(ctx, req.Event, st)
	case MethodInputs:
		return s.session.VertexInputs(ctx, req.Event)
	case MethodResources:
		return s.session.Resources(ctx)
	}
	return nil, fmt.Errorf("unknown method %q", req.Method)
}

// ListenAndServe serves s on addr under Path until ctx is done.
func ListenAndServe(ctx context.Context, addr string, s capture.Session) error {
	handler := NewServer(s)
	mux := http.NewServeMux()
	mux.Handle(Path, handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	capture.Logger().Info("remote: serving", "addr", addr, "path", Path)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
