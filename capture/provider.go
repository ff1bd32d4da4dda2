package capture

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Scheme names of the built-in providers.
const (
	SchemeFile   = "file"
	SchemeRemote = "remote"
)

// DefaultRemoteAddress is where a capture server listens once the device
// port has been forwarded to the host.
const DefaultRemoteAddress = "localhost:38920"

// OpenOptions configures provider construction.
type OpenOptions struct {
	// SearchPath lists directories searched for shader files referenced by
	// a local capture, after the capture's own directory.
	SearchPath []string

	// RequestTimeout bounds a single remote request. Zero means the
	// provider default.
	RequestTimeout time.Duration
}

// Provider opens a session for an address in its scheme.
type Provider func(ctx context.Context, address string, opts OpenOptions) (Session, error)

var (
	providerMu sync.RWMutex
	providers  = make(map[string]Provider)
)

// Register makes a provider available under scheme. It is called from init
// in provider packages:
//
//	func init() {
//	    capture.Register(capture.SchemeFile, Open)
//	}
//
// Register panics if p is nil or scheme is already registered.
func Register(scheme string, p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()

	if p == nil {
		panic("capture: Register provider is nil")
	}
	if _, dup := providers[scheme]; dup {
		panic("capture: Register called twice for " + scheme)
	}
	providers[scheme] = p
}

// Unregister removes a provider. It exists for tests.
func Unregister(scheme string) {
	providerMu.Lock()
	defer providerMu.Unlock()
	delete(providers, scheme)
}

// Providers returns the registered scheme names, sorted.
func Providers() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a provider is registered for scheme.
func IsRegistered(scheme string) bool {
	providerMu.RLock()
	defer providerMu.RUnlock()
	_, ok := providers[scheme]
	return ok
}

// ParseTarget splits a capture target into a provider scheme and address.
//
//	file:frame.yaml        -> file, frame.yaml
//	remote:10.0.0.2:38920  -> remote, 10.0.0.2:38920
//	ws://host:38920/capture -> remote, ws://host:38920/capture
//	frame.yaml             -> file (any existing path)
//	localhost:38920        -> remote (host:port that is not a file)
func ParseTarget(target string) (scheme, address string) {
	for _, s := range []string{SchemeFile, SchemeRemote} {
		if rest, ok := strings.CutPrefix(target, s+":"); ok && !strings.HasPrefix(rest, "//") {
			return s, rest
		}
	}
	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		return SchemeRemote, target
	}
	if _, err := os.Stat(target); err == nil {
		return SchemeFile, target
	}
	if host, port, err := net.SplitHostPort(target); err == nil && host != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err == nil {
			return SchemeRemote, target
		}
	}
	return SchemeFile, target
}

// Open resolves target with ParseTarget and opens it with the matching
// provider. Failures other than a missing provider wrap
// ErrSessionUnavailable.
func Open(ctx context.Context, target string, opts OpenOptions) (Session, error) {
	scheme, address := ParseTarget(target)

	providerMu.RLock()
	p, ok := providers[scheme]
	providerMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (forgotten import?)", ErrUnknownProvider, scheme)
	}

	Logger().Debug("capture: opening session", "scheme", scheme, "address", address)
	s, err := p(ctx, address, opts)
	if err != nil {
		return nil, Unavailable("open "+target, err)
	}
	return s, nil
}
