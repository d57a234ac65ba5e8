// Package httputil provides the shared HTTP plumbing for the gateway's
// forwarding path: pooled clients and admission control for concurrent
// upstream requests.
package httputil

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// MaxResponseSize caps how much of an upstream response body is read back.
// Protects the gateway from a misbehaving or compromised backend.
const MaxResponseSize = 10 * 1024 * 1024 // 10MB

// Shared transport with connection pooling. Reusing TCP connections across
// forwarded requests matters far more than any per-request tuning.
var sharedTransport = &http.Transport{
	Proxy: http.ProxyFromEnvironment,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   32,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// TimeoutTier selects a client preset by operation type.
type TimeoutTier int

const (
	// TierFast for health checks against the upstream (3s)
	TierFast TimeoutTier = iota
	// TierForward for forwarding classified requests upstream (30s)
	TierForward
)

var (
	clientFast    *http.Client
	clientForward *http.Client
	clientOnce    sync.Once
)

func initClients() {
	clientFast = &http.Client{Timeout: 3 * time.Second, Transport: sharedTransport}
	clientForward = &http.Client{Timeout: 30 * time.Second, Transport: sharedTransport}
}

// Client returns the shared client for the given tier. These share one
// connection pool; do not build per-request http.Clients.
func Client(tier TimeoutTier) *http.Client {
	clientOnce.Do(initClients)
	if tier == TierFast {
		return clientFast
	}
	return clientForward
}

// ReadBounded reads at most MaxResponseSize bytes from r.
func ReadBounded(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, MaxResponseSize))
}
