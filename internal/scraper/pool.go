package scraper

import (
	"crypto/tls"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Rorqualx/cloudscraper-go/internal/transport"
)

// clientPool hands out one transport client per proxy endpoint. Clients are
// created on first use and reused for the life of the scraper, so cookies
// issued through a proxy stay with that proxy. The empty key is the direct
// (proxyless) client.
type clientPool struct {
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*pooledClient
	group   singleflight.Group
}

// pooledClient pairs a transport client with the JA3 tag of the TLS profile
// it last presented, so rotation only touches the transport when the
// profile actually changed.
type pooledClient struct {
	client *transport.Client

	mu      sync.Mutex
	lastJA3 string
}

func newClientPool(timeout time.Duration) *clientPool {
	return &clientPool{
		timeout: timeout,
		clients: make(map[string]*pooledClient),
	}
}

// client returns the pooled client for the proxy endpoint, creating it on
// first use. Concurrent first requests for the same endpoint share one
// construction.
func (p *clientPool) client(proxy string) (*pooledClient, error) {
	p.mu.Lock()
	if pc, ok := p.clients[proxy]; ok {
		p.mu.Unlock()
		return pc, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do(proxy, func() (any, error) {
		p.mu.Lock()
		if pc, ok := p.clients[proxy]; ok {
			p.mu.Unlock()
			return pc, nil
		}
		p.mu.Unlock()

		c, err := transport.New(transport.Options{
			Proxy:   proxy,
			Timeout: p.timeout,
		})
		if err != nil {
			return nil, err
		}
		pc := &pooledClient{client: c}

		p.mu.Lock()
		p.clients[proxy] = pc
		p.mu.Unlock()
		return pc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pooledClient), nil
}

// size reports how many clients have been created.
func (p *clientPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// applyTLS presents the given profile on the client's next connections.
// A no-op when the client already presents the same JA3.
func (pc *pooledClient) applyTLS(ja3 string, cfg *tls.Config) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.lastJA3 == ja3 {
		return
	}
	pc.client.SetTLSConfig(cfg)
	pc.lastJA3 = ja3
}
