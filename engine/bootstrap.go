package engine

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
)

// DefaultBootstrapHosts is a well-known public router list, overridable
// by callers (e.g. the CLI's --bootstrap flag).
var DefaultBootstrapHosts = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
}

// ErrBootstrapFailed is returned when zero responses arrived within the
// bootstrap window. It is a recoverable failure: the caller may retry
// with different hosts or abort.
var ErrBootstrapFailed = errors.New("engine: bootstrap failed: no responses within window")

// Bootstrap resolves each host:port in hosts, emits a find_node(target =
// local id) to each, and incorporates any returned nodes into the
// routing table. It succeeds if at least one response arrives within the
// bootstrap window: ctx's own deadline if it has one, otherwise
// e.cfg.bootstrapWindow().
func (e *Engine) Bootstrap(ctx context.Context, hosts []string) error {
	if len(hosts) == 0 {
		hosts = DefaultBootstrapHosts
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.bootstrapWindow())
		defer cancel()
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	responses := 0

	for _, host := range hosts {
		addr, err := net.ResolveUDPAddr("udp4", host)
		if err != nil {
			e.log.Debugf("engine: bootstrap: resolve %q failed: %v", host, err)
			continue
		}

		wg.Add(1)
		go func(addr *net.UDPAddr) {
			defer wg.Done()
			_, err := e.FindNode(ctx, addr, e.cfg.LocalID)
			if err != nil {
				e.log.Debugf("engine: bootstrap: query %s failed: %v", addr, err)
				return
			}
			mu.Lock()
			responses++
			mu.Unlock()
		}(addr)
	}

	wg.Wait()

	if responses == 0 {
		return ErrBootstrapFailed
	}
	return nil
}
