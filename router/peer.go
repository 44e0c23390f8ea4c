package router

import (
	"context"

	"github.com/pinecone-mesh/corerouter/types"
	"go.uber.org/atomic"
)

// Sink is the outbound half of a peer's duplex channel endpoint (§6,
// "Peer transport"). Frame codecs and the underlying byte-stream are the
// transport layer's concern, not the engine's.
type Sink interface {
	Send(*types.Frame) error
	Close() error
}

// Source is the inbound half of a peer's duplex channel endpoint.
type Source interface {
	Recv() (*types.Frame, error)
}

// peer is the engine's handle on one connected neighbor: its assigned
// port, its identity, and the duplex endpoints the Peer I/O Registry
// drives a receive task over. The zero value with port 0 represents the
// local router itself and is never backed by a sink/source.
type peer struct {
	router *Router
	port   types.Port
	public types.PublicKey
	sink   Sink
	source Source
	proto  *fifoQueue // outbound protocol/control frames

	started atomic.Bool
	cancel  context.CancelFunc
}

// local reports whether this handle denotes the local router rather than
// a network peer — port 0 is reserved for that purpose (§3).
func (p *peer) local() bool {
	return p == nil || p.port == 0
}

// localPeer constructs the sentinel peer value used as port 0 throughout
// the engine: hop selection and dispatch treat it as "deliver here".
func (r *Router) localPeer() *peer {
	return &peer{router: r, port: 0, public: r.public}
}

// pump drains the outbound queue to the sink until the queue is closed or
// the peer's context is cancelled. One pump runs per connected peer.
func (p *peer) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.proto.wait():
		}
		for {
			f, ok := p.proto.pop()
			if !ok {
				break
			}
			if err := p.sink.Send(f); err != nil {
				p.router.log.Printf("peer %s: send failed: %v", p.public, err)
				p.router.disconnect(p)
				return
			}
		}
	}
}

// receive is the per-peer receive task (§5, logical task 4): it pulls
// frames from the source and hands each to the frame dispatcher tagged
// with this peer as the "from" identity. Per-peer ordering is preserved
// because exactly one goroutine runs this loop for a given peer.
func (p *peer) receive(ctx context.Context) {
	for {
		f, err := p.source.Recv()
		if err != nil {
			if ctx.Err() == nil {
				p.router.log.Printf("peer %s: receive failed: %v", p.public, err)
			}
			p.router.disconnect(p)
			return
		}
		p.router.state.dispatch(p, f)
	}
}
