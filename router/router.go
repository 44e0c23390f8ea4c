// Copyright 2021 The Matrix.org Foundation C.I.C.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package router implements the Pinecone-family routing engine: the
// spanning-tree plane, the SNEK keyspace plane, and the frame dispatcher
// that ties them together. It consumes peer transports and a local
// ingress/egress queue pair; it does not open sockets itself.
package router

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"github.com/pinecone-mesh/corerouter/types"
	"go.uber.org/atomic"
)

// localQueueDepth bounds the local ingress/egress queues (§4's Local
// Ingress/Egress component). Delivery is best-effort; a full ingress
// queue drops its oldest frame rather than blocking the engine (see
// deliver). Writers to a full egress queue block.
const localQueueDepth = 128

// Router owns one node's identity and its routing engine state. It is
// safe for concurrent use; all mutation of shared routing state happens
// on the state actor.
type Router struct {
	log     *log.Logger
	debug   atomic.Bool
	context context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	public  types.PublicKey
	private types.PrivateKey

	local *peer
	state *state

	ingress chan *types.Frame // frames addressed to us, for the session layer to read
	egress  chan *types.Frame // frames the session layer wants injected into the network

	pings sync.Map // types.PublicKey or coordinate string -> chan struct{}
}

// NewRouter constructs a router identity and starts its maintenance
// loops and local egress pump. Callers must eventually call Close.
func NewRouter(logger *log.Logger, private types.PrivateKey) *Router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Router{
		log:     logger,
		context: ctx,
		cancel:  cancel,
		private: private,
		public:  private.Public(),
		ingress: make(chan *types.Frame, localQueueDepth),
		egress:  make(chan *types.Frame, localQueueDepth),
	}
	r.local = r.localPeer()
	r.state = newState(r)
	r.state.Act(nil, r.state._start)
	r.wg.Add(1)
	go r.pumpEgress()
	r.log.Println("router identity:", r.public.String())
	return r
}

// PublicKey returns this node's identity.
func (r *Router) PublicKey() types.PublicKey { return r.public }

// Coords returns this node's current tree coordinates.
func (r *Router) Coords() types.Coordinates {
	var c types.Coordinates
	r.blockOn(r.state, func() { c = r.state._coords() })
	return c
}

// RootPublicKey returns the public key of the root this node currently
// believes in.
func (r *Router) RootPublicKey() types.PublicKey {
	var k types.PublicKey
	r.blockOn(r.state, func() { k = r.state._currentRoot().PublicKey })
	return k
}

// PeerInfo describes one connected neighbor for introspection purposes.
type PeerInfo struct {
	PublicKey types.PublicKey
	Port      types.Port
}

// Peers lists every currently connected peer.
func (r *Router) Peers() []PeerInfo {
	var out []PeerInfo
	r.blockOn(r.state, func() {
		for p := range r.state.announcements {
			port, _ := r.state.portOf(p)
			out = append(out, PeerInfo{PublicKey: p.public, Port: port})
		}
	})
	return out
}

// PathInfo describes one installed SNEK path for introspection purposes.
type PathInfo struct {
	Origin types.PublicKey
	Target types.PublicKey
	Active bool
}

// Ascending returns our current ascending neighbor, if any.
func (r *Router) Ascending() (PathInfo, bool) {
	var info PathInfo
	var ok bool
	r.blockOn(r.state, func() {
		if r.state.ascending != nil {
			info = PathInfo{Origin: r.state.ascending.Origin, Target: r.state.ascending.Target, Active: r.state.ascending.Active}
			ok = true
		}
	})
	return info, ok
}

// Descending returns our current descending neighbor, if any.
func (r *Router) Descending() (PathInfo, bool) {
	var info PathInfo
	var ok bool
	r.blockOn(r.state, func() {
		if r.state.descending != nil {
			info = PathInfo{Origin: r.state.descending.Origin, Target: r.state.descending.Target, Active: r.state.descending.Active}
			ok = true
		}
	})
	return info, ok
}

// DHTInfo returns a snapshot of every installed path table entry, keyed
// by its origin public key, for diagnostics and the simulator harness.
func (r *Router) DHTInfo() map[types.PublicKey]PathInfo {
	out := make(map[types.PublicKey]PathInfo)
	r.blockOn(r.state, func() {
		for idx, entry := range r.state.table {
			out[idx.PublicKey] = PathInfo{Origin: entry.Origin, Target: entry.Target, Active: entry.Active}
		}
	})
	return out
}

// Close stops the maintenance loops and every peer connection.
func (r *Router) Close() error {
	r.cancel()
	var peers []*peer
	phony.Block(r.state, func() {
		r.state._stop()
		for _, p := range r.state.ports.byPort {
			if p != nil {
				peers = append(peers, p)
			}
		}
	})
	for _, p := range peers {
		r.disconnect(p)
	}
	r.wg.Wait()
	return nil
}

// Ingress is the queue of frames addressed to this node that the session
// layer should read from (§6, "Local ingress").
func (r *Router) Ingress() <-chan *types.Frame { return r.ingress }

// deliver places a frame addressed to this node onto the ingress queue.
// Delivery is best-effort: a session layer that isn't reading fast enough
// loses the oldest undelivered frame rather than stalling the dispatcher.
func (r *Router) deliver(f *types.Frame) {
	select {
	case r.ingress <- f:
		return
	default:
	}
	select {
	case <-r.ingress:
	default:
	}
	select {
	case r.ingress <- f:
	default:
	}
}

// Egress is the queue the session layer writes frames into for the
// engine to route (§6, "Local egress").
func (r *Router) Egress() chan<- *types.Frame { return r.egress }

// pumpEgress is logical task 3 (§5): it drains frames injected by the
// session layer and hands them to the dispatcher as if they arrived from
// the local peer.
func (r *Router) pumpEgress() {
	defer r.wg.Done()
	for {
		select {
		case <-r.context.Done():
			return
		case f, ok := <-r.egress:
			if !ok {
				return
			}
			r.state.dispatch(r.local, f)
		}
	}
}

// blockOn runs fn synchronously inside actor a's critical section,
// blocking the caller until it completes. Used by read-only accessors
// that live outside any actor.
func (r *Router) blockOn(a phony.Actor, fn func()) {
	phony.Block(a, fn)
}

// spawnAfter runs fn on its own goroutine after delay d, unless the
// router is closed first. This is how every deferred/timer-driven action
// in §5 (maintenance ticks, reparent coalescing, setup expiry) avoids
// blocking the state actor on a sleep.
func (r *Router) spawnAfter(d time.Duration, fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if d > 0 {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-r.context.Done():
				return
			case <-t.C:
			}
		} else {
			select {
			case <-r.context.Done():
				return
			default:
			}
		}
		fn()
	}()
}

// Connect implements the Peer I/O Registry's handshake (§4.2): it
// allocates a port, sends a signed first announcement, and waits for the
// peer's own first announcement to learn their identity.
func (r *Router) Connect(sink Sink, source Source) (types.Port, error) {
	var port types.Port
	var firstAnn *types.TreeAnnouncement
	phony.Block(r.state, func() {
		port = r.state.ports.allocate()
		firstAnn = r.state._currentAnnouncement()
	})

	releasePort := func() {
		phony.Block(r.state, func() { r.state.ports.remove(port) })
	}

	signed := firstAnn.Sign(r.private, port)
	if err := sink.Send(&types.Frame{Type: types.TypeTreeAnnouncement, Announcement: &signed}); err != nil {
		releasePort()
		return 0, fmt.Errorf("send first announcement: %w", err)
	}

	first, err := source.Recv()
	if err != nil {
		releasePort()
		return 0, ErrConnectionClosed
	}
	if first.Type != types.TypeTreeAnnouncement || first.Announcement == nil {
		releasePort()
		return 0, ErrInvalidFrame
	}
	identity, ok := first.Announcement.LastSigner()
	if !ok {
		releasePort()
		return 0, ErrMissingSignature
	}

	ctx, cancel := context.WithCancel(r.context)
	p := &peer{
		router: r,
		port:   port,
		public: identity,
		sink:   sink,
		source: source,
		proto:  newFIFOQueue(),
		cancel: cancel,
	}
	p.started.Store(true)

	phony.Block(r.state, func() {
		r.state.ports.assign(port, p)
	})

	r.log.Println("connected to peer", p.public.String(), "on port", port)

	r.wg.Add(2)
	go func() { defer r.wg.Done(); p.pump(ctx) }()
	go func() { defer r.wg.Done(); p.receive(ctx) }()

	r.state.dispatch(p, first)
	return port, nil
}

// disconnect implements §4.2's teardown fan-out and is invoked whenever a
// peer's sink or source errors.
func (r *Router) disconnect(p *peer) {
	if p == nil || !p.started.CAS(true, false) {
		return
	}
	p.cancel()
	_ = p.sink.Close()
	p.proto.close()
	phony.Block(r.state, func() {
		r.state._disconnect(p)
	})
	r.log.Println("disconnected peer", p.public.String())
}
