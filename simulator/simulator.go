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

// Package simulator builds small in-memory meshes of routers wired
// together over channel pipes instead of real sockets, and computes
// Dijkstra shortest-path distances over the same topology as a reference.
// The package does not itself compare those distances with the routers'
// coordinates or SNEK paths.
package simulator

import (
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"

	"github.com/RyanCarrier/dijkstra"
	"github.com/pinecone-mesh/corerouter/router"
	"github.com/pinecone-mesh/corerouter/types"
)

// pipe is an in-memory duplex channel pair implementing router.Sink and
// router.Source without touching the network, letting a simulated mesh
// run many nodes inside one process.
type pipe struct {
	out    chan *types.Frame
	in     chan *types.Frame
	mu     sync.Mutex
	closed bool
}

func newPipes() (a, b *pipe) {
	ab := make(chan *types.Frame, 64)
	ba := make(chan *types.Frame, 64)
	a = &pipe{out: ab, in: ba}
	b = &pipe{out: ba, in: ab}
	return a, b
}

func (p *pipe) Send(f *types.Frame) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("simulator: pipe closed")
	}
	select {
	case p.out <- f:
		return nil
	default:
		return fmt.Errorf("simulator: pipe congested")
	}
}

func (p *pipe) Recv() (*types.Frame, error) {
	f, ok := <-p.in
	if !ok {
		return nil, fmt.Errorf("simulator: pipe closed")
	}
	return f, nil
}

func (p *pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
	return nil
}

// Node is one simulated router together with the identity it was
// constructed with, addressable by name for topology reporting.
type Node struct {
	Name   string
	Router *router.Router
}

// Network is a fixed set of simulated nodes and the links wired between
// them at construction time.
type Network struct {
	nodes map[string]*Node
	links []link
	order []string
}

type link struct {
	a, b   string
	weight int64
}

// NewNetwork constructs count nodes named n0..n(count-1), each with a
// freshly generated identity and no links.
func NewNetwork(count int) *Network {
	n := &Network{nodes: make(map[string]*Node, count)}
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("n%d", i)
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			panic(err)
		}
		var key types.PrivateKey
		copy(key[:], priv)
		logger := log.New(log.Writer(), "["+name+"] ", 0)
		n.nodes[name] = &Node{Name: name, Router: router.NewRouter(logger, key)}
		n.order = append(n.order, name)
	}
	return n
}

// Node returns the named simulated node.
func (n *Network) Node(name string) *Node { return n.nodes[name] }

// Nodes returns every simulated node in construction order.
func (n *Network) Nodes() []*Node {
	out := make([]*Node, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.nodes[name])
	}
	return out
}

// Link connects two nodes with an in-memory pipe pair, as if a transport
// had just dialed between them, and records the link for the Dijkstra
// oracle with the given weight (hop cost).
func (n *Network) Link(a, b string, weight int64) error {
	na, ok := n.nodes[a]
	if !ok {
		return fmt.Errorf("simulator: unknown node %q", a)
	}
	nb, ok := n.nodes[b]
	if !ok {
		return fmt.Errorf("simulator: unknown node %q", b)
	}
	pa, pb := newPipes()

	// Each side's Connect blocks until it reads the other side's first
	// announcement, so both handshakes must run concurrently.
	type result struct {
		err error
	}
	resA := make(chan result, 1)
	resB := make(chan result, 1)
	go func() { _, err := na.Router.Connect(pa, pa); resA <- result{err} }()
	go func() { _, err := nb.Router.Connect(pb, pb); resB <- result{err} }()

	if r := <-resA; r.err != nil {
		return fmt.Errorf("connect %s->%s: %w", a, b, r.err)
	}
	if r := <-resB; r.err != nil {
		return fmt.Errorf("connect %s->%s: %w", b, a, r.err)
	}
	n.links = append(n.links, link{a: a, b: b, weight: weight})
	return nil
}

// Close shuts down every simulated router.
func (n *Network) Close() {
	for _, node := range n.nodes {
		_ = node.Router.Close()
	}
}

// ShortestHops returns the Dijkstra-computed minimum hop count between
// two nodes under the network's recorded link weights, used as ground
// truth against which the tree plane's coordinate distance and the SNEK
// plane's path length can be checked for reasonableness.
func (n *Network) ShortestHops(from, to string) (int64, error) {
	graph := dijkstra.NewGraph()
	index := make(map[string]int, len(n.order))
	for i, name := range n.order {
		index[name] = i
		graph.AddVertex(i)
	}
	for _, l := range n.links {
		if err := graph.AddArc(index[l.a], index[l.b], l.weight); err != nil {
			return 0, fmt.Errorf("simulator: add arc %s->%s: %w", l.a, l.b, err)
		}
		if err := graph.AddArc(index[l.b], index[l.a], l.weight); err != nil {
			return 0, fmt.Errorf("simulator: add arc %s->%s: %w", l.b, l.a, err)
		}
	}
	src, ok := index[from]
	if !ok {
		return 0, fmt.Errorf("simulator: unknown node %q", from)
	}
	dst, ok := index[to]
	if !ok {
		return 0, fmt.Errorf("simulator: unknown node %q", to)
	}
	best, err := graph.Shortest(src, dst)
	if err != nil {
		return 0, fmt.Errorf("simulator: no path %s->%s: %w", from, to, err)
	}
	return best.Distance, nil
}
