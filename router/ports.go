package router

import "github.com/pinecone-mesh/corerouter/types"

// portTable assigns a small positive integer port to each active peer.
// Port 0 is reserved for the local router and is never stored here —
// lookups for port 0 are handled by the caller returning the local peer
// directly (§4.1). All methods are only safe to call from the state
// actor that owns the table.
type portTable struct {
	byPort map[types.Port]*peer
	byPeer map[*peer]types.Port
}

func newPortTable() *portTable {
	return &portTable{
		byPort: make(map[types.Port]*peer),
		byPeer: make(map[*peer]types.Port),
	}
}

// allocate reserves and returns the smallest port number >= 1 not
// currently taken. The reservation is visible to the next allocate call
// immediately, before assign ever runs, so two Connects racing on the
// same actor call never receive the same port.
func (t *portTable) allocate() types.Port {
	for p := types.Port(1); ; p++ {
		if _, taken := t.byPort[p]; !taken {
			t.byPort[p] = nil
			return p
		}
	}
}

func (t *portTable) assign(port types.Port, p *peer) {
	t.byPort[port] = p
	t.byPeer[p] = port
}

func (t *portTable) portOf(p *peer) (types.Port, bool) {
	if p == nil || p.local() {
		return 0, p != nil && p.local()
	}
	port, ok := t.byPeer[p]
	return port, ok
}

func (t *portTable) peerOn(port types.Port) (*peer, bool) {
	p, ok := t.byPort[port]
	if p == nil {
		return nil, false
	}
	return p, ok
}

func (t *portTable) remove(port types.Port) {
	if p, ok := t.byPort[port]; ok {
		delete(t.byPeer, p)
	}
	delete(t.byPort, port)
}
