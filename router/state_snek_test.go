package router

import (
	"testing"
	"time"

	"github.com/pinecone-mesh/corerouter/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snekTestKey(b byte) types.PublicKey {
	var k types.PublicKey
	k[0] = b
	return k
}

// newTestState builds a state with no actor loops running, suitable for
// calling its unexported hop-selection methods directly and synchronously
// from a test goroutine.
func newTestState(self types.PublicKey) (*state, *Router) {
	r := &Router{public: self, ingress: make(chan *types.Frame, localQueueDepth)}
	r.local = &peer{router: r, port: 0, public: self}
	s := newState(r)
	s.running = true
	r.state = s
	return s, r
}

func snekTestPathID(b byte) types.PathID {
	var id types.PathID
	id[0] = b
	return id
}

func connectedPeer(r *Router, port types.Port, public types.PublicKey) *peer {
	p := &peer{router: r, port: port, public: public, proto: newFIFOQueue()}
	p.started.Store(true)
	return p
}

func TestNextSnekHopLoopback(t *testing.T) {
	self := snekTestKey(5)
	s, r := newTestState(self)

	next := s._nextSnekHop(nil, self, false, false)
	assert.Same(t, r.local, next)
}

func TestNextSnekHopBootstrapWithNoCandidatesStaysLocal(t *testing.T) {
	self := snekTestKey(5)
	s, r := newTestState(self)

	// With no parent, peers, or table entries, there is nowhere to
	// bootstrap toward: the search falls back to its initial best
	// candidate, the local sentinel peer.
	next := s._nextSnekHop(nil, self, true, false)
	assert.Same(t, r.local, next)
}

func TestNextSnekHopViaParentTowardRoot(t *testing.T) {
	self := snekTestKey(5)
	root := snekTestKey(9)
	dest := snekTestKey(7) // self < dest < root

	s, _ := newTestState(self)
	parent := connectedPeer(s.r, 1, snekTestKey(6))
	s.parent = parent
	s.ports.assign(1, parent)
	s.announcements[parent] = &types.TreeAnnouncement{
		Root: types.Root{PublicKey: root, SequenceNumber: 1},
	}

	next := s._nextSnekHop(nil, dest, false, true)
	require.NotNil(t, next)
	assert.Same(t, parent, next)
}

func TestNextSnekHopViaPeerAncestor(t *testing.T) {
	self := snekTestKey(20)
	dest := snekTestKey(5)
	ancestor := snekTestKey(10) // dest < ancestor < self(bestKey)

	s, _ := newTestState(self)
	other := connectedPeer(s.r, 2, snekTestKey(99))
	s.ports.assign(2, other)
	s.announcements[other] = &types.TreeAnnouncement{
		Root: types.Root{PublicKey: snekTestKey(30), SequenceNumber: 1},
		Signatures: []types.HopSignature{
			{SigningPublicKey: ancestor, DestinationPort: 2},
		},
	}

	next := s._nextSnekHop(nil, dest, false, true)
	require.NotNil(t, next)
	assert.Same(t, other, next)
}

func TestNextSnekHopPrefersDirectPeer(t *testing.T) {
	self := snekTestKey(1)
	dest := snekTestKey(10)

	s, _ := newTestState(self)
	// An indirect route learns of dest exactly as an ancestor key, which
	// moves bestKey to dest; a directly connected peer with that same
	// identity should then win over the indirect route.
	indirect := connectedPeer(s.r, 2, snekTestKey(50))
	s.ports.assign(2, indirect)
	s.announcements[indirect] = &types.TreeAnnouncement{
		Root: types.Root{PublicKey: snekTestKey(30), SequenceNumber: 1},
		Signatures: []types.HopSignature{
			{SigningPublicKey: dest, DestinationPort: 2},
		},
	}

	direct := connectedPeer(s.r, 3, dest)
	s.ports.assign(3, direct)
	s.announcements[direct] = &types.TreeAnnouncement{
		Root: types.Root{PublicKey: snekTestKey(30), SequenceNumber: 1},
	}

	next := s._nextSnekHop(nil, dest, false, true)
	require.NotNil(t, next)
	assert.Same(t, direct, next)
}

func TestNextSnekHopViaDHTTableEntry(t *testing.T) {
	self := snekTestKey(20)
	dest := snekTestKey(5)
	tableKey := snekTestKey(10) // dest < tableKey < self(bestKey)

	s, _ := newTestState(self)
	via := connectedPeer(s.r, 4, snekTestKey(40))
	s.ports.assign(4, via)

	idx := types.SnekPathIndex{PublicKey: tableKey, PathID: snekTestPathID(1)}
	s.table[idx] = &types.SnekPathEntry{
		Origin:     tableKey,
		Target:     self,
		SourcePort: 4,
		Active:     true,
		Root:       s._currentRoot(),
		LastSeen:   time.Now(),
	}

	next := s._nextSnekHop(nil, dest, false, true)
	require.NotNil(t, next)
	assert.Same(t, via, next)
}

func TestNextSnekHopIgnoresInactiveTableEntryUnlessBootstrapping(t *testing.T) {
	self := snekTestKey(20)
	dest := snekTestKey(5)
	tableKey := snekTestKey(10)

	s, _ := newTestState(self)
	via := connectedPeer(s.r, 4, snekTestKey(40))
	s.ports.assign(4, via)

	idx := types.SnekPathIndex{PublicKey: tableKey, PathID: snekTestPathID(2)}
	s.table[idx] = &types.SnekPathEntry{
		Origin:     tableKey,
		Target:     self,
		SourcePort: 4,
		Active:     false,
		Root:       s._currentRoot(),
		LastSeen:   time.Now(),
	}

	next := s._nextSnekHop(nil, dest, false, true)
	assert.Nil(t, next)

	bootstrapNext := s._nextSnekHop(nil, dest, true, false)
	require.NotNil(t, bootstrapNext)
	assert.Same(t, via, bootstrapNext)
}

func TestNextSnekHopNeverReturnsTheFromPeer(t *testing.T) {
	self := snekTestKey(20)
	dest := snekTestKey(5)
	tableKey := snekTestKey(10)

	s, _ := newTestState(self)
	via := connectedPeer(s.r, 4, snekTestKey(40))
	s.ports.assign(4, via)

	idx := types.SnekPathIndex{PublicKey: tableKey, PathID: snekTestPathID(3)}
	s.table[idx] = &types.SnekPathEntry{
		Origin:     tableKey,
		Target:     self,
		SourcePort: 4,
		Active:     true,
		Root:       s._currentRoot(),
		LastSeen:   time.Now(),
	}

	next := s._nextSnekHop(via, dest, false, true)
	assert.Nil(t, next)
}
