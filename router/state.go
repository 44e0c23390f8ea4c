package router

import (
	"time"

	"github.com/Arceliar/phony"
	"github.com/pinecone-mesh/corerouter/types"
)

// announcementInterval is how often a root re-announces itself (§5,
// ANNOUNCEMENT_INTERVAL).
const announcementInterval = 30 * time.Minute

// announcementTimeout is how long a peer's announcement remains usable
// before the peer is considered dead for tree purposes (§5,
// ANNOUNCEMENT_TIMEOUT).
const announcementTimeout = 45 * time.Minute

// reparentWaitTime coalesces parent-selection churn (§5, REPARENT_WAIT_TIME).
const reparentWaitTime = time.Second

// maintainSnekInterval is how often the SNEK maintenance loop ticks (§5,
// MAINTAIN_SNEK_INTERVAL).
const maintainSnekInterval = time.Second

// state is the single actor that owns every protected region named in §5:
// parent, announcements, ports, paths, and the ascending/descending/
// candidate cells. Running all of it behind one phony.Inbox gives the
// smallest-enclosing-operation and fixed-lock-order guarantees the design
// calls for without a separate mutex per region.
type state struct {
	phony.Inbox
	r *Router

	ports         *portTable
	announcements map[*peer]*types.TreeAnnouncement
	ordering      uint64

	parent   *peer
	sequence types.SequenceNumber

	reparentTimer    *time.Timer
	reparentDeadline time.Time

	table           map[types.SnekPathIndex]*types.SnekPathEntry
	ascending       *types.SnekPathEntry
	ascendingIndex  types.SnekPathIndex
	descending      *types.SnekPathEntry
	descendingIndex types.SnekPathIndex
	candidate       *types.SnekPathEntry
	candidateIndex  types.SnekPathIndex

	running bool
}

func newState(r *Router) *state {
	return &state{
		r:             r,
		ports:         newPortTable(),
		announcements: make(map[*peer]*types.TreeAnnouncement),
		table:         make(map[types.SnekPathIndex]*types.SnekPathEntry),
	}
}

// _start is run once, as the first action on the state actor, to kick off
// the two maintenance loops.
func (s *state) _start() {
	s.running = true
	s._maintainTreeIn(0)
	s._maintainSnekIn(0)
}

func (s *state) _stop() {
	s.running = false
}

// peerOn resolves a port to a peer handle, special-casing port 0 as the
// local router (§4.1).
func (s *state) peerOn(port types.Port) (*peer, bool) {
	if port == 0 {
		return s.r.local, true
	}
	return s.ports.peerOn(port)
}

// portOf resolves a peer handle to its assigned port.
func (s *state) portOf(p *peer) (types.Port, bool) {
	if p == nil {
		return 0, false
	}
	if p.local() {
		return 0, true
	}
	return s.ports.portOf(p)
}
