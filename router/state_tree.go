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

package router

import (
	"math"
	"time"

	"github.com/pinecone-mesh/corerouter/types"
)

// _currentAnnouncement returns the announcement this node is currently
// using for its own root and coordinates: the stored announcement from
// our parent, or a synthesized zero-hop announcement rooted at ourselves
// if we are the root.
func (s *state) _currentAnnouncement() *types.TreeAnnouncement {
	if s.parent != nil && !s.parent.local() {
		if ann, ok := s.announcements[s.parent]; ok {
			return ann
		}
	}
	return &types.TreeAnnouncement{
		Root: types.Root{
			PublicKey:      s.r.public,
			SequenceNumber: s.sequence,
		},
	}
}

func (s *state) _currentRoot() types.Root {
	return s._currentAnnouncement().Root
}

func (s *state) _coords() types.Coordinates {
	return s._currentAnnouncement().Coords()
}

func (s *state) coords() types.Coordinates {
	var c types.Coordinates
	s.r.blockOn(s, func() { c = s._coords() })
	return c
}

// _isRoot reports whether this node is currently the root of its own
// tree view (parent == self).
func (s *state) _isRoot() bool {
	return s.parent == nil || s.parent.local()
}

// _becomeRoot sets parent to self. Idempotent.
func (s *state) _becomeRoot() {
	if s._isRoot() {
		return
	}
	s.parent = s.r.local
}

// _setParent installs p as our tree parent.
func (s *state) _setParent(p *peer) {
	s.parent = p
}

// _reparentTimerExpired reports whether the coalescing window from the
// last scheduled reparent has elapsed (or none was ever scheduled).
func (s *state) _reparentTimerExpired() bool {
	return s.reparentDeadline.IsZero() || !time.Now().Before(s.reparentDeadline)
}

// _armReparentTimer marks that a reparent has been scheduled
// reparentWaitTime from now, suspending further tree action until then.
func (s *state) _armReparentTimer() {
	s.reparentDeadline = time.Now().Add(reparentWaitTime)
}

// _signedForPeer returns a copy of ann with one more hop appended, signed
// for delivery to p, or nil if ann already carries our own signature
// (appending another would repeat a signer, which the peer drops as a
// loop).
func (s *state) _signedForPeer(ann *types.TreeAnnouncement, p *peer) *types.TreeAnnouncement {
	if p == nil || p.local() {
		return nil
	}
	for _, sig := range ann.Signatures {
		if sig.SigningPublicKey == s.r.public {
			return nil
		}
	}
	port, ok := s.portOf(p)
	if !ok {
		return nil
	}
	signed := ann.Sign(s.r.private, port)
	return &signed
}

func (s *state) _sendTreeAnnouncementToPeer(ann *types.TreeAnnouncement, p *peer) {
	signed := s._signedForPeer(ann, p)
	if signed == nil {
		return
	}
	p.proto.push(&types.Frame{Type: types.TypeTreeAnnouncement, Announcement: signed})
}

// _floodTreeAnnouncement sends ann, freshly signed for each peer, to
// every connected peer (§4.3, "Flooding").
func (s *state) _floodTreeAnnouncement(ann *types.TreeAnnouncement) {
	for p := range s.announcements {
		if p.started.Load() {
			s._sendTreeAnnouncementToPeer(ann, p)
		}
	}
}

// _sendFirstAnnouncement sends our current announcement to a single
// newly-connected peer. Connect does not call it: it signs and sends its
// own first announcement (§4.2).
func (s *state) _sendFirstAnnouncement(p *peer) {
	s._sendTreeAnnouncementToPeer(s._currentAnnouncement(), p)
}

// _nextTreeHop locates the best next-hop peer for a frame addressed to
// destCoords, excluding from (the peer the frame arrived on, to avoid
// bouncing it straight back). Returns nil if no peer takes the frame
// strictly closer than we already are.
func (s *state) _nextTreeHop(from *peer, destCoords types.Coordinates) *peer {
	ourCoords := s._coords()
	if destCoords.EqualTo(ourCoords) {
		return s.r.local
	}
	ourDist := ourCoords.DistanceTo(destCoords)
	if ourDist == 0 {
		return s.r.local
	}
	currentRoot := s._currentRoot()
	bestDist := ourDist
	var bestPeer *peer
	bestOrder := uint64(math.MaxUint64)
	for p, ann := range s.announcements {
		if p == from || !p.started.Load() {
			continue
		}
		if !ann.Root.EqualTo(currentRoot) {
			continue
		}
		peerCoords := ann.Coords()
		peerDist := peerCoords.DistanceTo(destCoords)
		switch {
		case peerDist < bestDist:
			bestDist, bestPeer, bestOrder = peerDist, p, ann.ReceiveOrder
		case peerDist == bestDist && bestPeer != nil && ann.ReceiveOrder < bestOrder:
			bestDist, bestPeer, bestOrder = peerDist, p, ann.ReceiveOrder
		}
	}
	return bestPeer
}

// _handleTreeAnnouncement implements the election rules of §4.3.
func (s *state) _handleTreeAnnouncement(from *peer, ann *types.TreeAnnouncement) error {
	if !ann.IsCleanFrom(from.public) {
		return ErrInvalidFrame
	}
	if ann.HasRepeatOrLoop(s.r.public) {
		return ErrInvalidFrame
	}
	if !ann.VerifyChain() {
		return ErrInvalidFrame
	}

	if existing, ok := s.announcements[from]; ok {
		if existing.Root.PublicKey == ann.Root.PublicKey && ann.Root.SequenceNumber <= existing.Root.SequenceNumber {
			return nil // replay, drop
		}
	}

	// Compare against the root we held before this announcement: once it
	// is stored, an announcement from our parent becomes the current one.
	currentRoot := s._currentRoot()

	s.ordering++
	ann.ReceiveTime = time.Now()
	ann.ReceiveOrder = s.ordering
	s.announcements[from] = ann

	if !s._reparentTimerExpired() {
		return nil // suspend action until the coalescing window elapses
	}

	isLoop := ann.IsLoopOrChildOf(s.r.public)

	if from == s.parent {
		switch {
		case isLoop:
			s._becomeRoot()
			s._reparent(true)
		case ann.Root.PublicKey.CompareTo(currentRoot.PublicKey) < 0:
			s._becomeRoot()
			s._reparent(true)
		case ann.Root.PublicKey == currentRoot.PublicKey && ann.Root.SequenceNumber <= currentRoot.SequenceNumber:
			s._becomeRoot()
			s._reparent(true)
		default:
			// Stronger root, or same root with a higher sequence: accept
			// and flood our (now updated) current announcement.
			s._floodTreeAnnouncement(s._currentAnnouncement())
		}
		return nil
	}

	switch {
	case isLoop:
		return nil
	case ann.Root.PublicKey.CompareTo(currentRoot.PublicKey) > 0:
		s._setParent(from)
		s._floodTreeAnnouncement(s._currentAnnouncement())
	case ann.Root.PublicKey.CompareTo(currentRoot.PublicKey) < 0:
		s._sendTreeAnnouncementToPeer(s._currentAnnouncement(), from)
	default:
		s._selectNewParent()
	}
	return nil
}

// _selectNewParent implements parent selection (§4.3). Returns true if
// the parent actually changed (so the caller should bootstrap SNEK).
func (s *state) _selectNewParent() bool {
	if s.r.public.CompareTo(s._currentRoot().PublicKey) > 0 {
		s._becomeRoot()
	}

	var bestPeer *peer
	var bestRoot types.Root
	bestOrder := uint64(math.MaxUint64)
	haveBest := false

	for p, ann := range s.announcements {
		if !p.started.Load() || time.Since(ann.ReceiveTime) >= announcementTimeout {
			continue
		}
		if ann.IsLoopOrChildOf(s.r.public) {
			continue
		}
		switch {
		case !haveBest || ann.Root.CompareTo(bestRoot) > 0:
			bestRoot, bestPeer, bestOrder, haveBest = ann.Root, p, ann.ReceiveOrder, true
		case ann.Root.CompareTo(bestRoot) < 0:
			// weaker root, ignore
		case ann.ReceiveOrder < bestOrder:
			bestRoot, bestPeer, bestOrder = ann.Root, p, ann.ReceiveOrder
		}
	}

	if bestPeer == nil {
		s._becomeRoot()
		return false
	}
	if bestPeer == s.parent {
		return false
	}
	s._setParent(bestPeer)
	s._floodTreeAnnouncement(s._currentAnnouncement())
	return true
}

// _reparent runs parent selection, optionally after coalescing churn for
// reparentWaitTime, and bootstraps SNEK if the parent changed. With wait
// it runs on a short-lived task (§5, logical task 5) so callers never
// block the state actor on a timer; without wait it runs inline.
func (s *state) _reparent(wait bool) {
	if wait {
		s._armReparentTimer()
		s.r.spawnAfter(reparentWaitTime, func() {
			s.Act(nil, func() {
				if s._selectNewParent() {
					s._bootstrapNow()
				}
			})
		})
		return
	}
	if s._selectNewParent() {
		s._bootstrapNow()
	}
}

// _maintainTree is the periodic tree maintenance tick (§4.3).
func (s *state) _maintainTree() {
	if !s.running {
		return
	}
	if s._isRoot() {
		s.sequence = s.sequence.Next()
		s._floodTreeAnnouncement(s._currentAnnouncement())
	}
	s._reparent(true)
	s._maintainTreeIn(announcementInterval)
}

func (s *state) _maintainTreeIn(d time.Duration) {
	s.r.spawnAfter(d, func() {
		s.Act(nil, s._maintainTree)
	})
}
