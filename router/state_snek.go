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
	"time"

	"github.com/pinecone-mesh/corerouter/types"
	"github.com/pinecone-mesh/corerouter/util"
)

// _pruneStaleSetups tears down every installed path that was never
// activated within the setup activation deadline (§4.4).
func (s *state) _pruneStaleSetups() {
	for idx, entry := range s.table {
		if entry.Stale() {
			s._sendTeardownForExistingPath(idx)
		}
	}
}

// _maintainSnake is the periodic SNEK maintenance tick (§5,
// MAINTAIN_SNEK_INTERVAL). It expires stale paths and re-bootstraps when
// our ascending neighbour is missing, expired, or was elected under a
// root we no longer agree with.
func (s *state) _maintainSnake() {
	if !s.running {
		return
	}
	s._pruneStaleSetups()

	if s.descending != nil && time.Since(s.descending.LastSeen) >= types.SnekExpiryPeriod {
		s._sendTeardownForExistingPath(s.descendingIndex)
	}

	if s.parent != nil && !s.parent.local() {
		root := s._currentRoot()
		needBootstrap := s.ascending == nil
		if s.ascending != nil {
			switch {
			case time.Since(s.ascending.LastSeen) >= types.SnekExpiryPeriod:
				s._sendTeardownForExistingPath(s.ascendingIndex)
				needBootstrap = true
			case !s.ascending.Root.EqualTo(root):
				needBootstrap = true
			}
		}
		if needBootstrap {
			s._bootstrapNow()
		}
	}

	s._maintainSnekIn(maintainSnekInterval)
}

func (s *state) _maintainSnekIn(d time.Duration) {
	s.r.spawnAfter(d, func() {
		s.Act(nil, s._maintainSnake)
	})
}

// _nextSnekHop selects the peer that most closely approaches
// destinationKey in keyspace, biased upward toward higher keys (§4.4,
// "next_snek_hop"). traffic forces forward progress (no implicit
// self-delivery fallback); bootstrap changes two of the candidate tests
// and how DHT-table entries are filtered. A nil result means "no route";
// a result of the local sentinel peer means "handle here".
func (s *state) _nextSnekHop(from *peer, destinationKey types.PublicKey, bootstrap, traffic bool) *peer {
	if !bootstrap && destinationKey == s.r.public {
		return s.r.local
	}

	bestKey := s.r.public
	bestPeer := s.r.local
	if traffic {
		bestPeer = nil
	}

	root := s._currentRoot()

	if s.parent != nil && !s.parent.local() && s.parent != from {
		switch {
		case bootstrap && bestKey == destinationKey:
			bestKey, bestPeer = root.PublicKey, s.parent
		case util.DHTOrdered(bestKey, destinationKey, root.PublicKey):
			bestKey, bestPeer = root.PublicKey, s.parent
		}

		for _, sig := range s._currentAnnouncement().Signatures {
			ancestor := sig.SigningPublicKey
			switch {
			case !bootstrap && ancestor == destinationKey && bestKey != destinationKey:
				bestKey, bestPeer = ancestor, s.parent
			case util.DHTOrdered(destinationKey, ancestor, bestKey):
				bestKey, bestPeer = ancestor, s.parent
			}
		}
	}

	for p, ann := range s.announcements {
		if p == from || p == s.parent || ann == nil || !p.started.Load() {
			continue
		}
		for _, sig := range ann.Signatures {
			ancestor := sig.SigningPublicKey
			switch {
			case !bootstrap && ancestor == destinationKey && bestKey != destinationKey:
				bestKey, bestPeer = ancestor, p
			case util.DHTOrdered(destinationKey, ancestor, bestKey):
				bestKey, bestPeer = ancestor, p
			}
		}
	}

	for p := range s.announcements {
		if p == from || !p.started.Load() {
			continue
		}
		if p.public == bestKey {
			bestPeer = p
		}
	}

	for idx, entry := range s.table {
		if entry.SourcePort == 0 {
			continue // not reachable back toward an origin through us
		}
		if !entry.Valid(root) {
			continue
		}
		if !bootstrap && !entry.Active {
			continue
		}
		p, ok := s.peerOn(entry.SourcePort)
		if !ok || p == from {
			continue
		}
		switch {
		case !bootstrap && idx.PublicKey == destinationKey && bestKey != destinationKey:
			bestKey, bestPeer = idx.PublicKey, p
		case util.DHTOrdered(destinationKey, idx.PublicKey, bestKey):
			bestKey, bestPeer = idx.PublicKey, p
		}
	}

	return bestPeer
}

// _bootstrapNow sends a fresh bootstrap search for our own ascending
// neighbour (§4.4, "Bootstrap").
func (s *state) _bootstrapNow() {
	next := s._nextSnekHop(nil, s.r.public, true, false)
	if next == nil || next.local() {
		return // no next hop found; the next tick will try again
	}
	id, err := types.NewPathID()
	if err != nil {
		return
	}
	next.proto.push(&types.Frame{
		Type:           types.TypeSnekBootstrap,
		Root:           s._currentRoot(),
		DestinationKey: s.r.public,
		SourceCoords:   s._coords(),
		PathID:         id,
	})
}

// _handleBootstrap answers a bootstrap search that has reached its
// closest known candidate: this node. Runs only once dispatch has
// already determined next_snek_hop resolves to self.
func (s *state) _handleBootstrap(from *peer, f *types.Frame) error {
	if !f.Root.EqualTo(s._currentRoot()) {
		return nil
	}
	next := s._nextTreeHop(nil, f.SourceCoords)
	if next == nil || next.local() {
		return nil
	}
	next.proto.push(&types.Frame{
		Type:              types.TypeSnekBootstrapAck,
		DestinationCoords: f.SourceCoords,
		DestinationKey:    f.DestinationKey,
		SourceCoords:      s._coords(),
		SourceKey:         s.r.public,
		Root:              s._currentRoot(),
		PathID:            f.PathID,
	})
	return nil
}

// _handleBootstrapAck runs at the bootstrap's originator: it decides
// whether the responder is a better ascending candidate than whatever we
// already have, and if so starts a Setup toward it (§4.4,
// "handle_bootstrap_ack").
func (s *state) _handleBootstrapAck(from *peer, f *types.Frame) error {
	if f.SourceKey == s.r.public {
		return nil // loop
	}
	if !f.Root.EqualTo(s._currentRoot()) {
		return nil
	}

	root := s._currentRoot()
	ascendingValid := s.ascending != nil && s.ascending.Valid(root)

	accept := false
	switch {
	case ascendingValid && f.SourceKey == s.ascending.Target && f.PathID != s.ascendingIndex.PathID:
		accept = true // refresh
	case ascendingValid && util.DHTOrdered(s.r.public, f.SourceKey, s.ascending.Target):
		accept = true // strictly closer
	case s.ascending != nil && !ascendingValid && types.LessThan(s.r.public, f.SourceKey):
		accept = true // expired; any real successor beats none
	case s.ascending == nil && types.LessThan(s.r.public, f.SourceKey):
		accept = true
	}
	if !accept {
		return nil
	}

	next := s._nextTreeHop(nil, f.SourceCoords)
	if next == nil || next.local() {
		return nil
	}
	outPort, ok := s.portOf(next)
	if !ok {
		return nil
	}

	for idx, entry := range s.table {
		if entry.SourcePort == 0 {
			s._sendTeardownForExistingPath(idx)
		}
	}

	idx := types.SnekPathIndex{PublicKey: s.r.public, PathID: f.PathID}
	entry := &types.SnekPathEntry{
		Origin:          s.r.public,
		Target:          f.SourceKey,
		SourcePort:      0,
		DestinationPort: outPort,
		LastSeen:        time.Now(),
		Root:            f.Root,
	}
	s.table[idx] = entry
	s.candidate = entry
	s.candidateIndex = idx

	next.proto.push(&types.Frame{
		Type:              types.TypeSnekSetup,
		Root:              f.Root,
		DestinationCoords: f.SourceCoords,
		DestinationKey:    f.SourceKey,
		SourceKey:         s.r.public,
		PathID:            f.PathID,
	})
	return nil
}

// _handleSetup installs a table entry for a path under construction, at
// either an intermediate hop or the terminal (destination) node, or
// rejects it with a teardown (§4.4, "handle_setup").
func (s *state) _handleSetup(from *peer, f *types.Frame) error {
	idx := types.SnekPathIndex{PublicKey: f.SourceKey, PathID: f.PathID}

	if !f.Root.EqualTo(s._currentRoot()) {
		s._sendTeardownForRejectedPath(idx, from)
		return nil
	}
	if _, exists := s.table[idx]; exists {
		s._sendTeardownForExistingPath(idx)
		s._sendTeardownForRejectedPath(idx, from)
		return nil
	}

	inboundPort, ok := s.portOf(from)
	if !ok {
		return ErrInvalidFrame
	}

	if f.DestinationKey == s.r.public {
		if !types.LessThan(f.SourceKey, s.r.public) {
			s._sendTeardownForRejectedPath(idx, from)
			return nil
		}

		root := s._currentRoot()
		descendingValid := s.descending != nil && s.descending.Valid(root)
		accept := false
		switch {
		case descendingValid && f.SourceKey == s.descending.Origin && f.PathID != s.descendingIndex.PathID:
			accept = true // refresh
		case descendingValid && util.DHTOrdered(s.descending.Origin, f.SourceKey, s.r.public):
			accept = true // strictly closer
		case s.descending != nil && !descendingValid:
			accept = true // expired
		case s.descending == nil:
			accept = true
		}
		if !accept {
			s._sendTeardownForRejectedPath(idx, from)
			return nil
		}

		if s.descending != nil {
			s._sendTeardownForExistingPath(s.descendingIndex)
		}

		entry := &types.SnekPathEntry{
			Origin:     f.SourceKey,
			Target:     s.r.public,
			SourcePort: inboundPort,
			LastSeen:   time.Now(),
			Root:       f.Root,
			Active:     true,
		}
		s.table[idx] = entry
		s.descending = entry
		s.descendingIndex = idx

		from.proto.push(&types.Frame{
			Type:           types.TypeSnekSetupAck,
			Root:           f.Root,
			DestinationKey: f.SourceKey,
			PathID:         f.PathID,
		})
		return nil
	}

	next := s._nextTreeHop(from, f.DestinationCoords)
	if next == nil || next.local() {
		s._sendTeardownForRejectedPath(idx, from)
		return nil
	}
	outboundPort, ok := s.portOf(next)
	if !ok {
		s._sendTeardownForRejectedPath(idx, from)
		return nil
	}

	s.table[idx] = &types.SnekPathEntry{
		Origin:          f.SourceKey,
		Target:          f.DestinationKey,
		SourcePort:      inboundPort,
		DestinationPort: outboundPort,
		LastSeen:        time.Now(),
		Root:            f.Root,
	}
	next.proto.push(f)
	return nil
}

// _handleSetupAck activates a path entry one hop closer to its origin
// and, once the activation reaches the originator, promotes a matching
// candidate to be the new ascending neighbour (§4.4, "handle_setup_ack").
func (s *state) _handleSetupAck(from *peer, f *types.Frame) error {
	idx := types.SnekPathIndex{PublicKey: f.DestinationKey, PathID: f.PathID}
	entry, ok := s.table[idx]
	if !ok || entry.Active {
		return nil
	}
	if fromPort, _ := s.portOf(from); fromPort != entry.DestinationPort {
		return nil
	}

	entry.Active = true
	entry.LastSeen = time.Now()

	if entry.SourcePort != 0 {
		if p, ok := s.peerOn(entry.SourcePort); ok {
			p.proto.push(f)
		}
		return nil
	}

	if s.candidateIndex == idx && s.candidate == entry {
		if s.ascending != nil && s.ascendingIndex != idx {
			s._sendTeardownForExistingPath(s.ascendingIndex)
		}
		s.ascending = entry
		s.ascendingIndex = idx
		s.candidate = nil
	}
	return nil
}

// _teardownFrame builds the wire frame for tearing down the path named
// by idx. The frame carries only the index, not a direction: every
// recipient recomputes the same index from it.
func (s *state) _teardownFrame(idx types.SnekPathIndex) *types.Frame {
	return &types.Frame{
		Type:           types.TypeSnekTeardown,
		Root:           s._currentRoot(),
		DestinationKey: idx.PublicKey,
		PathID:         idx.PathID,
	}
}

// _teardownPath removes a path entry from the table and clears whichever
// of ascending/descending/candidate it happened to be, without notifying
// any peer.
func (s *state) _teardownPath(idx types.SnekPathIndex) {
	if _, ok := s.table[idx]; !ok {
		return
	}
	delete(s.table, idx)
	if s.ascendingIndex == idx {
		s.ascending = nil
	}
	if s.descendingIndex == idx {
		s.descending = nil
	}
	if s.candidateIndex == idx {
		s.candidate = nil
	}
}

// _sendTeardownForExistingPath evicts a path we currently hold, notifying
// whichever neighbours it was installed toward.
func (s *state) _sendTeardownForExistingPath(idx types.SnekPathIndex) {
	entry, ok := s.table[idx]
	if !ok {
		return
	}
	frame := s._teardownFrame(idx)
	if entry.SourcePort != 0 {
		if p, ok := s.peerOn(entry.SourcePort); ok {
			p.proto.push(frame)
		}
	}
	if entry.DestinationPort != 0 {
		if p, ok := s.peerOn(entry.DestinationPort); ok {
			p.proto.push(frame)
		}
	}
	s._teardownPath(idx)
}

// _sendTeardownForRejectedPath notifies a neighbour that a Setup it sent
// us was rejected, without ever having installed a table entry for it.
func (s *state) _sendTeardownForRejectedPath(idx types.SnekPathIndex, toward *peer) {
	if toward == nil || toward.local() {
		return
	}
	toward.proto.push(s._teardownFrame(idx))
}

// _handleTeardown removes the named path entry, if we still have it, and
// propagates the teardown to whichever side(s) the caller's position
// implies (§4.4, "handle_teardown / teardown_path").
func (s *state) _handleTeardown(from *peer, f *types.Frame) error {
	idx := types.SnekPathIndex{PublicKey: f.DestinationKey, PathID: f.PathID}
	fromPort, _ := s.portOf(from)

	var outPorts []types.Port
	switch {
	case s.ascending != nil && s.ascendingIndex == idx && (fromPort == 0 || fromPort == s.ascending.DestinationPort):
		outPorts = []types.Port{s.ascending.DestinationPort}
		s._teardownPath(idx)

	case s.descending != nil && s.descendingIndex == idx && (fromPort == 0 || fromPort == s.descending.DestinationPort):
		outPorts = []types.Port{s.descending.DestinationPort}
		s._teardownPath(idx)

	default:
		entry, ok := s.table[idx]
		if !ok {
			return nil
		}
		switch {
		case fromPort == 0:
			outPorts = []types.Port{entry.DestinationPort, entry.SourcePort}
		case fromPort == entry.SourcePort:
			outPorts = []types.Port{entry.DestinationPort}
		case fromPort == entry.DestinationPort:
			outPorts = []types.Port{entry.SourcePort}
		default:
			return nil
		}
		s._teardownPath(idx)
	}

	frame := &types.Frame{Type: types.TypeSnekTeardown, Root: f.Root, DestinationKey: idx.PublicKey, PathID: idx.PathID}
	for _, port := range outPorts {
		if port == 0 {
			continue
		}
		if p, ok := s.peerOn(port); ok {
			p.proto.push(frame)
		}
	}
	return nil
}
