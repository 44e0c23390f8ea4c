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

import "github.com/pinecone-mesh/corerouter/types"

// dispatch is the single entry point every received frame passes
// through (§4.5, "Frame Dispatcher"): it schedules _dispatch on the
// state actor so every frame, regardless of which peer's receive task
// produced it, is handled under the same protected region and in the
// order it was scheduled.
func (s *state) dispatch(from *peer, f *types.Frame) {
	s.Act(nil, func() {
		s._dispatch(from, f)
	})
}

// _dispatch switches on the frame's type and either answers it directly,
// forwards it one hop closer to its destination, or delivers it to the
// local ingress queue for the session layer to read.
func (s *state) _dispatch(from *peer, f *types.Frame) {
	if !s.running {
		return
	}
	switch f.Type {
	case types.TypeTreeAnnouncement:
		if f.Announcement == nil {
			return
		}
		_ = s._handleTreeAnnouncement(from, f.Announcement)

	case types.TypeTreeRouted:
		s._routeOrDeliver(s._nextTreeHop(from, f.DestinationCoords), f)

	case types.TypeSnekRouted:
		next := s._nextSnekHop(from, f.DestinationKey, false, true)
		s._routeOrDeliver(next, f)

	case types.TypeSnekBootstrap:
		next := s._nextSnekHop(from, f.DestinationKey, true, false)
		switch {
		case next == nil:
		case next.local():
			_ = s._handleBootstrap(from, f)
		default:
			next.proto.push(f)
		}

	case types.TypeSnekBootstrapAck:
		next := s._nextTreeHop(from, f.DestinationCoords)
		switch {
		case next == nil:
		case next.local():
			_ = s._handleBootstrapAck(from, f)
		default:
			next.proto.push(f)
		}

	case types.TypeSnekSetup:
		_ = s._handleSetup(from, f)

	case types.TypeSnekSetupAck:
		_ = s._handleSetupAck(from, f)

	case types.TypeSnekTeardown:
		_ = s._handleTeardown(from, f)

	case types.TypeSnekPing:
		next := s._nextSnekHop(from, f.DestinationKey, false, true)
		switch {
		case next == nil:
		case next.local():
			s._handleSnekPing(from, f)
		default:
			next.proto.push(f)
		}

	case types.TypeSnekPong:
		next := s._nextSnekHop(from, f.DestinationKey, false, true)
		switch {
		case next == nil:
		case next.local():
			s._handleSnekPong(from, f)
		default:
			next.proto.push(f)
		}

	case types.TypeTreePing:
		next := s._nextTreeHop(from, f.DestinationCoords)
		switch {
		case next == nil:
		case next.local():
			s._handleTreePing(from, f)
		default:
			next.proto.push(f)
		}

	case types.TypeTreePong:
		next := s._nextTreeHop(from, f.DestinationCoords)
		switch {
		case next == nil:
		case next.local():
			s._handleTreePong(from, f)
		default:
			next.proto.push(f)
		}
	}
}

// _routeOrDeliver forwards f to next, delivers it to the local ingress
// queue if next is this node, or drops it if there is no route at all.
func (s *state) _routeOrDeliver(next *peer, f *types.Frame) {
	switch {
	case next == nil:
		return
	case next.local():
		s.r.deliver(f)
	default:
		next.proto.push(f)
	}
}
