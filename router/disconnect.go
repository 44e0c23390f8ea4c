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

// _disconnect removes a dead peer from every protected region it
// appears in (§4.2, "Disconnect"): its tree announcement, its port
// assignment, and any SNEK path entry that was routed through it — each
// such entry is torn down toward whichever side is still alive. If the
// peer was our tree parent we become our own root and run parent
// selection again.
func (s *state) _disconnect(p *peer) {
	if p == nil || p.local() {
		return
	}
	port, ok := s.ports.portOf(p)
	if !ok {
		return
	}

	for idx, entry := range s.table {
		if entry.SourcePort == port || entry.DestinationPort == port {
			s._teardownTowardSurvivor(idx, entry, port)
		}
	}

	delete(s.announcements, p)
	s.ports.remove(port)

	if p == s.parent {
		s._becomeRoot()
		s._reparent(true)
	}
}

// _teardownTowardSurvivor removes a path entry whose dead side was
// deadPort, notifying whichever side is still alive, if any.
func (s *state) _teardownTowardSurvivor(idx types.SnekPathIndex, entry *types.SnekPathEntry, deadPort types.Port) {
	frame := s._teardownFrame(idx)
	s._teardownPath(idx)

	var survivor types.Port
	switch deadPort {
	case entry.SourcePort:
		survivor = entry.DestinationPort
	case entry.DestinationPort:
		survivor = entry.SourcePort
	}
	if survivor == 0 {
		return
	}
	if p, ok := s.peerOn(survivor); ok {
		p.proto.push(frame)
	}
}
