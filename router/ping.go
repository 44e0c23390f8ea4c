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
	"context"
	"fmt"
	"time"

	"github.com/Arceliar/phony"
	"github.com/pinecone-mesh/corerouter/types"
)

// SNEKPing sends a diagnostic ping to dst over the SNEK plane and blocks
// until the matching pong arrives or ctx is done. This is built entirely
// on ordinary dispatch (next_snek_hop routes the ping the same as any
// other SnekRouted traffic); it never touches wire reliability or
// ordering, which stay out of scope.
func (r *Router) SNEKPing(ctx context.Context, dst types.PublicKey) (time.Duration, error) {
	if dst == r.public {
		return 0, nil
	}
	v, existing := r.pings.LoadOrStore(dst, make(chan struct{}))
	if existing {
		return 0, fmt.Errorf("a ping to this node is already in progress")
	}
	defer r.pings.Delete(dst)

	phony.Block(r.state, func() {
		next := r.state._nextSnekHop(r.local, dst, false, true)
		if next != nil && !next.local() {
			next.proto.push(&types.Frame{
				Type:           types.TypeSnekPing,
				DestinationKey: dst,
				SourceKey:      r.public,
			})
		}
	})

	start := time.Now()
	ch := v.(chan struct{})
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("ping timed out")
	case <-ch:
		return time.Since(start), nil
	}
}

// TreePing sends a diagnostic ping to the node at dst's tree coordinates
// and blocks until the matching pong arrives or ctx is done.
func (r *Router) TreePing(ctx context.Context, dst types.Coordinates) (time.Duration, error) {
	if dst.EqualTo(r.Coords()) {
		return 0, nil
	}
	key := dst.String()
	v, existing := r.pings.LoadOrStore(key, make(chan struct{}))
	if existing {
		return 0, fmt.Errorf("a ping to this node is already in progress")
	}
	defer r.pings.Delete(key)

	phony.Block(r.state, func() {
		next := r.state._nextTreeHop(r.local, dst)
		if next != nil && !next.local() {
			next.proto.push(&types.Frame{
				Type:              types.TypeTreePing,
				DestinationCoords: dst,
				SourceCoords:      r.state._coords(),
			})
		}
	})

	start := time.Now()
	ch := v.(chan struct{})
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("ping timed out")
	case <-ch:
		return time.Since(start), nil
	}
}

// _handleSnekPing answers a ping that has reached its destination with a
// pong addressed back to the pinger.
func (s *state) _handleSnekPing(from *peer, f *types.Frame) {
	next := s._nextSnekHop(nil, f.SourceKey, false, true)
	if next == nil || next.local() {
		return
	}
	next.proto.push(&types.Frame{
		Type:           types.TypeSnekPong,
		DestinationKey: f.SourceKey,
		SourceKey:      s.r.public,
	})
}

// _handleSnekPong wakes whichever caller is blocked in SNEKPing for this
// responder, if any.
func (s *state) _handleSnekPong(from *peer, f *types.Frame) {
	if v, ok := s.r.pings.Load(f.SourceKey); ok {
		close(v.(chan struct{}))
	}
}

// _handleTreePing answers a ping that has reached its destination with a
// pong addressed back to the pinger's coordinates.
func (s *state) _handleTreePing(from *peer, f *types.Frame) {
	next := s._nextTreeHop(nil, f.SourceCoords)
	if next == nil || next.local() {
		return
	}
	next.proto.push(&types.Frame{
		Type:              types.TypeTreePong,
		DestinationCoords: f.SourceCoords,
		SourceCoords:      s._coords(),
	})
}

// _handleTreePong wakes whichever caller is blocked in TreePing for this
// responder's coordinates, if any.
func (s *state) _handleTreePong(from *peer, f *types.Frame) {
	if v, ok := s.r.pings.Load(f.SourceCoords.String()); ok {
		close(v.(chan struct{}))
	}
}
