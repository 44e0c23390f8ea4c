package router

import (
	"testing"

	"github.com/pinecone-mesh/corerouter/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRootAndBecomeRoot(t *testing.T) {
	self := snekTestKey(1)
	s, r := newTestState(self)

	assert.True(t, s._isRoot(), "a fresh node with no parent is its own root")

	other := connectedPeer(s.r, 1, snekTestKey(2))
	s.parent = other
	assert.False(t, s._isRoot())

	s._becomeRoot()
	assert.Same(t, r.local, s.parent)
	assert.True(t, s._isRoot())
}

func TestCurrentAnnouncementAsRoot(t *testing.T) {
	self := snekTestKey(1)
	s, _ := newTestState(self)

	ann := s._currentAnnouncement()
	assert.Equal(t, self, ann.Root.PublicKey)
	assert.Empty(t, ann.Signatures)
}

func TestCurrentAnnouncementViaParent(t *testing.T) {
	self := snekTestKey(1)
	s, _ := newTestState(self)

	parent := connectedPeer(s.r, 1, snekTestKey(2))
	s.parent = parent
	parentAnn := &types.TreeAnnouncement{
		Root: types.Root{PublicKey: snekTestKey(9), SequenceNumber: 3},
	}
	s.announcements[parent] = parentAnn

	got := s._currentAnnouncement()
	assert.Same(t, parentAnn, got)
}

func TestNextTreeHopReturnsLocalWhenAlreadyAtDestination(t *testing.T) {
	self := snekTestKey(1)
	s, r := newTestState(self)

	next := s._nextTreeHop(nil, s._coords())
	assert.Same(t, r.local, next)
}

func TestNextTreeHopPicksCloserPeer(t *testing.T) {
	self := snekTestKey(1)
	s, _ := newTestState(self)

	// Peers must share our current root to be considered at all.
	root := s._currentRoot()

	far := connectedPeer(s.r, 1, snekTestKey(2))
	s.ports.assign(1, far)
	s.announcements[far] = &types.TreeAnnouncement{
		Root:       root,
		Signatures: []types.HopSignature{{SigningPublicKey: snekTestKey(50), DestinationPort: 1}, {SigningPublicKey: snekTestKey(51), DestinationPort: 1}},
	}

	near := connectedPeer(s.r, 2, snekTestKey(3))
	s.ports.assign(2, near)
	s.announcements[near] = &types.TreeAnnouncement{
		Root:       root,
		Signatures: []types.HopSignature{{SigningPublicKey: snekTestKey(50), DestinationPort: 2}},
	}

	destCoords := s.announcements[near].Coords()
	next := s._nextTreeHop(nil, destCoords)
	require.NotNil(t, next)
	assert.Same(t, near, next)
}

func TestNextTreeHopIgnoresPeerOnDifferentRoot(t *testing.T) {
	self := snekTestKey(1)
	s, _ := newTestState(self)

	p := connectedPeer(s.r, 1, snekTestKey(2))
	s.ports.assign(1, p)
	s.announcements[p] = &types.TreeAnnouncement{
		Root:       types.Root{PublicKey: snekTestKey(5), SequenceNumber: 1},
		Signatures: []types.HopSignature{{SigningPublicKey: snekTestKey(5), DestinationPort: 1}},
	}

	// The peer sits exactly at the destination, so only the root mismatch
	// keeps it from being chosen.
	destCoords := s.announcements[p].Coords()
	next := s._nextTreeHop(nil, destCoords)
	assert.Nil(t, next)
}

func TestNextTreeHopExcludesFromPeer(t *testing.T) {
	self := snekTestKey(1)
	s, _ := newTestState(self)

	root := s._currentRoot()
	p := connectedPeer(s.r, 1, snekTestKey(2))
	s.ports.assign(1, p)
	ann := &types.TreeAnnouncement{
		Root:       root,
		Signatures: []types.HopSignature{{SigningPublicKey: snekTestKey(50), DestinationPort: 1}},
	}
	s.announcements[p] = ann

	next := s._nextTreeHop(p, ann.Coords())
	assert.Nil(t, next, "the peer a frame arrived from is never selected as its own next hop")
}

func TestSignedForPeerRejectsLoop(t *testing.T) {
	self := snekTestKey(1)
	s, _ := newTestState(self)

	p := connectedPeer(s.r, 1, snekTestKey(2))
	s.ports.assign(1, p)

	ann := &types.TreeAnnouncement{
		Root:       types.Root{PublicKey: snekTestKey(9), SequenceNumber: 1},
		Signatures: []types.HopSignature{{SigningPublicKey: self, DestinationPort: 7}},
	}

	signed := s._signedForPeer(ann, p)
	assert.Nil(t, signed, "an announcement already signed by us must not be re-sent")
}

func TestSignedForPeerRejectsLocalOrNilPeer(t *testing.T) {
	self := snekTestKey(1)
	s, r := newTestState(self)

	ann := &types.TreeAnnouncement{Root: types.Root{PublicKey: snekTestKey(9), SequenceNumber: 1}}
	assert.Nil(t, s._signedForPeer(ann, nil))
	assert.Nil(t, s._signedForPeer(ann, r.local))
}
