package types

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) PublicKey {
	var k PublicKey
	k[0] = b
	return k
}

func testPathID(b byte) PathID {
	var id PathID
	id[0] = b
	return id
}

func roundtrip(t *testing.T, f *Frame) *Frame {
	t.Helper()
	data, err := f.MarshalBinary()
	require.NoError(t, err)

	got := &Frame{}
	require.NoError(t, got.UnmarshalBinary(data))
	return got
}

func TestFrameRoundtripTreeAnnouncement(t *testing.T) {
	var priv PrivateKey
	copy(priv[:], ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)))
	ann := TreeAnnouncement{Root: Root{PublicKey: testKey(9), SequenceNumber: 7}}
	signed := ann.Sign(priv, 3)
	signed = signed.Sign(priv, 5)

	f := &Frame{Type: TypeTreeAnnouncement, Announcement: &signed}
	got := roundtrip(t, f)

	require.NotNil(t, got.Announcement)
	assert.True(t, got.Announcement.Root.EqualTo(ann.Root))
	assert.Equal(t, signed.Signatures, got.Announcement.Signatures)
	assert.True(t, got.Announcement.VerifyChain())
}

func TestFrameRoundtripTreeRouted(t *testing.T) {
	f := &Frame{
		Type:              TypeTreeRouted,
		DestinationCoords: Coordinates{1, 2, 3},
		Payload:           []byte("hello"),
	}
	got := roundtrip(t, f)
	assert.True(t, got.DestinationCoords.EqualTo(f.DestinationCoords))
	assert.Equal(t, f.Payload, got.Payload)
}

func TestFrameRoundtripSnekRouted(t *testing.T) {
	f := &Frame{
		Type:           TypeSnekRouted,
		DestinationKey: testKey(1),
		SourceKey:      testKey(2),
		Payload:        []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	got := roundtrip(t, f)
	assert.Equal(t, f.DestinationKey, got.DestinationKey)
	assert.Equal(t, f.SourceKey, got.SourceKey)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestFrameRoundtripSnekBootstrap(t *testing.T) {
	f := &Frame{
		Type:           TypeSnekBootstrap,
		Root:           Root{PublicKey: testKey(4), SequenceNumber: 11},
		DestinationKey: testKey(5),
		SourceCoords:   Coordinates{9, 8},
		PathID:         testPathID(1),
	}
	got := roundtrip(t, f)
	assert.True(t, got.Root.EqualTo(f.Root))
	assert.Equal(t, f.DestinationKey, got.DestinationKey)
	assert.True(t, got.SourceCoords.EqualTo(f.SourceCoords))
	assert.Equal(t, f.PathID, got.PathID)
}

func TestFrameRoundtripSnekBootstrapAck(t *testing.T) {
	f := &Frame{
		Type:              TypeSnekBootstrapAck,
		DestinationCoords: Coordinates{1},
		DestinationKey:    testKey(6),
		SourceCoords:      Coordinates{2, 3},
		SourceKey:         testKey(7),
		Root:              Root{PublicKey: testKey(8), SequenceNumber: 1},
		PathID:            testPathID(2),
	}
	got := roundtrip(t, f)
	assert.True(t, got.DestinationCoords.EqualTo(f.DestinationCoords))
	assert.Equal(t, f.DestinationKey, got.DestinationKey)
	assert.True(t, got.SourceCoords.EqualTo(f.SourceCoords))
	assert.Equal(t, f.SourceKey, got.SourceKey)
	assert.True(t, got.Root.EqualTo(f.Root))
	assert.Equal(t, f.PathID, got.PathID)
}

func TestFrameRoundtripSnekSetup(t *testing.T) {
	f := &Frame{
		Type:              TypeSnekSetup,
		Root:              Root{PublicKey: testKey(1), SequenceNumber: 2},
		DestinationCoords: Coordinates{4, 5, 6},
		DestinationKey:    testKey(2),
		SourceKey:         testKey(3),
		PathID:            testPathID(3),
	}
	got := roundtrip(t, f)
	assert.True(t, got.Root.EqualTo(f.Root))
	assert.True(t, got.DestinationCoords.EqualTo(f.DestinationCoords))
	assert.Equal(t, f.DestinationKey, got.DestinationKey)
	assert.Equal(t, f.SourceKey, got.SourceKey)
	assert.Equal(t, f.PathID, got.PathID)
}

func TestFrameRoundtripSnekSetupAck(t *testing.T) {
	f := &Frame{
		Type:           TypeSnekSetupAck,
		Root:           Root{PublicKey: testKey(1), SequenceNumber: 2},
		DestinationKey: testKey(2),
		PathID:         testPathID(4),
	}
	got := roundtrip(t, f)
	assert.True(t, got.Root.EqualTo(f.Root))
	assert.Equal(t, f.DestinationKey, got.DestinationKey)
	assert.Equal(t, f.PathID, got.PathID)
}

func TestFrameRoundtripSnekTeardown(t *testing.T) {
	f := &Frame{
		Type:           TypeSnekTeardown,
		Root:           Root{PublicKey: testKey(1), SequenceNumber: 2},
		DestinationKey: testKey(9),
		PathID:         testPathID(5),
	}
	got := roundtrip(t, f)
	assert.True(t, got.Root.EqualTo(f.Root))
	assert.Equal(t, f.DestinationKey, got.DestinationKey)
	assert.Equal(t, f.PathID, got.PathID)
}

func TestFrameRoundtripSnekPingPong(t *testing.T) {
	for _, typ := range []FrameType{TypeSnekPing, TypeSnekPong} {
		f := &Frame{Type: typ, DestinationKey: testKey(1), SourceKey: testKey(2)}
		got := roundtrip(t, f)
		assert.Equal(t, typ, got.Type)
		assert.Equal(t, f.DestinationKey, got.DestinationKey)
		assert.Equal(t, f.SourceKey, got.SourceKey)
	}
}

func TestFrameRoundtripTreePingPong(t *testing.T) {
	for _, typ := range []FrameType{TypeTreePing, TypeTreePong} {
		f := &Frame{Type: typ, DestinationCoords: Coordinates{1, 2}, SourceCoords: Coordinates{3}}
		got := roundtrip(t, f)
		assert.Equal(t, typ, got.Type)
		assert.True(t, got.DestinationCoords.EqualTo(f.DestinationCoords))
		assert.True(t, got.SourceCoords.EqualTo(f.SourceCoords))
	}
}

func TestFrameUnmarshalShortBuffer(t *testing.T) {
	f := &Frame{}
	err := f.UnmarshalBinary(nil)
	assert.Error(t, err)
}

func TestFrameMarshalUnknownType(t *testing.T) {
	f := &Frame{Type: FrameType(200)}
	_, err := f.MarshalBinary()
	assert.Error(t, err)
}
