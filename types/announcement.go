package types

import (
	"bytes"
	"encoding/binary"
	"time"
)

// HopSignature is one link in a tree announcement's signature chain: the
// node that signed it, and the port that announcement was sent out on.
type HopSignature struct {
	SigningPublicKey PublicKey
	DestinationPort  Port
	SignatureBytes   Signature
}

// TreeAnnouncement is a signed, loop-free chain of port hops from a root
// key down to the peer that sent it to us.
type TreeAnnouncement struct {
	Root         Root
	Signatures   []HopSignature
	ReceiveTime  time.Time
	ReceiveOrder uint64
}

// Coords returns this announcement's coordinates: the destination port of
// every hop in the chain, leaves first.
func (a *TreeAnnouncement) Coords() Coordinates {
	coords := make(Coordinates, len(a.Signatures))
	for i, sig := range a.Signatures {
		coords[i] = sig.DestinationPort
	}
	return coords
}

// LastSigner returns the public key of the final signer in the chain,
// i.e. the peer that most recently forwarded this announcement to us.
func (a *TreeAnnouncement) LastSigner() (PublicKey, bool) {
	if len(a.Signatures) == 0 {
		return PublicKey{}, false
	}
	return a.Signatures[len(a.Signatures)-1].SigningPublicKey, true
}

// IsCleanFrom reports whether the announcement's last signature was
// produced by peer — i.e. it was actually sent to us by the peer it
// claims to have come from.
func (a *TreeAnnouncement) IsCleanFrom(peer PublicKey) bool {
	last, ok := a.LastSigner()
	return ok && last == peer
}

// HasRepeatOrLoop reports whether any signing key repeats in the chain,
// or self appears anywhere in it — either case is a routing loop.
func (a *TreeAnnouncement) HasRepeatOrLoop(self PublicKey) bool {
	seen := make(map[PublicKey]struct{}, len(a.Signatures))
	for _, sig := range a.Signatures {
		if sig.SigningPublicKey == self {
			return true
		}
		if _, ok := seen[sig.SigningPublicKey]; ok {
			return true
		}
		seen[sig.SigningPublicKey] = struct{}{}
	}
	return false
}

// IsLoopOrChildOf reports whether self appears anywhere in the chain —
// used by parent selection to reject candidates that are really our own
// descendants in the tree.
func (a *TreeAnnouncement) IsLoopOrChildOf(self PublicKey) bool {
	for _, sig := range a.Signatures {
		if sig.SigningPublicKey == self {
			return true
		}
	}
	return false
}

// signingBytes returns the deterministic byte sequence that a hop's
// signature is computed over: the root, every prior hop, and the new
// destination port being appended. Both Sign and Verify use this so that
// a chain validates exactly the ports and signers it claims to.
func signingBytes(root Root, prior []HopSignature, newPort Port) []byte {
	var buf bytes.Buffer
	buf.Write(root.PublicKey[:])
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(root.SequenceNumber))
	buf.Write(seq[:])
	for _, sig := range prior {
		buf.Write(sig.SigningPublicKey[:])
		var port [8]byte
		binary.BigEndian.PutUint64(port[:], uint64(sig.DestinationPort))
		buf.Write(port[:])
	}
	var port [8]byte
	binary.BigEndian.PutUint64(port[:], uint64(newPort))
	buf.Write(port[:])
	return buf.Bytes()
}

// Sign returns a copy of this announcement with one more hop appended,
// signed by priv for the peer reachable on port. This is how an
// announcement is extended before being flooded to a specific peer.
func (a *TreeAnnouncement) Sign(priv PrivateKey, port Port) TreeAnnouncement {
	msg := signingBytes(a.Root, a.Signatures, port)
	sig := HopSignature{
		SigningPublicKey: priv.Public(),
		DestinationPort:  port,
		SignatureBytes:   priv.Sign(msg),
	}
	out := TreeAnnouncement{
		Root:       a.Root,
		Signatures: make([]HopSignature, len(a.Signatures), len(a.Signatures)+1),
	}
	copy(out.Signatures, a.Signatures)
	out.Signatures = append(out.Signatures, sig)
	return out
}

// VerifyChain checks every signature in the chain against the declared
// root and the successive signers that produced it.
func (a *TreeAnnouncement) VerifyChain() bool {
	for i, sig := range a.Signatures {
		msg := signingBytes(a.Root, a.Signatures[:i], sig.DestinationPort)
		if !sig.SigningPublicKey.Verify(msg, sig.SignatureBytes) {
			return false
		}
	}
	return true
}
