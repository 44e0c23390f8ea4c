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

package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var errShortBuffer = errors.New("types: buffer too short")

// wireWriter accumulates a frame's wire encoding. Every field is
// length-prefixed or fixed-size so a peer reading the stream never needs
// to guess where one field ends and the next begins.
type wireWriter struct {
	buf bytes.Buffer
}

func (w *wireWriter) byte(b byte) {
	w.buf.WriteByte(b)
}

func (w *wireWriter) raw(b []byte) {
	w.buf.Write(b)
}

func (w *wireWriter) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf.Write(tmp[:n])
}

func (w *wireWriter) bytes(b []byte) {
	w.uvarint(uint64(len(b)))
	w.buf.Write(b)
}

func (w *wireWriter) publicKey(k PublicKey) { w.raw(k[:]) }
func (w *wireWriter) pathID(id PathID)      { w.raw(id[:]) }

func (w *wireWriter) root(r Root) {
	w.publicKey(r.PublicKey)
	w.uvarint(uint64(r.SequenceNumber))
}

func (w *wireWriter) coords(c Coordinates) {
	w.uvarint(uint64(len(c)))
	for _, p := range c {
		w.uvarint(uint64(p))
	}
}

func (w *wireWriter) announcement(a *TreeAnnouncement) {
	w.root(a.Root)
	w.uvarint(uint64(len(a.Signatures)))
	for _, sig := range a.Signatures {
		w.publicKey(sig.SigningPublicKey)
		w.uvarint(uint64(sig.DestinationPort))
		w.raw(sig.SignatureBytes[:])
	}
}

// wireReader is the dual of wireWriter: it consumes a byte slice
// left-to-right, returning errShortBuffer/errInvalidVarint the instant the
// input runs out or a varint doesn't terminate within the buffer.
type wireReader struct {
	buf []byte
}

func (r *wireReader) byte() (byte, error) {
	if len(r.buf) < 1 {
		return 0, errShortBuffer
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b, nil
}

func (r *wireReader) raw(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, errShortBuffer
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *wireReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		return 0, errInvalidVarint
	}
	r.buf = r.buf[n:]
	return v, nil
}

func (r *wireReader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	b, err := r.raw(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *wireReader) publicKey() (PublicKey, error) {
	var k PublicKey
	b, err := r.raw(len(k))
	if err != nil {
		return k, err
	}
	copy(k[:], b)
	return k, nil
}

func (r *wireReader) pathID() (PathID, error) {
	var id PathID
	b, err := r.raw(len(id))
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

func (r *wireReader) root() (Root, error) {
	pub, err := r.publicKey()
	if err != nil {
		return Root{}, err
	}
	seq, err := r.uvarint()
	if err != nil {
		return Root{}, err
	}
	return Root{PublicKey: pub, SequenceNumber: SequenceNumber(seq)}, nil
}

func (r *wireReader) coords() (Coordinates, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	c := make(Coordinates, n)
	for i := range c {
		v, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		c[i] = Port(v)
	}
	return c, nil
}

func (r *wireReader) announcement() (*TreeAnnouncement, error) {
	root, err := r.root()
	if err != nil {
		return nil, err
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	ann := &TreeAnnouncement{Root: root, Signatures: make([]HopSignature, n)}
	for i := range ann.Signatures {
		pub, err := r.publicKey()
		if err != nil {
			return nil, err
		}
		port, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		var sig Signature
		sigBytes, err := r.raw(len(sig))
		if err != nil {
			return nil, err
		}
		copy(sig[:], sigBytes)
		ann.Signatures[i] = HopSignature{SigningPublicKey: pub, DestinationPort: Port(port), SignatureBytes: sig}
	}
	return ann, nil
}

// MarshalBinary encodes f for transport across a peer connection. The
// wire format is a one-byte type tag followed by exactly the fields that
// type uses, each length-prefixed or fixed-size.
func (f *Frame) MarshalBinary() ([]byte, error) {
	w := &wireWriter{}
	w.byte(byte(f.Type))
	switch f.Type {
	case TypeTreeAnnouncement:
		if f.Announcement == nil {
			return nil, errors.New("types: tree announcement frame missing announcement")
		}
		w.announcement(f.Announcement)

	case TypeTreeRouted:
		w.coords(f.DestinationCoords)
		w.bytes(f.Payload)

	case TypeSnekRouted:
		w.publicKey(f.DestinationKey)
		w.publicKey(f.SourceKey)
		w.bytes(f.Payload)

	case TypeSnekBootstrap:
		w.root(f.Root)
		w.publicKey(f.DestinationKey)
		w.coords(f.SourceCoords)
		w.pathID(f.PathID)

	case TypeSnekBootstrapAck:
		w.coords(f.DestinationCoords)
		w.publicKey(f.DestinationKey)
		w.coords(f.SourceCoords)
		w.publicKey(f.SourceKey)
		w.root(f.Root)
		w.pathID(f.PathID)

	case TypeSnekSetup:
		w.root(f.Root)
		w.coords(f.DestinationCoords)
		w.publicKey(f.DestinationKey)
		w.publicKey(f.SourceKey)
		w.pathID(f.PathID)

	case TypeSnekSetupAck:
		w.root(f.Root)
		w.publicKey(f.DestinationKey)
		w.pathID(f.PathID)

	case TypeSnekTeardown:
		w.root(f.Root)
		w.publicKey(f.DestinationKey)
		w.pathID(f.PathID)

	case TypeSnekPing, TypeSnekPong:
		w.publicKey(f.DestinationKey)
		w.publicKey(f.SourceKey)

	case TypeTreePing, TypeTreePong:
		w.coords(f.DestinationCoords)
		w.coords(f.SourceCoords)

	default:
		return nil, errors.New("types: unknown frame type")
	}
	return w.buf.Bytes(), nil
}

// UnmarshalBinary decodes a frame previously produced by MarshalBinary.
func (f *Frame) UnmarshalBinary(data []byte) error {
	r := &wireReader{buf: data}
	tag, err := r.byte()
	if err != nil {
		return err
	}
	f.Type = FrameType(tag)

	switch f.Type {
	case TypeTreeAnnouncement:
		ann, err := r.announcement()
		if err != nil {
			return err
		}
		f.Announcement = ann

	case TypeTreeRouted:
		if f.DestinationCoords, err = r.coords(); err != nil {
			return err
		}
		if f.Payload, err = r.bytes(); err != nil {
			return err
		}

	case TypeSnekRouted:
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.SourceKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.Payload, err = r.bytes(); err != nil {
			return err
		}

	case TypeSnekBootstrap:
		if f.Root, err = r.root(); err != nil {
			return err
		}
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.SourceCoords, err = r.coords(); err != nil {
			return err
		}
		if f.PathID, err = r.pathID(); err != nil {
			return err
		}

	case TypeSnekBootstrapAck:
		if f.DestinationCoords, err = r.coords(); err != nil {
			return err
		}
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.SourceCoords, err = r.coords(); err != nil {
			return err
		}
		if f.SourceKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.Root, err = r.root(); err != nil {
			return err
		}
		if f.PathID, err = r.pathID(); err != nil {
			return err
		}

	case TypeSnekSetup:
		if f.Root, err = r.root(); err != nil {
			return err
		}
		if f.DestinationCoords, err = r.coords(); err != nil {
			return err
		}
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.SourceKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.PathID, err = r.pathID(); err != nil {
			return err
		}

	case TypeSnekSetupAck:
		if f.Root, err = r.root(); err != nil {
			return err
		}
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.PathID, err = r.pathID(); err != nil {
			return err
		}

	case TypeSnekTeardown:
		if f.Root, err = r.root(); err != nil {
			return err
		}
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.PathID, err = r.pathID(); err != nil {
			return err
		}

	case TypeSnekPing, TypeSnekPong:
		if f.DestinationKey, err = r.publicKey(); err != nil {
			return err
		}
		if f.SourceKey, err = r.publicKey(); err != nil {
			return err
		}

	case TypeTreePing, TypeTreePong:
		if f.DestinationCoords, err = r.coords(); err != nil {
			return err
		}
		if f.SourceCoords, err = r.coords(); err != nil {
			return err
		}

	default:
		return errors.New("types: unknown frame type")
	}
	return nil
}

// ErrShortRead is returned by a transport codec when the underlying
// stream closes mid-frame.
var ErrShortRead = io.ErrUnexpectedEOF
