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

// Package types holds the wire-level value types shared by the routing
// engine: keys, ports, coordinates, announcements and path identifiers.
// Nothing in this package performs I/O.
package types

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
)

// PublicKey is a 32-byte node identity, totally ordered by lexicographic
// byte comparison.
type PublicKey [ed25519.PublicKeySize]byte

// PrivateKey is a 64-byte ed25519 private key.
type PrivateKey [ed25519.PrivateKeySize]byte

// Signature is a detached ed25519 signature.
type Signature [ed25519.SignatureSize]byte

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// CompareTo returns -1, 0 or 1 the way bytes.Compare does.
func (k PublicKey) CompareTo(other PublicKey) int {
	return bytes.Compare(k[:], other[:])
}

// LessThan reports whether a sorts strictly below b.
func LessThan(a, b PublicKey) bool {
	return a.CompareTo(b) < 0
}

func (k PublicKey) EqualTo(other PublicKey) bool {
	return k == other
}

func (p PrivateKey) Public() PublicKey {
	var pub PublicKey
	copy(pub[:], ed25519.PrivateKey(p[:]).Public().(ed25519.PublicKey))
	return pub
}

func (p PrivateKey) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(ed25519.PrivateKey(p[:]), message))
	return sig
}

func (k PublicKey) Verify(message []byte, sig Signature) bool {
	return ed25519.Verify(k[:], message, sig[:])
}
