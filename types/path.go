package types

import (
	"crypto/rand"
	"time"
)

// PathID is a 64-bit random opaque identifier chosen by the path
// originator, naming one SNEK path among possibly many between the same
// two endpoints.
type PathID [8]byte

// NewPathID returns a fresh, randomly chosen path identifier.
func NewPathID() (PathID, error) {
	var id PathID
	_, err := rand.Read(id[:])
	return id, err
}

// SnekPathIndex is the globally unique name of an installed DHT path:
// the lower-keyed endpoint's public key, plus the path ID it chose.
type SnekPathIndex struct {
	PublicKey PublicKey
	PathID    PathID
}

// SnekPathEntry is one installed row of the SNEK forwarding table.
type SnekPathEntry struct {
	Origin          PublicKey
	Target          PublicKey
	SourcePort      Port
	DestinationPort Port
	LastSeen        time.Time
	Root            Root
	Active          bool
}

// SnekExpiryPeriod is how long a path entry remains valid without being
// refreshed.
const SnekExpiryPeriod = time.Hour

// SetupActivationDeadline is how long an installed-but-not-yet-active
// path entry is allowed to live before it is torn down.
const SetupActivationDeadline = 5 * time.Second

// Valid reports whether the entry's root still matches currentRoot and it
// hasn't expired.
func (e *SnekPathEntry) Valid(currentRoot Root) bool {
	return e.Root.EqualTo(currentRoot) && time.Since(e.LastSeen) < SnekExpiryPeriod
}

// Stale reports whether a still-inactive entry has outlived the setup
// activation deadline.
func (e *SnekPathEntry) Stale() bool {
	return !e.Active && time.Since(e.LastSeen) >= SetupActivationDeadline
}
