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

// Package config loads a node's static configuration: its identity, the
// peers it should dial on startup, and the zone it listens in.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/pinecone-mesh/corerouter/types"
	"gopkg.in/yaml.v3"
)

// Peer describes one statically configured outbound connection.
type Peer struct {
	// URI is a ws:// or wss:// address to dial at startup.
	URI string `yaml:"uri"`
}

// Config is the top-level shape of a node's YAML configuration file.
type Config struct {
	// Zone is a free-form label for the node's network zone. It is parsed
	// from the file but no other package reads it; it does not affect
	// connection handling.
	Zone string `yaml:"zone"`

	// Listen is the address the node's WebSocket listener binds to, e.g.
	// "0.0.0.0:8443". Empty disables listening (outbound-only node).
	Listen string `yaml:"listen"`

	// PrivateKeyPath, if set, names a file holding a hex-encoded ed25519
	// private key. If unset or the file doesn't exist, a fresh key is
	// generated and, when PrivateKeyPath is set, persisted there.
	PrivateKeyPath string `yaml:"private_key_path"`

	// Peers lists static peers to dial on startup.
	Peers []Peer `yaml:"peers"`

	// Keepalives records whether WebSocket-level ping/pong is wanted
	// (default true). No other package reads it: transport.Dial and
	// transport.Upgrade always arm keepalives, so setting it to false
	// does not disable them.
	Keepalives bool `yaml:"keepalives"`
}

// Load parses a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{Keepalives: true}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// PrivateKey resolves the node's identity per PrivateKeyPath, generating
// and persisting a new key if none exists yet.
func (c *Config) PrivateKey() (types.PrivateKey, error) {
	var key types.PrivateKey
	if c.PrivateKeyPath == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return key, fmt.Errorf("generate key: %w", err)
		}
		copy(key[:], priv)
		return key, nil
	}

	data, err := os.ReadFile(c.PrivateKeyPath)
	switch {
	case err == nil:
		decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return key, fmt.Errorf("decode private key: %w", err)
		}
		if len(decoded) != ed25519.PrivateKeySize {
			return key, fmt.Errorf("private key file has wrong length")
		}
		copy(key[:], decoded)
		return key, nil

	case os.IsNotExist(err):
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return key, fmt.Errorf("generate key: %w", err)
		}
		copy(key[:], priv)
		if err := os.WriteFile(c.PrivateKeyPath, []byte(hex.EncodeToString(priv)), 0600); err != nil {
			return key, fmt.Errorf("persist private key: %w", err)
		}
		return key, nil

	default:
		return key, fmt.Errorf("read private key: %w", err)
	}
}
