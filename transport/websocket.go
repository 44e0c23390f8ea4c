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

// Package transport implements the engine's peer transport over
// WebSocket connections: a version/capability handshake identical in
// shape to the engine's own first-announcement exchange, followed by a
// duplex stream of binary-framed protocol messages.
package transport

import (
	"crypto/ed25519"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pinecone-mesh/corerouter/types"
)

const (
	ourVersion      byte = 1
	ourCapabilities byte = 0b0000_0001

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 10 * time.Second

	// PingInterval is how often idle connections send a WebSocket-level
	// ping so that intermediate proxies and load balancers don't reap the
	// socket during quiet periods between routing traffic.
	PingInterval = 30 * time.Second
	pongWait     = PingInterval * 2
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn wraps a *websocket.Conn as the engine's Sink and Source, encoding
// and decoding every frame with types.Frame's wire codec and serializing
// writes behind a mutex (gorilla/websocket forbids concurrent writers).
type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	identity types.PublicKey
}

// RemotePublicKey returns the identity learned during the handshake.
func (c *Conn) RemotePublicKey() types.PublicKey { return c.identity }

// Send implements router.Sink.
func (c *Conn) Send(f *types.Frame) error {
	data, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// Recv implements router.Source.
func (c *Conn) Recv() (*types.Frame, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		f := &types.Frame{}
		if err := f.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("unmarshal frame: %w", err)
		}
		return f, nil
	}
}

// Close implements router.Sink.
func (c *Conn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// keepalive arms the WebSocket-level ping/pong handlers so a silent
// connection is still known to be alive between routing frames: a read
// deadline of pongWait is pushed forward by every pong.
func (c *Conn) keepalive(stop <-chan struct{}) {
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ticker := time.NewTicker(PingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				c.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()
}

// handshake performs the mutual identity exchange (§4.2's first-frame
// exchange happens afterward, at the router layer; this is the
// transport-level authentication step that precedes it): each side sends
// its version byte, a capability bitmask, its public key, and a signature
// over that header, then validates the peer's.
func handshake(ws *websocket.Conn, private types.PrivateKey) (types.PublicKey, error) {
	public := private.Public()
	out := make([]byte, 0, 2+ed25519.PublicKeySize+ed25519.SignatureSize)
	out = append(out, ourVersion, ourCapabilities)
	out = append(out, public[:]...)
	sig := private.Sign(out)
	out = append(out, sig[:]...)

	if err := ws.SetWriteDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return types.PublicKey{}, err
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, out); err != nil {
		return types.PublicKey{}, fmt.Errorf("write handshake: %w", err)
	}

	if err := ws.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return types.PublicKey{}, err
	}
	kind, data, err := ws.ReadMessage()
	if err != nil {
		return types.PublicKey{}, fmt.Errorf("read handshake: %w", err)
	}
	want := 2 + ed25519.PublicKeySize + ed25519.SignatureSize
	if kind != websocket.BinaryMessage || len(data) != want {
		return types.PublicKey{}, fmt.Errorf("malformed handshake")
	}
	if data[0] != ourVersion {
		return types.PublicKey{}, fmt.Errorf("mismatched node version")
	}
	if data[1]&ourCapabilities != ourCapabilities {
		return types.PublicKey{}, fmt.Errorf("mismatched node capabilities")
	}
	var remote types.PublicKey
	copy(remote[:], data[2:2+ed25519.PublicKeySize])
	var remoteSig types.Signature
	copy(remoteSig[:], data[2+ed25519.PublicKeySize:want])
	if !remote.Verify(data[:2+ed25519.PublicKeySize], remoteSig) {
		return types.PublicKey{}, fmt.Errorf("peer sent invalid signature")
	}

	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return types.PublicKey{}, err
	}
	return remote, nil
}

// Dial opens an outbound peer connection to a WebSocket listener
// previously started with Upgrade, completing the authentication
// handshake before returning.
func Dial(rawURL string, private types.PrivateKey) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse peer uri: %w", err)
	}
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial peer: %w", err)
	}
	remote, err := handshake(ws, private)
	if err != nil {
		ws.Close()
		return nil, err
	}
	c := &Conn{ws: ws, identity: remote}
	c.keepalive(make(chan struct{}))
	return c, nil
}

// Upgrade promotes an inbound HTTP request to a WebSocket connection and
// completes the authentication handshake, for use inside an
// http.HandlerFunc registered against a listen address.
func Upgrade(w http.ResponseWriter, r *http.Request, private types.PrivateKey) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade connection: %w", err)
	}
	remote, err := handshake(ws, private)
	if err != nil {
		ws.Close()
		return nil, err
	}
	c := &Conn{ws: ws, identity: remote}
	c.keepalive(make(chan struct{}))
	return c, nil
}

// LocalAddr and RemoteAddr expose the underlying socket endpoints, useful
// for logging which zone a peer connection belongs to.
func (c *Conn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }
