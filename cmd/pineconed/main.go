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

package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinecone-mesh/corerouter/config"
	"github.com/pinecone-mesh/corerouter/router"
	"github.com/pinecone-mesh/corerouter/transport"
	"github.com/pinecone-mesh/corerouter/types"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to node configuration YAML (required)")
	flag.Parse()

	if configPath == "" {
		fmt.Println("usage: pineconed --config <config.yaml>")
		os.Exit(2)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	private, err := cfg.PrivateKey()
	if err != nil {
		logger.Fatalf("resolve identity: %v", err)
	}

	r := router.NewRouter(logger, private)
	defer r.Close()

	if cfg.Listen != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/peer", func(w http.ResponseWriter, req *http.Request) {
			conn, err := transport.Upgrade(w, req, private)
			if err != nil {
				logger.Printf("inbound peer handshake failed: %v", err)
				return
			}
			if _, err := r.Connect(conn, conn); err != nil {
				logger.Printf("inbound peer connect failed: %v", err)
				conn.Close()
			}
		})
		server := &http.Server{Addr: cfg.Listen, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("listen: %v", err)
			}
		}()
		defer server.Close()
		logger.Println("listening for peers on", cfg.Listen)
	}

	for _, peer := range cfg.Peers {
		uri := peer.URI
		go dialWithRetry(logger, r, private, uri)
	}

	logger.Println("node ready:", r.PublicKey().String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Println("shutting down")
}

// dialWithRetry keeps attempting to establish a static peer connection,
// backing off between failed attempts up to maxBackoff, and returns once
// one connection succeeds. It does not redial if that connection later
// drops.
func dialWithRetry(logger *log.Logger, r *router.Router, private types.PrivateKey, uri string) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		conn, err := transport.Dial(uri, private)
		if err != nil {
			logger.Printf("dial %s: %v", uri, err)
		} else if _, err := r.Connect(conn, conn); err != nil {
			logger.Printf("connect %s: %v", uri, err)
			conn.Close()
		} else {
			logger.Println("connected to static peer", uri)
			return
		}

		t := time.NewTimer(backoff)
		<-t.C
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
