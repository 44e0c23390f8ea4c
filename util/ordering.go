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

// Package util holds the small, pure helpers shared by the tree and SNEK
// planes.
package util

import "github.com/pinecone-mesh/corerouter/types"

// DHTOrdered reports whether a < b < c in keyspace, strictly and without
// wraparound. This is the test used throughout hop selection to decide
// whether a candidate key lies strictly between the current best
// candidate and the destination.
func DHTOrdered(a, b, c types.PublicKey) bool {
	return types.LessThan(a, b) && types.LessThan(b, c)
}

// LessThan reports whether a sorts strictly below b in keyspace.
func LessThan(a, b types.PublicKey) bool {
	return types.LessThan(a, b)
}
