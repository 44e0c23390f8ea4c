package util

import (
	"testing"

	"github.com/pinecone-mesh/corerouter/types"
	"github.com/stretchr/testify/assert"
)

func key(b byte) types.PublicKey {
	var k types.PublicKey
	k[0] = b
	return k
}

func TestDHTOrdered(t *testing.T) {
	a, b, c := key(1), key(2), key(3)
	assert.True(t, DHTOrdered(a, b, c))
	assert.False(t, DHTOrdered(a, a, c), "not strict at the low end")
	assert.False(t, DHTOrdered(a, c, c), "not strict at the high end")
	assert.False(t, DHTOrdered(c, b, a), "no wraparound")
	assert.False(t, DHTOrdered(a, b, b))
}

func TestLessThan(t *testing.T) {
	assert.True(t, LessThan(key(1), key(2)))
	assert.False(t, LessThan(key(2), key(1)))
	assert.False(t, LessThan(key(1), key(1)))
}
