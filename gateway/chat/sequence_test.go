package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_BoundedAndStable(t *testing.T) {
	h := &Handler{}
	seen := make(map[interface{}]struct{})
	for id := int64(1); id <= 10000; id++ {
		mu := h.sequence(id)
		assert.Same(t, mu, h.sequence(id))
		seen[mu] = struct{}{}
	}
	assert.Len(t, seen, seqStripes)
	assert.Same(t, h.sequence(3), h.sequence(3+seqStripes))
}
