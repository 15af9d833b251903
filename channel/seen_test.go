package channel

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeenSetAddAndHas(t *testing.T) {
	s := newSeenSet(1000, 500)

	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"))
	assert.Equal(t, 1, s.Len())
}

func TestSeenSetTrimKeepsMostRecent(t *testing.T) {
	s := newSeenSet(10, 5)

	for i := 0; i < 12; i++ {
		s.Add(fmt.Sprintf("id-%d", i))
	}
	s.Trim()

	assert.Equal(t, 5, s.Len())
	// Oldest entries are gone, so they can be re-added.
	assert.False(t, s.Has("id-0"))
	assert.True(t, s.Has("id-11"))
	assert.True(t, s.Add("id-0"))
}

func TestSeenSetTrimBelowThresholdIsNoop(t *testing.T) {
	s := newSeenSet(10, 5)
	for i := 0; i < 10; i++ {
		s.Add(fmt.Sprintf("id-%d", i))
	}
	s.Trim()
	assert.Equal(t, 10, s.Len())
}

func TestSeenSetClear(t *testing.T) {
	s := newSeenSet(10, 5)
	s.Add("x")
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.True(t, s.Add("x"))
}
