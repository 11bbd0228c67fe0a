package core

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageID(t *testing.T) {
	now := time.Now()
	ids := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		ids = append(ids, NewMessageID(now))
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids in the same millisecond must be increasing")

	later := NewMessageID(now.Add(time.Second))
	assert.Greater(t, later, ids[len(ids)-1])
}

func TestMillis(t *testing.T) {
	assert.Equal(t, int64(0), toMillis(time.Time{}))
	assert.True(t, fromMillis(0).IsZero())

	now := time.Now().Truncate(time.Millisecond)
	assert.True(t, now.Equal(fromMillis(toMillis(now))))
}
