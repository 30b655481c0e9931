package rocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryInsertLookupRemove(t *testing.T) {
	r := NewStreamRegistry()
	sub := &StreamSubscriber{id: 1}

	assert.True(t, r.Insert(1, sub))
	assert.Equal(t, sub, r.Lookup(1))
	assert.Equal(t, 1, r.Len())

	r.Remove(1)
	assert.Nil(t, r.Lookup(1))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryDuplicateInsertFails(t *testing.T) {
	r := NewStreamRegistry()
	sub := &StreamSubscriber{id: 1}
	assert.True(t, r.Insert(1, sub))
	assert.False(t, r.Insert(1, &StreamSubscriber{id: 1}))
}

func TestRegistryRemoveMissingIsNoop(t *testing.T) {
	r := NewStreamRegistry()
	r.Remove(99)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryForEachVisitsEveryStream(t *testing.T) {
	r := NewStreamRegistry()
	r.Insert(1, &StreamSubscriber{id: 1})
	r.Insert(2, &StreamSubscriber{id: 2})
	r.Insert(3, &StreamSubscriber{id: 3})

	seen := map[StreamID]bool{}
	r.ForEach(func(id StreamID, sub *StreamSubscriber) { seen[id] = true })
	assert.Len(t, seen, 3)
	assert.True(t, seen[1] && seen[2] && seen[3])
}

func TestRegistryPartialFrameParking(t *testing.T) {
	r := NewStreamRegistry()
	ctx := &FrameContext{id: 5}

	assert.Nil(t, r.LookupPartial(5))
	r.ParkPartial(5, ctx)
	assert.Equal(t, ctx, r.LookupPartial(5))

	r.RemovePartial(5)
	assert.Nil(t, r.LookupPartial(5))
}
