package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrontierPushFrontKeepsBlockOrder(t *testing.T) {
	t.Parallel()

	var f frontier
	f.PushBack(Task{URL: "a"})
	f.PushBack(Task{URL: "b"})
	f.PushFront(Task{URL: "x"}, Task{URL: "y"})
	f.PushFront()

	var got []string
	for {
		task, ok := f.Pop()
		if !ok {
			break
		}
		got = append(got, task.URL)
	}
	assert.Equal(t, []string{"x", "y", "a", "b"}, got)
	assert.Zero(t, f.Len())
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "seeded", StateSeeded.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "unknown", State(42).String())
}
