package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudget_RefusesOnceSpent(t *testing.T) {
	b := NewBudget(12, time.Minute)

	var admitted []bool
	for _, id := range []string{"a", "b", "c"} {
		admitted = append(admitted, b.Admit("run", id, 5))
	}

	assert.Equal(t, []bool{true, true, false}, admitted)
	assert.Equal(t, int64(10), b.Spent())
}

func TestBudget_ResetsEachTick(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBudget(5, time.Second)
	b.now = func() time.Time { return now }

	assert.True(t, b.Admit("run", "a", 5))
	assert.False(t, b.Admit("run", "b", 1))
	assert.Equal(t, 1*time.Second, b.UntilNextTick())

	now = now.Add(400 * time.Millisecond)
	assert.Equal(t, 600*time.Millisecond, b.UntilNextTick())

	now = now.Add(600 * time.Millisecond)
	assert.True(t, b.Admit("run", "b", 1))
	assert.Equal(t, int64(1), b.Spent())
}

func TestBudget_OversizedCallRunsAlone(t *testing.T) {
	b := NewBudget(3, time.Minute)

	assert.True(t, b.Admit("run", "big", 10), "nothing spent yet")
	assert.False(t, b.Admit("run", "small", 1))
}

func TestBudget_ZeroLimitIsUnlimited(t *testing.T) {
	b := NewBudget(0, time.Minute)
	for i := 0; i < 100; i++ {
		assert.True(t, b.Admit("run", "n", 1000))
	}
}
