package runstate_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/aretw0/weave/pkg/runstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_GetReturnsCopy(t *testing.T) {
	s := runstate.New("run-1", map[string]any{"nested": map[string]any{"a": 1}})

	got := s.Get()
	got["nested"].(map[string]any)["a"] = 99

	v, ok := s.Value("nested")
	require.True(t, ok)
	assert.Equal(t, 1, v.(map[string]any)["a"])
}

func TestState_UpdatePartialShallowReplaces(t *testing.T) {
	s := runstate.New("run-1", map[string]any{
		"cfg":   map[string]any{"a": 1, "b": 2},
		"other": "kept",
	})

	s.UpdatePartial(map[string]any{"cfg": map[string]any{"a": 10}})

	assert.Equal(t, map[string]any{
		"cfg":   map[string]any{"a": 10},
		"other": "kept",
	}, s.Get())
}

func TestState_UpdatePartialDeepMerges(t *testing.T) {
	s := runstate.New("run-1", map[string]any{
		"cfg": map[string]any{"a": 1, "b": 2, "inner": map[string]any{"x": true}},
	})

	s.UpdatePartial(map[string]any{
		"cfg": map[string]any{"a": 10, "inner": map[string]any{"y": false}},
	}, runstate.Deep())

	assert.Equal(t, map[string]any{
		"cfg": map[string]any{
			"a":     10,
			"b":     2,
			"inner": map[string]any{"x": true, "y": false},
		},
	}, s.Get())
}

func TestState_UpdateAndSet(t *testing.T) {
	s := runstate.New("run-1", nil)
	s.Set(map[string]any{"n": 1})
	s.Update(func(m map[string]any) map[string]any {
		m["n"] = m["n"].(int) + 1
		return m
	})
	assert.Equal(t, map[string]any{"n": 2}, s.Get())

	s.Update(func(map[string]any) map[string]any { return nil })
	assert.Empty(t, s.Get())
}

func TestState_ConcurrentWritersLastWins(t *testing.T) {
	s := runstate.New("run-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.UpdatePartial(map[string]any{fmt.Sprintf("k%d", i): i, "shared": i})
		}(i)
	}
	wg.Wait()

	got := s.Get()
	assert.Len(t, got, 33)
	assert.Contains(t, got, "shared")
}

type counters struct {
	Visits int    `json:"visits"`
	Owner  string `json:"owner"`
}

func TestState_TypedHelpers(t *testing.T) {
	s := runstate.New("run-1", map[string]any{"visits": 3.0, "owner": "ops", "extra": true})

	c, err := runstate.GetAs[counters](s)
	require.NoError(t, err)
	assert.Equal(t, counters{Visits: 3, Owner: "ops"}, c)

	c.Visits++
	require.NoError(t, runstate.SetFrom(s, c))

	got := s.Get()
	assert.EqualValues(t, 4, got["visits"])
	assert.Equal(t, true, got["extra"])
}

func TestState_SecretsAndInputs(t *testing.T) {
	t.Setenv("WEAVE_API_TOKEN", "s3cret")

	s := runstate.New("run-1", nil,
		runstate.WithSecrets(runstate.EnvSecrets{Prefix: "WEAVE_"}),
		runstate.WithInputs(runstate.StaticInputs{"node-a/payload": "hello"}),
	)

	v, ok := s.Secret("api-token")
	assert.True(t, ok)
	assert.Equal(t, "s3cret", v)

	in, ok := s.ExternalInput("node-a", "payload")
	assert.True(t, ok)
	assert.Equal(t, "hello", in)

	_, ok = s.ExternalInput("node-a", "missing")
	assert.False(t, ok)

	bare := runstate.New("run-2", nil)
	_, ok = bare.Secret("x")
	assert.False(t, ok)
}
