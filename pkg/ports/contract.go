package ports

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contractID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func contractFrame(runID string, ip int) *domain.Frame {
	f := domain.NewFrame(runID, "program-contract", 2, map[string]any{"foo": "bar"})
	f.IP = ip
	return f
}

// RunStateStoreContract runs a suite of tests to verify that a StateStore
// implementation adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()

	t.Run("Save and Load Checkpoint", func(t *testing.T) {
		runID := contractID("run-save")
		cp := domain.Checkpoint{RunID: runID, Frame: contractFrame(runID, 7), AtMs: 1000}

		require.NoError(t, store.SaveCheckpoint(ctx, cp))

		loaded, err := store.LoadCheckpoint(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, runID, loaded.RunID)
		assert.Equal(t, int64(1000), loaded.AtMs)
		require.NotNil(t, loaded.Frame)
		assert.Equal(t, 7, loaded.Frame.IP)
		assert.Equal(t, "bar", loaded.Frame.Env.State["foo"])
	})

	t.Run("Load Non-Existent Checkpoint", func(t *testing.T) {
		_, err := store.LoadCheckpoint(ctx, contractID("missing"))
		assert.ErrorIs(t, err, domain.ErrCheckpointNotFound)
	})

	t.Run("Older Checkpoint Does Not Clobber Newer", func(t *testing.T) {
		runID := contractID("run-monotonic")
		for _, at := range []int64{3000, 1000, 2000} {
			cp := domain.Checkpoint{RunID: runID, Frame: contractFrame(runID, int(at/1000)), AtMs: at}
			require.NoError(t, store.SaveCheckpoint(ctx, cp))
		}

		loaded, err := store.LoadCheckpoint(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, int64(3000), loaded.AtMs)
		assert.Equal(t, 3, loaded.Frame.IP)
	})

	t.Run("Concurrent Writers Converge On Latest", func(t *testing.T) {
		runID := contractID("run-concurrent")
		const writers = 20
		order := rand.Perm(writers)

		var wg sync.WaitGroup
		for _, i := range order {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				at := int64(i+1) * 10
				cp := domain.Checkpoint{RunID: runID, Frame: contractFrame(runID, i+1), AtMs: at}
				assert.NoError(t, store.SaveCheckpoint(ctx, cp))
			}(i)
		}
		wg.Wait()

		loaded, err := store.LoadCheckpoint(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, int64(writers*10), loaded.AtMs)
		assert.Equal(t, writers, loaded.Frame.IP)
	})

	t.Run("Append Activity Is Idempotent", func(t *testing.T) {
		runID := contractID("run-activity")
		first := domain.ActivityRecord{
			RunID: runID, NodeID: "node-a", Attempt: 1,
			StartedAt: time.Now().UTC(), EndedAt: time.Now().UTC(),
			Output: map[string]any{"value": "first"},
		}
		second := first
		second.Output = map[string]any{"value": "second"}

		require.NoError(t, store.AppendActivity(ctx, first))
		require.NoError(t, store.AppendActivity(ctx, second), "duplicate append must be a no-op")

		got, err := store.GetActivity(ctx, runID, "node-a", 1)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Output["value"])
		assert.Equal(t, 1, got.Attempt)
	})

	t.Run("Attempts Are Distinct", func(t *testing.T) {
		runID := contractID("run-attempts")
		rec := domain.ActivityRecord{RunID: runID, NodeID: "node-a", Attempt: 2, Output: map[string]any{"n": "two"}}
		require.NoError(t, store.AppendActivity(ctx, rec))

		_, err := store.GetActivity(ctx, runID, "node-a", 1)
		assert.ErrorIs(t, err, domain.ErrActivityNotFound)

		got, err := store.GetActivity(ctx, runID, "node-a", 2)
		require.NoError(t, err)
		assert.Equal(t, "two", got.Output["n"])
	})
}

// RunProgramStoreContract verifies a ProgramStore implementation.
func RunProgramStoreContract(t *testing.T, store ProgramStore) {
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		id := contractID("program")
		p := &domain.Program{
			ID:         id,
			WorkflowID: "wf@1",
			Locals:     3,
			Chunk:      []domain.Instr{{Op: domain.OpPushConst, Const: true}, {Op: domain.OpEnd}},
			Graph:      domain.Graph{Name: "wf", Version: "1", Entry: "a", Nodes: []domain.NodeDef{{ID: "a", Type: "const"}}},
		}
		require.NoError(t, store.SaveProgram(ctx, p))

		loaded, err := store.LoadProgram(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "wf@1", loaded.WorkflowID)
		assert.Len(t, loaded.Chunk, 2)
		assert.Equal(t, domain.OpEnd, loaded.Chunk[1].Op)
		assert.Equal(t, "a", loaded.Graph.Entry)
	})

	t.Run("First Version Wins", func(t *testing.T) {
		id := contractID("program-immutable")
		require.NoError(t, store.SaveProgram(ctx, &domain.Program{ID: id, WorkflowID: "v1"}))
		require.NoError(t, store.SaveProgram(ctx, &domain.Program{ID: id, WorkflowID: "v2"}))

		loaded, err := store.LoadProgram(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "v1", loaded.WorkflowID)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadProgram(ctx, contractID("missing"))
		assert.ErrorIs(t, err, domain.ErrProgramNotFound)
	})
}

// RunJoinCounterContract verifies a JoinCounter implementation.
func RunJoinCounterContract(t *testing.T, jc JoinCounter) {
	ctx := context.Background()

	t.Run("Arrivals Are Idempotent", func(t *testing.T) {
		runID := contractID("join-idem")

		st, err := jc.Arrive(ctx, runID, "j", "edge-1", true, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Arrived)
		assert.False(t, st.Last)

		st, err = jc.Arrive(ctx, runID, "j", "edge-1", true, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, st.Arrived, "redelivered arrival must not count twice")
		assert.False(t, st.Last)

		st, err = jc.Arrive(ctx, runID, "j", "edge-2", false, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, st.Arrived)
		assert.Equal(t, 1, st.Active)
		assert.True(t, st.Last)

		st, err = jc.State(ctx, runID, "j")
		require.NoError(t, err)
		assert.Equal(t, 2, st.Arrived)
		assert.Equal(t, 1, st.Active)
	})

	t.Run("Unknown Join Is Empty", func(t *testing.T) {
		st, err := jc.State(ctx, contractID("join-empty"), "j")
		require.NoError(t, err)
		assert.Zero(t, st.Arrived)
	})

	t.Run("Exactly One Last Arrival Under Concurrency", func(t *testing.T) {
		runID := contractID("join-race")
		const branches = 16
		var lasts atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < branches; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				st, err := jc.Arrive(ctx, runID, "j", fmt.Sprintf("edge-%d", i), true, branches)
				assert.NoError(t, err)
				if st.Last {
					lasts.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), lasts.Load())
		st, err := jc.State(ctx, runID, "j")
		require.NoError(t, err)
		assert.Equal(t, branches, st.Arrived)
	})

	rel, ok := jc.(JoinReleaser)
	if !ok {
		return
	}
	t.Run("Release Drops Run Counters", func(t *testing.T) {
		runID := contractID("join-release")
		other := contractID("join-keep")
		for _, id := range []string{runID, other} {
			_, err := jc.Arrive(ctx, id, "j1", "edge-1", true, 2)
			require.NoError(t, err)
			_, err = jc.Arrive(ctx, id, "j2", "edge-1", true, 2)
			require.NoError(t, err)
		}

		require.NoError(t, rel.Release(ctx, runID))
		require.NoError(t, rel.Release(ctx, contractID("join-never")))

		for _, j := range []string{"j1", "j2"} {
			st, err := jc.State(ctx, runID, j)
			require.NoError(t, err)
			assert.Zero(t, st.Arrived)

			st, err = jc.State(ctx, other, j)
			require.NoError(t, err)
			assert.Equal(t, 1, st.Arrived, "other runs keep their counters")
		}
	})
}

// RunBackplaneContract verifies a Backplane implementation.
// The backplane must redeliver nacked messages promptly.
func RunBackplaneContract(t *testing.T, bp Backplane) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("Publish Then Subscribe", func(t *testing.T) {
		group := contractID("group-basic")
		runID := contractID("run-basic")

		received := make(chan domain.FrameMsg, 1)
		sub, err := bp.Subscribe(ctx, group, func(ctx context.Context, msg domain.FrameMsg, d Delivery) {
			if msg.RunID != runID {
				_ = d.Ack(ctx)
				return
			}
			assert.Equal(t, 1, d.Attempt())
			assert.NoError(t, d.Ack(ctx))
			received <- msg
		})
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, bp.Publish(ctx, domain.NewFrameMsg(contractFrame(runID, 4), 0)))

		select {
		case msg := <-received:
			assert.Equal(t, domain.MsgKindFrame, msg.Kind)
			require.NotNil(t, msg.Frame)
			assert.Equal(t, 4, msg.Frame.IP)
		case <-ctx.Done():
			t.Fatal("message was not delivered")
		}
	})

	t.Run("Nack Requeues", func(t *testing.T) {
		group := contractID("group-nack")
		runID := contractID("run-nack")

		attempts := make(chan int, 4)
		sub, err := bp.Subscribe(ctx, group, func(ctx context.Context, msg domain.FrameMsg, d Delivery) {
			if msg.RunID != runID {
				_ = d.Ack(ctx)
				return
			}
			attempts <- d.Attempt()
			if d.Attempt() == 1 {
				assert.NoError(t, d.Nack(ctx, true))
				return
			}
			assert.NoError(t, d.Ack(ctx))
		})
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, bp.Publish(ctx, domain.NewFrameMsg(contractFrame(runID, 0), 0)))

		var seen []int
		for len(seen) < 2 {
			select {
			case a := <-attempts:
				seen = append(seen, a)
			case <-ctx.Done():
				t.Fatalf("expected redelivery, saw attempts %v", seen)
			}
		}
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("Competing Consumers Share A Group", func(t *testing.T) {
		group := contractID("group-compete")
		prefix := contractID("run-compete")
		const total = 10

		var mu sync.Mutex
		counts := make(map[string]int)
		done := make(chan struct{})
		handler := func(ctx context.Context, msg domain.FrameMsg, d Delivery) {
			_ = d.Ack(ctx)
			if !strings.HasPrefix(msg.RunID, prefix) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			counts[msg.RunID]++
			if len(counts) == total {
				select {
				case <-done:
				default:
					close(done)
				}
			}
		}

		sub1, err := bp.Subscribe(ctx, group, handler)
		require.NoError(t, err)
		defer sub1.Close()
		sub2, err := bp.Subscribe(ctx, group, handler)
		require.NoError(t, err)
		defer sub2.Close()

		for i := 0; i < total; i++ {
			runID := fmt.Sprintf("%s-%d", prefix, i)
			require.NoError(t, bp.Publish(ctx, domain.NewFrameMsg(contractFrame(runID, 0), 0)))
		}

		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("not all messages were delivered")
		}

		mu.Lock()
		defer mu.Unlock()
		for i := 0; i < total; i++ {
			assert.Equal(t, 1, counts[fmt.Sprintf("%s-%d", prefix, i)], "each message goes to one consumer of the group")
		}
	})
}
