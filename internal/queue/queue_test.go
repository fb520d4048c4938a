package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueConsume(t *testing.T) {
	q, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Task, 2)
	done := make(chan error, 1)
	go func() {
		done <- q.Consume(ctx, func(_ context.Context, task Task) error {
			got <- task
			return nil
		})
	}()

	// gochannel drops messages published before a subscriber exists.
	want := Task{WorkflowID: "wf-1", UserID: "user-1", ExecutionID: "exec_1", ResumeNodeID: "send"}
	require.Eventually(t, func() bool {
		if err := q.Enqueue(ctx, want); err != nil {
			return false
		}
		select {
		case task := <-got:
			assert.Equal(t, want, task)
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestQueue_SubscribeKeepsEarlyTasks(t *testing.T) {
	q, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Subscribe(ctx))
	require.NoError(t, q.Subscribe(ctx), "a second Subscribe reuses the subscription")

	want := Task{WorkflowID: "wf-1", UserID: "user-1", ExecutionID: "exec_early"}
	require.NoError(t, q.Enqueue(ctx, want))

	got := make(chan Task, 1)
	go func() {
		_ = q.Consume(ctx, func(_ context.Context, task Task) error {
			got <- task
			return nil
		})
	}()

	select {
	case task := <-got:
		assert.Equal(t, want, task)
	case <-time.After(2 * time.Second):
		t.Fatal("task enqueued before Consume was lost")
	}
}

func TestQueue_EnqueueRequiresWorkflow(t *testing.T) {
	q, err := New(Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	assert.Error(t, q.Enqueue(context.Background(), Task{UserID: "user-1"}))
}

func TestNew_Backends(t *testing.T) {
	_, err := New(Config{Backend: "carrier-pigeon"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendKafka}, nil)
	assert.ErrorContains(t, err, "broker")
}

func TestDecodeTask(t *testing.T) {
	msg, err := encodeTask(Task{WorkflowID: "wf-1", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, "wf-1", msg.Metadata.Get(metadataWorkflowID))

	task, err := decodeTask(msg)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", task.WorkflowID)

	_, err = decodeTask(message.NewMessage("m1", []byte("not json")))
	assert.Error(t, err)

	_, err = decodeTask(message.NewMessage("m2", []byte(`{"user_id":"u"}`)))
	assert.Error(t, err)
}

type fakePubSub struct {
	mu        sync.Mutex
	published []*message.Message
	closed    int
}

func (f *fakePubSub) Publish(_ string, msgs ...*message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msgs...)
	return nil
}

func (f *fakePubSub) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}

func (f *fakePubSub) Close() error {
	f.closed++
	return nil
}

func TestQueue_CloseSharedPubSubOnce(t *testing.T) {
	ps := &fakePubSub{}
	q := NewWithPubSub(ps, ps, "", nil)

	require.NoError(t, q.Enqueue(context.Background(), Task{WorkflowID: "wf"}))
	require.Len(t, ps.published, 1)

	require.NoError(t, q.Close())
	assert.Equal(t, 1, ps.closed)
}
