package uploader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/wx-tools/vantaged/internal/types"
)

type fakeClient struct {
	mu       sync.Mutex
	received []types.ArchiveRecord
	failNext int
}

func (f *fakeClient) Upload(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("fakeClient: simulated failure")
	}
	var rec types.ArchiveRecord
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return err
	}
	f.received = append(f.received, rec)
	return nil
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestQueueDeliversEnqueuedRecords(t *testing.T) {
	client := &fakeClient{}
	q := NewQueue(client, testLogger(), 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	now := time.Now()
	if err := q.NewArchivePacket(ctx, types.ArchiveRecord{DateTime: now}); err != nil {
		t.Fatalf("NewArchivePacket: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return client.count() == 1 })
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	client := &fakeClient{}
	q := NewQueue(client, testLogger(), 2)

	base := time.Now()
	q.mu.Lock()
	q.items = append(q.items,
		types.ArchiveRecord{DateTime: base},
		types.ArchiveRecord{DateTime: base.Add(time.Minute)},
	)
	q.mu.Unlock()

	if err := q.NewArchivePacket(context.Background(), types.ArchiveRecord{DateTime: base.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("NewArchivePacket: %v", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) != 2 {
		t.Fatalf("len(items) = %d, want 2 (bounded at capacity)", len(q.items))
	}
	if q.items[0].DateTime != base.Add(time.Minute) {
		t.Errorf("items[0].DateTime = %v, want the second-oldest record (oldest dropped)", q.items[0].DateTime)
	}
}

func TestQueueShutDownDrainsPending(t *testing.T) {
	client := &fakeClient{}
	q := NewQueue(client, testLogger(), 10)
	ctx := context.Background()
	if err := q.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := q.NewArchivePacket(ctx, types.ArchiveRecord{DateTime: time.Now().Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("NewArchivePacket: %v", err)
		}
	}

	q.ShutDown(ctx)

	if got := client.count(); got != 5 {
		t.Errorf("client received %d records after ShutDown, want 5", got)
	}
}

func TestQueueDefaultsCapacity(t *testing.T) {
	q := NewQueue(&fakeClient{}, testLogger(), 0)
	if q.capacity != 256 {
		t.Errorf("capacity = %d, want 256 default", q.capacity)
	}
	q = NewQueue(&fakeClient{}, testLogger(), -5)
	if q.capacity != 256 {
		t.Errorf("capacity = %d, want 256 default for a negative input", q.capacity)
	}
}

func TestHTTPClientUploadAttemptsRequest(t *testing.T) {
	// Exercises the request-construction path without a real server: an
	// invalid endpoint is enough to confirm Upload builds and attempts the
	// request rather than panicking on nil fields.
	c := &HTTPClient{Endpoint: "http://127.0.0.1:0", APIKey: "secret"}
	err := c.Upload(context.Background(), []byte("payload"))
	if err == nil {
		t.Fatal("Upload to a closed port: want a connection error, got nil")
	}
}
