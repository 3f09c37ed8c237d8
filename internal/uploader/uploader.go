// Package uploader runs a bounded FIFO queue and a single background
// worker that msgpack-encodes archive records and hands them to a
// RESTful Client.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/wx-tools/vantaged/internal/engine"
	"github.com/wx-tools/vantaged/internal/types"
)

// Client is the RESTful interface a Queue drains payloads into. The
// default implementation posts msgpack-encoded bodies over net/http;
// tests and alternate backends substitute their own.
type Client interface {
	Upload(ctx context.Context, payload []byte) error
}

// HTTPClient is the default Client: an HTTP POST of the msgpack-encoded
// payload to Endpoint, with APIKey sent as a bearer token when set.
type HTTPClient struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
}

// Upload POSTs payload to c.Endpoint.
func (c *HTTPClient) Upload(ctx context.Context, payload []byte) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/msgpack")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("uploader: upload rejected with status %s", resp.Status)
	}
	return nil
}

// Queue is a bounded FIFO of archive records draining through one
// background worker into a Client. It implements engine.Service so the
// engine can feed it NewArchivePacket calls directly; it never reports a
// resume timestamp of its own (it isn't the archive of record).
type Queue struct {
	engine.ServiceBase

	client   Client
	logger   *zap.SugaredLogger
	capacity int

	mu       sync.Mutex
	items    []types.ArchiveRecord
	notEmpty chan struct{}

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	doneCh       chan struct{}
}

// NewQueue builds a Queue with the given bound on pending payloads.
// capacity <= 0 defaults to 256.
func NewQueue(client Client, logger *zap.SugaredLogger, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		client:     client,
		logger:     logger,
		capacity:   capacity,
		notEmpty:   make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Setup starts the background drain worker.
func (q *Queue) Setup(ctx context.Context) error {
	go q.run(ctx)
	return nil
}

// NewArchivePacket enqueues rec, dropping the oldest pending record if
// the queue is at capacity rather than blocking the engine's event pump.
func (q *Queue) NewArchivePacket(ctx context.Context, rec types.ArchiveRecord) error {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.logger.Warnw("upload queue full, dropping oldest pending record", "dropped_time", dropped.DateTime)
	}
	q.items = append(q.items, rec)
	q.mu.Unlock()

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return nil
}

// ShutDown signals the worker to drain and exit, waiting up to 20
// seconds, after which remaining items are abandoned.
func (q *Queue) ShutDown(ctx context.Context) {
	q.shutdownOnce.Do(func() { close(q.shutdownCh) })
	select {
	case <-q.doneCh:
	case <-time.After(20 * time.Second):
		q.logger.Warn("upload queue worker did not drain within 20s, abandoning remaining items")
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.doneCh)
	for {
		rec, ok := q.pop()
		if ok {
			q.upload(ctx, rec)
			continue
		}
		select {
		case <-q.notEmpty:
		case <-q.shutdownCh:
			q.drainRemaining(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (q *Queue) drainRemaining(ctx context.Context) {
	for {
		rec, ok := q.pop()
		if !ok {
			return
		}
		q.upload(ctx, rec)
	}
}

func (q *Queue) pop() (types.ArchiveRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return types.ArchiveRecord{}, false
	}
	rec := q.items[0]
	q.items = q.items[1:]
	return rec, true
}

func (q *Queue) upload(ctx context.Context, rec types.ArchiveRecord) {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		q.logger.Errorw("failed to encode archive record for upload", "error", err)
		return
	}
	if err := q.client.Upload(ctx, payload); err != nil {
		q.logger.Errorw("upload failed, record dropped", "error", err, "date_time", rec.DateTime)
	}
}

var _ engine.Service = (*Queue)(nil)
