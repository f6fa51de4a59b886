// Package webhooks delivers committed ledger events to HTTP subscribers.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rentledger/rentledger/internal/eventlog"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-Rentledger-Signature"
	EventHeader     = "X-Rentledger-Event"
	DeliveryHeader  = "X-Rentledger-Delivery"

	maxAttempts = 3
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Delivery is the body POSTed to every subscriber.
type Delivery struct {
	ID    string          `json:"id"`
	Event *eventlog.Entry `json:"event"`
}

// Dispatcher fans committed entries out to a fixed set of URLs.
// It satisfies service.Notifier.
//
// Each URL is served by a single worker, so a subscriber receives entries
// one at a time in ascending Seq order. A delivery that exhausts its
// retries is skipped; subscribers detect the gap from Seq.
type Dispatcher struct {
	secret     []byte
	httpClient *http.Client
	retryWait  time.Duration // initial wait between attempts, doubled each retry
	onMetrics  MetricsRecorder
	logger     *zap.Logger

	subs    []*subscriber
	start   sync.Once
	mu      sync.Mutex // guards closed
	closed  bool
	pending sync.WaitGroup // queued or in-flight deliveries
	workers sync.WaitGroup
}

type job struct {
	ctx   context.Context
	id    string
	entry *eventlog.Entry
	body  []byte
}

// subscriber is the delivery queue of one URL, ordered by entry Seq.
type subscriber struct {
	url    string
	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
}

func (s *subscriber) push(j job) {
	s.mu.Lock()
	i := sort.Search(len(s.queue), func(i int) bool { return s.queue[i].entry.Seq > j.entry.Seq })
	s.queue = append(s.queue, job{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = j
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next blocks until a job is queued. It returns false once the queue is
// closed and drained.
func (s *subscriber) next() (job, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			j := s.queue[0]
			s.queue[0] = job{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return j, true
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return job{}, false
		}
		<-s.wake
	}
}

// NewDispatcher creates a Dispatcher. Deliveries are signed with secret;
// an empty secret sends unsigned requests.
func NewDispatcher(urls []string, secret string, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retryWait:  1 * time.Second,
		logger:     logger,
	}
	for _, url := range urls {
		d.subs = append(d.subs, &subscriber{url: url, wake: make(chan struct{}, 1)})
	}
	return d
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// SetRetryWait overrides the initial wait between attempts.
func (d *Dispatcher) SetRetryWait(wait time.Duration) {
	d.retryWait = wait
}

// Notify queues delivery of e to every URL and returns immediately.
// Delivery outlives ctx cancellation so a finished request does not abort it.
// Entries notified after Close are dropped.
func (d *Dispatcher) Notify(ctx context.Context, e *eventlog.Entry) {
	if len(d.subs) == 0 {
		return
	}

	delivery := Delivery{ID: uuid.NewString(), Event: e}
	body, err := json.Marshal(delivery)
	if err != nil {
		d.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("webhook: dispatcher closed, dropping event", zap.Uint64("seq", e.Seq))
		return
	}
	d.start.Do(d.startWorkers)

	j := job{ctx: context.WithoutCancel(ctx), id: delivery.ID, entry: e, body: body}
	for _, s := range d.subs {
		d.pending.Add(1)
		s.push(j)
	}
}

func (d *Dispatcher) startWorkers() {
	for _, s := range d.subs {
		d.workers.Add(1)
		go d.work(s)
	}
}

func (d *Dispatcher) work(s *subscriber) {
	defer d.workers.Done()
	for {
		j, ok := s.next()
		if !ok {
			return
		}
		d.deliver(j.ctx, s.url, j.id, j.entry.Type, j.body)
		d.pending.Done()
	}
}

// Wait blocks until every queued delivery has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close stops accepting entries, drains the queues and stops the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	for _, s := range d.subs {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.signal()
	}
	d.workers.Wait()
}

// deliver sends body to a single URL, retrying with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, url, id, eventType string, body []byte) {
	signature := Sign(body, d.secret)

	attempt := 0
	op := func() error {
		attempt++
		statusCode, err := d.post(ctx, url, id, eventType, body, signature)
		if d.onMetrics != nil {
			d.onMetrics(err == nil)
		}
		if err != nil {
			d.logger.Warn("webhook: delivery failed",
				zap.String("url", url),
				zap.String("event", eventType),
				zap.Int("attempt", attempt),
				zap.Int("status", statusCode),
				zap.Error(err),
			)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retryWait
	b.MaxElapsedTime = 0
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)); err != nil {
		d.logger.Error("webhook: giving up",
			zap.String("url", url),
			zap.String("event", eventType),
			zap.Int("attempts", attempt),
		)
	}
}

// post performs a single HTTP POST delivery.
func (d *Dispatcher) post(ctx context.Context, url, id, eventType string, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	req.Header.Set(DeliveryHeader, id)
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Sign computes the HMAC-SHA256 signature header value for body. It returns
// "" when secret is empty.
func Sign(body, secret []byte) string {
	if len(secret) == 0 {
		return ""
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the valid signature of body.
func Verify(body, secret []byte, signature string) bool {
	want := Sign(body, secret)
	return want != "" && hmac.Equal([]byte(want), []byte(signature))
}
