package webhooks_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rentledger/rentledger/internal/eventlog"
	"github.com/rentledger/rentledger/internal/webhooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const secret = "whsec-test"

func sampleEntry(t *testing.T) *eventlog.Entry {
	t.Helper()
	e, err := eventlog.Seal(nil, 1_700_000_000, "rent.paid", 3, map[string]any{"amount": 100})
	require.NoError(t, err)
	return e
}

type capture struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
}

func (c *capture) handler(status func(n int) int) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status(int(n.Add(1))))
	}
}

func TestDispatcher_deliversSignedEntry(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(func(int) int { return http.StatusNoContent }))
	defer srv.Close()

	var outcomes []bool
	var mu sync.Mutex
	d := webhooks.NewDispatcher([]string{srv.URL}, secret, zap.NewNop())
	d.SetMetricsRecorder(func(ok bool) {
		mu.Lock()
		outcomes = append(outcomes, ok)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	entry := sampleEntry(t)
	d.Notify(ctx, entry)
	cancel() // delivery must survive the caller's context
	d.Wait()

	require.Len(t, got.bodies, 1)
	h := got.headers[0]
	assert.Equal(t, "rent.paid", h.Get(webhooks.EventHeader))
	assert.NotEmpty(t, h.Get(webhooks.DeliveryHeader))
	assert.True(t, webhooks.Verify(got.bodies[0], []byte(secret), h.Get(webhooks.SignatureHeader)))

	var delivery webhooks.Delivery
	require.NoError(t, json.Unmarshal(got.bodies[0], &delivery))
	assert.Equal(t, h.Get(webhooks.DeliveryHeader), delivery.ID)
	assert.Equal(t, entry.Hash, delivery.Event.Hash)
	assert.Equal(t, []bool{true}, outcomes)
}

func TestDispatcher_retriesThenSucceeds(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(func(n int) int {
		if n < 3 {
			return http.StatusServiceUnavailable
		}
		return http.StatusOK
	}))
	defer srv.Close()

	var failures, successes atomic.Int32
	d := webhooks.NewDispatcher([]string{srv.URL}, secret, zap.NewNop())
	d.SetRetryWait(time.Millisecond)
	d.SetMetricsRecorder(func(ok bool) {
		if ok {
			successes.Add(1)
		} else {
			failures.Add(1)
		}
	})

	d.Notify(context.Background(), sampleEntry(t))
	d.Wait()

	assert.Len(t, got.bodies, 3)
	assert.EqualValues(t, 2, failures.Load())
	assert.EqualValues(t, 1, successes.Load())
}

func TestDispatcher_givesUpAfterThreeAttempts(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(func(int) int { return http.StatusInternalServerError }))
	defer srv.Close()

	d := webhooks.NewDispatcher([]string{srv.URL}, secret, zap.NewNop())
	d.SetRetryWait(time.Millisecond)
	d.Notify(context.Background(), sampleEntry(t))
	d.Wait()

	assert.Len(t, got.bodies, 3)
}

func TestDispatcher_fansOutToEveryURL(t *testing.T) {
	var a, b capture
	srvA := httptest.NewServer(a.handler(func(int) int { return http.StatusOK }))
	defer srvA.Close()
	srvB := httptest.NewServer(b.handler(func(int) int { return http.StatusOK }))
	defer srvB.Close()

	d := webhooks.NewDispatcher([]string{srvA.URL, srvB.URL}, "", zap.NewNop())
	d.Notify(context.Background(), sampleEntry(t))
	d.Wait()

	require.Len(t, a.bodies, 1)
	require.Len(t, b.bodies, 1)
	assert.Empty(t, a.headers[0].Get(webhooks.SignatureHeader), "no secret means unsigned")
}

func TestDispatcher_noURLs(t *testing.T) {
	d := webhooks.NewDispatcher(nil, secret, zap.NewNop())
	d.Notify(context.Background(), sampleEntry(t))
	d.Wait()
}

func TestVerify(t *testing.T) {
	body := []byte(`{"id":"x"}`)
	sig := webhooks.Sign(body, []byte(secret))

	assert.True(t, webhooks.Verify(body, []byte(secret), sig))
	assert.False(t, webhooks.Verify(body, []byte("other"), sig))
	assert.False(t, webhooks.Verify([]byte(`{"id":"y"}`), []byte(secret), sig))
	assert.False(t, webhooks.Verify(body, nil, ""))
}

func chain(t *testing.T, n int) []*eventlog.Entry {
	t.Helper()
	var prev *eventlog.Entry
	entries := make([]*eventlog.Entry, 0, n)
	for i := range n {
		e, err := eventlog.Seal(prev, 1_700_000_000+int64(i), "rent.paid", 3, map[string]any{"n": i})
		require.NoError(t, err)
		entries = append(entries, e)
		prev = e
	}
	return entries
}

func TestDispatcher_deliversInSeqOrderOneAtATime(t *testing.T) {
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	var mu sync.Mutex
	var seqs []uint64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		var delivery webhooks.Delivery
		_ = json.NewDecoder(r.Body).Decode(&delivery)
		mu.Lock()
		seqs = append(seqs, delivery.Event.Seq)
		first := len(seqs) == 1
		mu.Unlock()
		if first {
			<-release
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := webhooks.NewDispatcher([]string{srv.URL}, secret, zap.NewNop())
	defer d.Close()

	entries := chain(t, 4)
	d.Notify(context.Background(), entries[0])
	// Later entries arrive out of order while the first is still in flight.
	d.Notify(context.Background(), entries[3])
	d.Notify(context.Background(), entries[1])
	d.Notify(context.Background(), entries[2])
	close(release)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{0, 1, 2, 3}, seqs)
	assert.EqualValues(t, 1, maxInFlight.Load())
}

func TestDispatcher_closeDrainsThenDrops(t *testing.T) {
	var got capture
	srv := httptest.NewServer(got.handler(func(int) int { return http.StatusOK }))
	defer srv.Close()

	d := webhooks.NewDispatcher([]string{srv.URL}, secret, zap.NewNop())
	entries := chain(t, 3)
	d.Notify(context.Background(), entries[0])
	d.Notify(context.Background(), entries[1])
	d.Close()
	require.Len(t, got.bodies, 2, "queued entries are delivered before Close returns")

	d.Notify(context.Background(), entries[2])
	d.Wait()
	assert.Len(t, got.bodies, 2, "entries after Close are dropped")
}

func TestDispatcher_closeWithoutNotify(t *testing.T) {
	d := webhooks.NewDispatcher([]string{"http://127.0.0.1:1"}, secret, zap.NewNop())
	d.Close()
	d.Wait()
}
