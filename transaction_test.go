package busgate

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testSink struct {
	done   chan struct{}
	writes atomic.Int32
	status int
	body   any
}

func newTestSink() *testSink {
	return &testSink{done: make(chan struct{})}
}

func (s *testSink) WriteResponse(status int, body any) {
	s.writes.Add(1)
	s.status = status
	s.body = body
	close(s.done)
}

func (s *testSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		t.Fatal("transaction never finalized")
	}
}

func TestTransactionFinalizesOnce(t *testing.T) {
	const workers = 50

	sink := newTestSink()
	tx := Begin(sink)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		tx.Share()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx.Update(func(data map[string]any) {
				data["x"] = i
			})
			tx.Release()
		}(i)
	}
	tx.Release()

	wg.Wait()
	sink.wait(t)
	if got := sink.writes.Load(); got != 1 {
		t.Errorf("sink written %d times, want 1", got)
	}
	if sink.status != http.StatusOK {
		t.Errorf("status = %d, want %d", sink.status, http.StatusOK)
	}
}

func TestTransactionZeroShares(t *testing.T) {
	sink := newTestSink()
	tx := Begin(sink)
	tx.SetData("hello")
	tx.Release()

	sink.wait(t)
	want := map[string]any{
		"status":  "ok",
		"message": "200 OK",
		"data":    "hello",
	}
	if diff := cmp.Diff(sink.body, want); diff != "" {
		t.Errorf("body diff (-got+want):\n%s", diff)
	}
}

func TestTransactionFirstFailureWins(t *testing.T) {
	sink := newTestSink()
	tx := Begin(sink)
	tx.SetData("ignored")
	tx.Fail(http.StatusNotFound, "first")
	tx.Fail(http.StatusInternalServerError, "second")
	tx.Release()

	sink.wait(t)
	if sink.status != http.StatusNotFound {
		t.Errorf("status = %d, want %d", sink.status, http.StatusNotFound)
	}
	want := map[string]any{
		"status":  "error",
		"message": "404 Not Found",
		"data":    map[string]any{"description": "first"},
	}
	if diff := cmp.Diff(sink.body, want); diff != "" {
		t.Errorf("body diff (-got+want):\n%s", diff)
	}
}

func TestTransactionFailureUnderConcurrency(t *testing.T) {
	const workers = 20

	sink := newTestSink()
	tx := Begin(sink)
	for i := 0; i < workers; i++ {
		tx.Share()
		go func(i int) {
			if i%2 == 0 {
				tx.Fail(http.StatusBadGateway, "boom")
			} else {
				tx.SetData(i)
			}
			tx.Release()
		}(i)
	}
	tx.Release()

	sink.wait(t)
	if got := sink.writes.Load(); got != 1 {
		t.Errorf("sink written %d times, want 1", got)
	}
	if sink.status != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", sink.status, http.StatusBadGateway)
	}
}

func TestTransactionFallback(t *testing.T) {
	sink := newTestSink()
	tx := Begin(sink)
	tx.SetFallback(http.StatusNotFound, "nothing here")
	tx.Release()

	sink.wait(t)
	if sink.status != http.StatusNotFound {
		t.Errorf("status = %d, want %d", sink.status, http.StatusNotFound)
	}
	if sink.body != "nothing here" {
		t.Errorf("body = %v, want fallback body", sink.body)
	}
}

func TestTransactionFallbackIgnoredWithData(t *testing.T) {
	sink := newTestSink()
	tx := Begin(sink)
	tx.SetFallback(http.StatusNotFound, "nothing here")
	tx.SetData(42)
	tx.Release()

	sink.wait(t)
	if sink.status != http.StatusOK {
		t.Errorf("status = %d, want %d", sink.status, http.StatusOK)
	}
}

func TestTransactionRender(t *testing.T) {
	sink := newTestSink()
	tx := Begin(sink)
	tx.SetData([]any{"a"})
	tx.SetRender(func(data any) (int, any) {
		return http.StatusOK, map[string]any{"objects": data}
	})
	tx.Release()

	sink.wait(t)
	want := map[string]any{"objects": []any{"a"}}
	if diff := cmp.Diff(sink.body, want); diff != "" {
		t.Errorf("body diff (-got+want):\n%s", diff)
	}
}

func TestTransactionAppend(t *testing.T) {
	sink := newTestSink()
	tx := Begin(sink)
	tx.Append("a")
	tx.Append("b")
	tx.Release()

	sink.wait(t)
	want := map[string]any{
		"status":  "ok",
		"message": "200 OK",
		"data":    []any{"a", "b"},
	}
	if diff := cmp.Diff(sink.body, want); diff != "" {
		t.Errorf("body diff (-got+want):\n%s", diff)
	}
}

func TestTransactionReleasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("extra Release did not panic")
		}
	}()
	tx := Begin(newTestSink())
	tx.Release()
	tx.Release()
}
