package busgate

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// A ResponseSink receives the single finalized response of a
// [Transaction].
type ResponseSink interface {
	// WriteResponse delivers the response. It is called exactly once
	// per transaction, from whichever goroutine released the last
	// reference.
	WriteResponse(status int, body any)
}

// A Transaction accumulates the results of a fan-out across several
// concurrent bus calls and delivers exactly one response when the
// last of them completes.
//
// Begin hands the caller one reference. Each concurrent branch takes
// its own with [Transaction.Share] and drops it with
// [Transaction.Release] when its result has been recorded; the
// response is finalized when the count reaches zero. All recording
// methods are safe for concurrent use.
type Transaction struct {
	sink ResponseSink
	refs atomic.Int32

	mu         sync.Mutex
	data       any
	dataSet    bool
	failed     bool
	failStatus int
	failDesc   string
	fallback   bool
	fbStatus   int
	fbBody     any
	render     func(data any) (int, any)
}

// Begin starts a transaction whose finalized response goes to sink.
// The returned transaction holds one reference on behalf of the
// caller.
func Begin(sink ResponseSink) *Transaction {
	tx := &Transaction{sink: sink}
	tx.refs.Store(1)
	return tx
}

// Share takes an additional reference on the transaction. It must be
// called before the goroutine that will Release it is started, so
// that the count can never momentarily touch zero mid-flight.
func (tx *Transaction) Share() {
	if tx.refs.Add(1) <= 1 {
		panic("busgate: Share on a finalized transaction")
	}
}

// Release drops one reference. The reference count reaching zero
// finalizes the transaction and writes the response.
func (tx *Transaction) Release() {
	n := tx.refs.Add(-1)
	if n < 0 {
		panic("busgate: Release without matching Share")
	}
	if n == 0 {
		tx.finalize()
	}
}

// Fail records a failure outcome. The first failure recorded wins;
// later failures and any accumulated data are discarded when the
// response is written.
func (tx *Transaction) Fail(status int, description string) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.failed {
		return
	}
	tx.failed = true
	tx.failStatus = status
	tx.failDesc = description
}

// SetData replaces the transaction's accumulated data wholesale.
func (tx *Transaction) SetData(v any) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.data = v
	tx.dataSet = true
}

// Update runs fn against the transaction's data object, creating an
// empty object first if no data has been recorded yet. fn runs under
// the transaction lock and must not block.
func (tx *Transaction) Update(fn func(data map[string]any)) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	obj, ok := tx.data.(map[string]any)
	if !ok {
		obj = map[string]any{}
		tx.data = obj
	}
	tx.dataSet = true
	if fn != nil {
		fn(obj)
	}
}

// Append adds one element to the transaction's data array, creating
// an empty array first if no data has been recorded yet.
func (tx *Transaction) Append(v any) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	arr, _ := tx.data.([]any)
	tx.data = append(arr, v)
	tx.dataSet = true
}

// SetFallback records the response to write if the transaction
// finalizes without any failure and without any recorded data. The
// body is written as-is, without the usual envelope.
func (tx *Transaction) SetFallback(status int, body any) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.fallback = true
	tx.fbStatus = status
	tx.fbBody = body
}

// SetRender installs a custom rendering of the accumulated data,
// replacing the standard success envelope. It has no effect on
// failure responses.
func (tx *Transaction) SetRender(fn func(data any) (int, any)) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.render = fn
}

func (tx *Transaction) finalize() {
	// The count is zero, so no other goroutine can be touching the
	// transaction; the lock is not needed to read the outcome.
	switch {
	case tx.failed:
		tx.sink.WriteResponse(tx.failStatus, ErrorEnvelope(tx.failStatus, tx.failDesc))
	case !tx.dataSet && tx.fallback:
		tx.sink.WriteResponse(tx.fbStatus, tx.fbBody)
	case tx.render != nil:
		status, body := tx.render(tx.data)
		tx.sink.WriteResponse(status, body)
	default:
		tx.sink.WriteResponse(http.StatusOK, OKEnvelope(tx.data))
	}
}

// StatusMessage returns the conventional "code reason" rendering of
// an HTTP status, e.g. "404 Not Found".
func StatusMessage(status int) string {
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}

// OKEnvelope wraps data in the standard success response envelope.
func OKEnvelope(data any) map[string]any {
	return map[string]any{
		"status":  "ok",
		"message": StatusMessage(http.StatusOK),
		"data":    data,
	}
}

// ErrorEnvelope builds the standard error response envelope for an
// HTTP status and a human-readable description of the failure.
func ErrorEnvelope(status int, description string) map[string]any {
	return map[string]any{
		"status":  "error",
		"message": StatusMessage(status),
		"data":    map[string]any{"description": description},
	}
}
