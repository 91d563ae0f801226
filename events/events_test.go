package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitFansOutToAllSubscribers(t *testing.T) {
	e := New(nil)
	var mu sync.Mutex
	var seen []string

	e.Subscribe(InvoiceCreated, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "a")
	})
	e.Subscribe(InvoiceCreated, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, "b")
	})

	e.Emit(InvoiceCreated, map[string]any{"invoice_id": int64(1)})

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestEmitOnlyReachesMatchingTopic(t *testing.T) {
	e := New(nil)
	called := false
	e.Subscribe(InvoiceCreated, func(ev Event) { called = true })
	e.Emit(PaymentRecorded, map[string]any{})
	assert.False(t, called)
}

func TestSubscriberPanicIsRecovered(t *testing.T) {
	e := New(nil)
	e.Subscribe(InvoiceCreated, func(ev Event) { panic("boom") })
	after := false
	e.Subscribe(InvoiceCreated, func(ev Event) { after = true })

	assert.NotPanics(t, func() {
		e.Emit(InvoiceCreated, map[string]any{})
	})
	assert.True(t, after)
}
