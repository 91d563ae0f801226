/*
Package events is the in-process, post-commit pub/sub (component K).
Subscribers are untrusted: a panicking or slow handler must never affect
the engine, and must never see an event whose write was rolled back.
*/
package events

import (
	"fmt"
	"log"
	"sync"
)

// Topic names the standard events the engine emits.
type Topic string

const (
	InvoiceCreated          Topic = "INVOICE_CREATED"
	InvoiceUpdated          Topic = "INVOICE_UPDATED"
	InvoiceDeleted          Topic = "INVOICE_DELETED"
	InvoicePaymentReceived  Topic = "INVOICE_PAYMENT_RECEIVED"
	PaymentRecorded         Topic = "PAYMENT_RECORDED"
	CustomerBalanceUpdated  Topic = "CUSTOMER_BALANCE_UPDATED"
	CustomerLedgerUpdated   Topic = "CUSTOMER_LEDGER_UPDATED"
	StockUpdated            Topic = "STOCK_UPDATED"
	StockMovementCreated    Topic = "STOCK_MOVEMENT_CREATED"
	VendorPaymentCreated    Topic = "VENDOR_PAYMENT_CREATED"
	ProductCreated          Topic = "PRODUCT_CREATED"
	ProductUpdated          Topic = "PRODUCT_UPDATED"
	ProductDeleted          Topic = "PRODUCT_DELETED"
	ReturnCreated           Topic = "RETURN_CREATED"
)

// Event is the payload handed to subscribers. Data is a shallow, topic-
// specific map so subscribers in different packages don't need shared
// struct types.
type Event struct {
	Topic Topic
	Data  map[string]any
}

// Handler receives a committed event. It must not block for long and must
// not panic; Emitter recovers panics defensively but a recovering handler
// has already done its damage to whatever external system it was calling.
type Handler func(Event)

// Emitter is a simple synchronous fan-out bus. "Post-commit" is a calling
// convention, not something this type enforces: callers must only invoke
// Emit after their storage transaction has committed.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
	logger   *log.Logger
}

// New builds an Emitter. If logger is nil, subscriber panics/errors are
// logged through log.Default().
func New(logger *log.Logger) *Emitter {
	if logger == nil {
		logger = log.Default()
	}
	return &Emitter{handlers: make(map[Topic][]Handler), logger: logger}
}

// Subscribe registers h to be called whenever topic is emitted.
func (e *Emitter) Subscribe(topic Topic, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[topic] = append(e.handlers[topic], h)
}

// Emit fans a committed event out to every subscriber of its topic. A
// subscriber that panics or the call itself never affects the caller: the
// panic is recovered and logged, exactly like any other post-commit fault.
func (e *Emitter) Emit(topic Topic, data map[string]any) {
	e.mu.RLock()
	handlers := append([]Handler(nil), e.handlers[topic]...)
	e.mu.RUnlock()

	for _, h := range handlers {
		e.dispatch(topic, h, Event{Topic: topic, Data: data})
	}
}

func (e *Emitter) dispatch(topic Topic, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("events: subscriber to %s panicked: %v", topic, r)
		}
	}()
	h(ev)
}

func (e Event) String() string {
	return fmt.Sprintf("%s %v", e.Topic, e.Data)
}
