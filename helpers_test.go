package collate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/creastat/collate/core"
	"github.com/creastat/infra/telemetry"
	"github.com/stretchr/testify/mock"
)

// testingT is satisfied by *testing.T and *rapid.T
type testingT interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

func testLogger() telemetry.Logger {
	return telemetry.New(telemetry.Config{Level: "error"})
}

// streamRecord builds a record on stream host/path with the given unique value
func streamRecord(host, wo string, sku string) *core.Record {
	record := core.NewRecord()
	record.Set("host", host)
	record.Set("path", "/var/log/orders.log")
	record.Set("type", "orders")
	if wo != "" {
		record.Set("WONumber", wo)
	}
	record.Set("SKU", sku)
	return record
}

// MockStage forwards its input unchanged
type MockStage struct {
	name        string
	inputTypes  []core.EventType
	outputTypes []core.EventType
}

func (m *MockStage) Name() string {
	return m.name
}

func (m *MockStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	for event := range input {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case output <- event:
		}
	}
	return nil
}

func (m *MockStage) InputTypes() []core.EventType {
	return m.inputTypes
}

func (m *MockStage) OutputTypes() []core.EventType {
	return m.outputTypes
}

// FailingMockStage is a mock stage that fails after a delay
type FailingMockStage struct {
	name  string
	delay time.Duration
}

func (m *FailingMockStage) Name() string {
	return m.name
}

func (m *FailingMockStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	time.Sleep(m.delay)
	return errors.New("stage failed")
}

func (m *FailingMockStage) InputTypes() []core.EventType {
	return []core.EventType{}
}

func (m *FailingMockStage) OutputTypes() []core.EventType {
	return []core.EventType{}
}

// PanickingMockStage panics on its first event
type PanickingMockStage struct {
	name string
}

func (m *PanickingMockStage) Name() string {
	return m.name
}

func (m *PanickingMockStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	<-input
	panic("boom")
}

func (m *PanickingMockStage) InputTypes() []core.EventType {
	return []core.EventType{}
}

func (m *PanickingMockStage) OutputTypes() []core.EventType {
	return []core.EventType{}
}

// CollectingMockStage is a mock stage that collects all events it receives
type CollectingMockStage struct {
	name   string
	events []core.Event
	mu     sync.Mutex
}

func (m *CollectingMockStage) Name() string {
	return m.name
}

func (m *CollectingMockStage) Process(ctx context.Context, input <-chan core.Event, output chan<- core.Event) error {
	for event := range input {
		m.mu.Lock()
		m.events = append(m.events, event)
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case output <- event:
		}
	}
	return nil
}

func (m *CollectingMockStage) Events() []core.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Event(nil), m.events...)
}

func (m *CollectingMockStage) InputTypes() []core.EventType {
	return []core.EventType{}
}

func (m *CollectingMockStage) OutputTypes() []core.EventType {
	return []core.EventType{}
}

// MockFilter records calls to a core.Filter
type MockFilter struct{ mock.Mock }

func (m *MockFilter) Filter(record *core.Record) []*core.Record {
	args := m.Called(record)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*core.Record)
}

func (m *MockFilter) Flush(final bool) []*core.Record {
	args := m.Called(final)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*core.Record)
}

func (m *MockFilter) Threadsafe() bool {
	return m.Called().Bool(0)
}

// collect drains a closed channel
func collect(ch <-chan core.Event) []core.Event {
	var events []core.Event
	for event := range ch {
		events = append(events, event)
	}
	return events
}
