package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PersistenceEventType names an event emitted by the mapper.
type PersistenceEventType string

const (
	DocumentQueryStart   PersistenceEventType = "document:query:start"
	DocumentQuerySuccess PersistenceEventType = "document:query:success"
	DocumentQueryFailed  PersistenceEventType = "document:query:failed"

	DocumentInsertStart   PersistenceEventType = "document:insert:start"
	DocumentInsertSuccess PersistenceEventType = "document:insert:success"
	DocumentInsertFailed  PersistenceEventType = "document:insert:failed"

	DocumentUpdateStart   PersistenceEventType = "document:update:start"
	DocumentUpdateSuccess PersistenceEventType = "document:update:success"
	DocumentUpdateFailed  PersistenceEventType = "document:update:failed"

	DocumentDeleteStart   PersistenceEventType = "document:delete:start"
	DocumentDeleteSuccess PersistenceEventType = "document:delete:success"
	DocumentDeleteFailed  PersistenceEventType = "document:delete:failed"

	DocumentGetStart   PersistenceEventType = "document:get:start"
	DocumentGetSuccess PersistenceEventType = "document:get:success"
	DocumentGetFailed  PersistenceEventType = "document:get:failed"

	DocumentUpdateByIDStart   PersistenceEventType = "document:update-by-id:start"
	DocumentUpdateByIDSuccess PersistenceEventType = "document:update-by-id:success"
	DocumentUpdateByIDFailed  PersistenceEventType = "document:update-by-id:failed"

	DocumentDeleteByIDStart   PersistenceEventType = "document:delete-by-id:start"
	DocumentDeleteByIDSuccess PersistenceEventType = "document:delete-by-id:success"
	DocumentDeleteByIDFailed  PersistenceEventType = "document:delete-by-id:failed"

	SubscriptionRegister   PersistenceEventType = "subscription:register"
	SubscriptionUnregister PersistenceEventType = "subscription:unregister"
)

// operation groups the three events of one mapper operation.
type operation struct {
	name    string
	start   PersistenceEventType
	success PersistenceEventType
	failed  PersistenceEventType
}

var (
	opQuery      = operation{"query", DocumentQueryStart, DocumentQuerySuccess, DocumentQueryFailed}
	opInsert     = operation{"insert", DocumentInsertStart, DocumentInsertSuccess, DocumentInsertFailed}
	opUpdate     = operation{"update", DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed}
	opDelete     = operation{"delete", DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed}
	opGet        = operation{"get", DocumentGetStart, DocumentGetSuccess, DocumentGetFailed}
	opUpdateByID = operation{"update-by-id", DocumentUpdateByIDStart, DocumentUpdateByIDSuccess, DocumentUpdateByIDFailed}
	opDeleteByID = operation{"delete-by-id", DocumentDeleteByIDStart, DocumentDeleteByIDSuccess, DocumentDeleteByIDFailed}

	operations = []operation{opQuery, opInsert, opUpdate, opDelete, opGet, opUpdateByID, opDeleteByID}
)

// OutcomeEventTypes returns the success and failure event types of every
// mapper operation.
func OutcomeEventTypes() []PersistenceEventType {
	out := make([]PersistenceEventType, 0, 2*len(operations))
	for _, op := range operations {
		out = append(out, op.success, op.failed)
	}
	return out
}

// PersistenceEvent is emitted around every mapper operation.
type PersistenceEvent struct {
	Type       PersistenceEventType `json:"type"`
	Timestamp  int64                `json:"timestamp"` // Unix milliseconds.
	Operation  string               `json:"operation"`
	Collection *string              `json:"collection,omitempty"`
	Input      any                  `json:"input,omitempty"`
	Output     any                  `json:"output,omitempty"`
	Error      *string              `json:"error,omitempty"`
	Query      any                  `json:"query,omitempty"`
	Duration   *int64               `json:"duration,omitempty"` // Milliseconds.
	Context    map[string]any       `json:"context,omitempty"`
}

// EventCallbackFunction receives mapper events. Its error is logged and
// otherwise ignored.
type EventCallbackFunction func(ctx context.Context, event PersistenceEvent) error

// SubscriptionInfo describes a registered subscription.
type SubscriptionInfo struct {
	ID          string               `json:"id"`
	Event       PersistenceEventType `json:"event"`
	Label       *string              `json:"label,omitempty"`
	Description *string              `json:"description,omitempty"`
	Unsubscribe func()               `json:"-"`
}

// RegisterSubscriptionOptions defines options for registering a subscription.
type RegisterSubscriptionOptions struct {
	Event       PersistenceEventType `json:"event"`
	Label       *string              `json:"label,omitempty"`
	Description *string              `json:"description,omitempty"`
	Callback    EventCallbackFunction
}

func createEvent(
	eventType PersistenceEventType,
	operation string,
	collectionName string,
	input any,
	output any,
	query any,
	err *string,
	startTime time.Time,
) PersistenceEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	var collection *string
	if collectionName != "" {
		collection = &collectionName
	}

	return PersistenceEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: collection,
		Input:      input,
		Output:     output,
		Error:      err,
		Query:      query,
		Duration:   duration,
	}
}

func (m *Mapper) emitEvent(event PersistenceEvent) {
	if m.bus != nil {
		m.bus.Emit(string(event.Type), event)
	}
}

// withEventEmission wraps an operation with start, success and failure events.
func withEventEmission[T any](
	m *Mapper,
	op operation,
	collection string,
	input any,
	queryParam any,
	fn func() (T, error),
) (T, error) {
	startTime := time.Now()
	m.emitEvent(createEvent(op.start, op.name, collection, input, nil, queryParam, nil, startTime))

	result, err := fn()
	if err != nil {
		errStr := err.Error()
		m.emitEvent(createEvent(op.failed, op.name, collection, input, nil, queryParam, &errStr, startTime))
		m.logger.Debug("Operation failed",
			zap.String("operation", op.name),
			zap.String("collection", collection),
			zap.Error(err))
		var zero T
		return zero, err
	}

	m.emitEvent(createEvent(op.success, op.name, collection, input, result, queryParam, nil, startTime))
	return result, nil
}

// RegisterSubscription subscribes a callback to one event type and returns
// the subscription id.
func (m *Mapper) RegisterSubscription(options RegisterSubscriptionOptions) string {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	callback := options.Callback
	event := options.Event
	unsubscribe := m.bus.Subscribe(string(event), func(ctx context.Context, e PersistenceEvent) error {
		if err := callback(ctx, e); err != nil {
			m.logger.Warn("Event subscriber failed", zap.String("event", string(event)), zap.Error(err))
		}
		return nil
	})

	id := uuid.NewString()
	m.subscriptions[id] = &SubscriptionInfo{
		ID:          id,
		Event:       event,
		Label:       options.Label,
		Description: options.Description,
		Unsubscribe: unsubscribe,
	}

	m.emitEvent(createEvent(SubscriptionRegister, "register_subscription", "",
		map[string]any{"event": event, "label": options.Label, "description": options.Description},
		map[string]any{"subscriptionId": id}, nil, nil, time.Time{}))
	return id
}

// UnregisterSubscription removes a subscription. Unknown ids are ignored.
func (m *Mapper) UnregisterSubscription(id string) {
	m.subMu.Lock()
	info := m.subscriptions[id]
	if info != nil {
		info.Unsubscribe()
		delete(m.subscriptions, id)
	}
	m.subMu.Unlock()

	if info != nil {
		m.emitEvent(createEvent(SubscriptionUnregister, "unregister_subscription", "",
			map[string]any{"subscriptionId": id}, nil, nil, nil, time.Time{}))
	}
}

// Subscriptions returns all registered subscriptions.
func (m *Mapper) Subscriptions() ([]SubscriptionInfo, error) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	out := make([]SubscriptionInfo, 0, len(m.subscriptions))
	for _, info := range m.subscriptions {
		out = append(out, *info)
	}
	return out, nil
}
