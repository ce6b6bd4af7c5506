// Package messagebus implements the in-process, topic-based publish/
// subscribe broker every module runs against: type-registration per
// topic, best-effort translation of mismatched types, and synchronous,
// subscription-ordered delivery.
//
// Publish to a topic with no subscribers fails, as does a type mismatch
// that translation can't bridge. There is no retry or backoff machinery:
// delivery is synchronous and one-shot.
package messagebus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eidolon/eidolon/internal/domain"
	"github.com/eidolon/eidolon/internal/logging"
	"github.com/eidolon/eidolon/internal/metrics"
	"github.com/eidolon/eidolon/internal/observability"
	"github.com/eidolon/eidolon/internal/translator"
)

// ErrNoSubscribers is returned by Publish when a topic has no subscribers.
var ErrNoSubscribers = errors.New("messagebus: no subscribers for topic")

// ErrTypeMismatch is returned by Publish when a value's runtime type
// fails both the declared-type check and translation.
var ErrTypeMismatch = errors.New("messagebus: type mismatch")

// ErrWireConflict is returned when two producers register the same
// output topic with different declared types.
var ErrWireConflict = errors.New("messagebus: conflicting declared type for topic")

// Subscriber receives envelopes delivered for a topic it subscribed to.
// Implementations must not block for long: heavy work belongs in a
// module's RunIteration, triggered via the reactive input-received flag
// (see internal/module), not inline here.
type Subscriber func(ctx context.Context, env domain.Envelope) error

type outputReg struct {
	typeString   string
	description  string
	sourceModule string
}

type inputReg struct {
	typeString string
	description string
	module      string
}

type subscription struct {
	callback     Subscriber
	expectedType string
	module       string
}

// Bus is a single in-process topic broker shared read-only by every
// running module once wiring completes (see internal/engine). All
// mutation happens during the wiring phase; publish-time access to the
// subscriber/type tables only needs the mutex because wiring and
// publishing can, in principle, interleave during dry-run validation.
type Bus struct {
	mu          sync.RWMutex
	outputs     map[string]outputReg
	inputs      map[string]inputReg
	subscribers map[string][]subscription
	translator  *translator.Translator
	warnOnEmpty bool
}

// New constructs an empty Bus. tr may be nil, in which case values that
// don't already satisfy a topic's declared type always fail translation.
func New(tr *translator.Translator, warnOnEmpty bool) *Bus {
	return &Bus{
		outputs:     make(map[string]outputReg),
		inputs:      make(map[string]inputReg),
		subscribers: make(map[string][]subscription),
		translator:  tr,
		warnOnEmpty: warnOnEmpty,
	}
}

// RegisterOutput declares that sourceModule produces topic with the
// given type. A topic may have at most one registered declared type;
// a second producer registering the same topic with a different type
// is a wiring conflict.
func (b *Bus) RegisterOutput(topic, typeString, description, sourceModule string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.outputs[topic]; ok && existing.typeString != typeString {
		return fmt.Errorf("%w: topic %q declared as %q by %q, now %q by %q",
			ErrWireConflict, topic, existing.typeString, existing.sourceModule, typeString, sourceModule)
	}
	b.outputs[topic] = outputReg{typeString: typeString, description: description, sourceModule: sourceModule}
	return nil
}

// RegisterInput records the expected type a subscriber declares for a
// topic (the latest call per topic wins). The record is bookkeeping
// only: delivery and translation use the expected type given to
// Subscribe.
func (b *Bus) RegisterInput(topic, typeString, description, subscriberModule string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs[topic] = inputReg{typeString: typeString, description: description, module: subscriberModule}
}

// Subscribe appends callback to topic's subscriber list. Duplicate
// (topic, callback) pairs are never deduplicated: a second identical
// subscription delivers twice.
func (b *Bus) Subscribe(topic string, module string, callback Subscriber, expectedType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing := b.subscribers[topic]
	if expectedType != "" {
		for _, s := range existing {
			if s.expectedType != "" && s.expectedType != expectedType {
				return fmt.Errorf("%w: topic %q subscriber %q expects %q, conflicts with existing %q",
					ErrWireConflict, topic, module, expectedType, s.expectedType)
			}
		}
	}
	b.subscribers[topic] = append(existing, subscription{callback: callback, expectedType: expectedType, module: module})
	return nil
}

// DeclaredType returns the registered producer type for topic, if any.
func (b *Bus) DeclaredType(topic string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.outputs[topic]
	return reg.typeString, ok
}

// Publish delivers data to every subscriber of topic, in subscription
// order, synchronously: Publish does not return until every subscriber's
// callback has returned.
func (b *Bus) Publish(ctx context.Context, topic string, data any) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[topic]...)
	declared, hasDeclared := b.outputs[topic]
	b.mu.RUnlock()

	if len(subs) == 0 {
		metrics.Global().RecordPublish(topic, declared.sourceModule, 0, false)
		return fmt.Errorf("%w: topic %q", ErrNoSubscribers, topic)
	}

	ctx, span := observability.StartSpan(ctx, "bus.publish",
		observability.AttrTopic.String(topic),
		observability.AttrModuleName.String(declared.sourceModule),
	)
	defer span.End()

	dataType := translator.RuntimeTypeName(data)
	if hasDeclared && !b.satisfiesType(data, declared.typeString) {
		converted, ok := b.convert(data, dataType, declared.typeString)
		metrics.Global().RecordTranslation(dataType, declared.typeString, ok)
		if !ok {
			metrics.Global().RecordPublish(topic, declared.sourceModule, 0, false)
			observability.SetSpanError(span, ErrTypeMismatch)
			return fmt.Errorf("%w: topic %q expects %q", ErrTypeMismatch, topic, declared.typeString)
		}
		data = converted
	}
	if hasDeclared && declared.typeString != "" && declared.typeString != "Any" {
		dataType = declared.typeString
	}

	if b.warnOnEmpty && isEmpty(data) {
		logging.Op().Warn("empty payload published", "topic", topic)
	}

	tc := observability.ExtractTraceContext(ctx)
	env := domain.Envelope{
		Topic:         topic,
		Data:          data,
		DataType:      dataType,
		CorrelationID: uuid.NewString(),
		PublishedAt:   time.Now(),
		TraceParent:   tc.TraceParent,
		TraceState:    tc.TraceState,
	}
	if hasDeclared {
		env.SourceModule = declared.sourceModule
	}

	for _, s := range subs {
		deliverEnv := env
		if s.expectedType != "" && s.expectedType != "Any" && s.expectedType != env.DataType {
			converted, ok := b.convert(env.Data, env.DataType, s.expectedType)
			metrics.Global().RecordTranslation(env.DataType, s.expectedType, ok)
			if ok {
				deliverEnv.Data = converted
				deliverEnv.DataType = s.expectedType
			}
		}
		if err := s.callback(ctx, deliverEnv); err != nil {
			logging.Op().Warn("subscriber returned error", "topic", topic, "module", s.module, "error", err)
		}
	}

	metrics.Global().RecordPublish(topic, declared.sourceModule, len(subs), true)
	return nil
}

// satisfiesType reports whether data's runtime shape is compatible with
// declaredType without needing translation. "Any" always matches; an
// empty declaredType (no registration) always matches.
func (b *Bus) satisfiesType(data any, declaredType string) bool {
	if declaredType == "" || declaredType == "Any" {
		return true
	}
	return translator.RuntimeTypeName(data) == declaredType
}

func (b *Bus) convert(data any, fromType, toType string) (any, bool) {
	if toType == "" || toType == "Any" {
		return data, true
	}
	if b.translator == nil {
		return data, false
	}
	if fromType == "" {
		fromType = translator.RuntimeTypeName(data)
	}
	return b.translator.Convert(data, fromType, toType)
}

func isEmpty(data any) bool {
	switch v := data.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}
