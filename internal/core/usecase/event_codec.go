package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

const aggregateTypeUser = "user"

type Upcaster interface {
	FromVersion() int
	ToVersion() int
	Upcast(payload json.RawMessage) (json.RawMessage, error)
}

// EventCodec turns typed events into envelopes and back. Envelopes written by
// older versions are upcast before decoding.
type EventCodec struct {
	upcasters map[int]Upcaster
}

func NewEventCodec(upcasters ...Upcaster) *EventCodec {
	m := make(map[int]Upcaster, len(upcasters))
	for _, up := range upcasters {
		m[up.FromVersion()] = up
	}
	return &EventCodec{upcasters: m}
}

func (c *EventCodec) Encode(event domain.Event) (domain.EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("encode %s: %w", event.Kind(), err)
	}
	meta := event.Meta()
	return domain.EventEnvelope{
		EventID:       meta.EventID,
		EventType:     event.Kind(),
		SchemaVersion: domain.CurrentEventSchemaVersion,
		TenantID:      meta.TenantID,
		AggregateType: aggregateTypeUser,
		AggregateID:   meta.AggregateID,
		ActorID:       meta.ActorID,
		ActorType:     meta.ActorType,
		OccurredAt:    meta.OccurredAt,
		Payload:       payload,
	}, nil
}

// DecodeJSON decodes a marshalled envelope, as stored in the outbox.
func (c *EventCodec) DecodeJSON(raw []byte) (domain.Event, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return c.Decode(envelope)
}

// Decode rebuilds the typed event. Envelope metadata wins over whatever the
// payload carries.
func (c *EventCodec) Decode(envelope domain.EventEnvelope) (domain.Event, error) {
	envelope, err := c.Normalize(envelope)
	if err != nil {
		return nil, err
	}
	meta := domain.EventMeta{
		EventID:     envelope.EventID,
		TenantID:    envelope.TenantID,
		AggregateID: envelope.AggregateID,
		ActorID:     envelope.ActorID,
		ActorType:   envelope.ActorType,
		OccurredAt:  envelope.OccurredAt,
	}

	switch envelope.EventType {
	case domain.KindUserCreated:
		return decodeAs[domain.UserCreated](envelope, func(e *domain.UserCreated) { e.EventMeta = meta })
	case domain.KindUserUpdated:
		return decodeAs[domain.UserUpdated](envelope, func(e *domain.UserUpdated) { e.EventMeta = meta })
	case domain.KindUserRoleChanged:
		return decodeAs[domain.UserRoleChanged](envelope, func(e *domain.UserRoleChanged) { e.EventMeta = meta })
	case domain.KindUserActiveStatusChanged:
		return decodeAs[domain.UserActiveStatusChanged](envelope, func(e *domain.UserActiveStatusChanged) { e.EventMeta = meta })
	case domain.KindUserPasswordChanged:
		return domain.UserPasswordChanged{EventMeta: meta}, nil
	case domain.KindUserLoggedIn:
		return domain.UserLoggedIn{EventMeta: meta}, nil
	case domain.KindUserLoggedOut:
		return domain.UserLoggedOut{EventMeta: meta}, nil
	case domain.KindUserRequestedPasswordReset:
		return decodeAs[domain.UserRequestedPasswordReset](envelope, func(e *domain.UserRequestedPasswordReset) { e.EventMeta = meta })
	case domain.KindUserResetPassword:
		return domain.UserResetPassword{EventMeta: meta}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.EventType)
	}
}

func decodeAs[T domain.Event](envelope domain.EventEnvelope, setMeta func(*T)) (domain.Event, error) {
	var event T
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.EventType, err)
	}
	setMeta(&event)
	return event, nil
}

func (c *EventCodec) Normalize(envelope domain.EventEnvelope) (domain.EventEnvelope, error) {
	v := envelope.SchemaVersion
	payload := envelope.Payload
	for v < domain.CurrentEventSchemaVersion {
		up, ok := c.upcasters[v]
		if !ok {
			return domain.EventEnvelope{}, fmt.Errorf("missing upcaster from version %d", v)
		}
		next, err := up.Upcast(payload)
		if err != nil {
			return domain.EventEnvelope{}, fmt.Errorf("upcast %d->%d: %w", up.FromVersion(), up.ToVersion(), err)
		}
		payload = next
		v = up.ToVersion()
	}

	envelope.SchemaVersion = v
	envelope.Payload = payload
	return envelope, nil
}
