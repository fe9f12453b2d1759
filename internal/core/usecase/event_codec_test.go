package usecase

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

type testUpcaster struct{}

func (t testUpcaster) FromVersion() int { return 0 }
func (t testUpcaster) ToVersion() int   { return 1 }
func (t testUpcaster) Upcast(payload json.RawMessage) (json.RawMessage, error) {
	var m map[string]any
	_ = json.Unmarshal(payload, &m)
	m["newRole"] = m["role"]
	return mustMarshal(m), nil
}

func TestEventCodecNormalize(t *testing.T) {
	codec := NewEventCodec(testUpcaster{})
	env := domain.EventEnvelope{SchemaVersion: 0, Payload: json.RawMessage(`{"a":1}`)}
	norm, err := codec.Normalize(env)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if norm.SchemaVersion != domain.CurrentEventSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", domain.CurrentEventSchemaVersion, norm.SchemaVersion)
	}
}

func TestEventCodecDecodesUpcastPayload(t *testing.T) {
	codec := NewEventCodec(testUpcaster{})
	env := domain.EventEnvelope{
		EventID:       "e1",
		EventType:     domain.KindUserRoleChanged,
		SchemaVersion: 0,
		AggregateID:   "user-1",
		Payload:       json.RawMessage(`{"previousRole":"OPERATOR","role":"ADMIN"}`),
	}
	event, err := codec.Decode(env)
	require.NoError(t, err)
	changed := event.(domain.UserRoleChanged)
	assert.Equal(t, domain.RoleAdmin, changed.NewRole)
	assert.Equal(t, "user-1", changed.AggregateID)
}

// lifecycleEvents raises one event of every kind on a single user.
func lifecycleEvents(t *testing.T) []domain.Event {
	t.Helper()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	u, err := domain.NewUser(domain.NewUserParams{TenantID: "tenant-a", Name: "Ada", Email: "ada@example.com", Role: domain.RoleOperator}, domain.ClientActor("ops"), now)
	require.NoError(t, err)

	name := "Ada King"
	_, err = u.UpdateProfile(domain.UserActor("admin-id"), domain.ProfileUpdate{Name: &name}, now)
	require.NoError(t, err)
	require.NoError(t, u.ChangeRole(domain.UserActor("admin-id"), domain.RoleManager, now))
	require.NoError(t, u.ChangePassword(domain.UserActor("admin-id"), "h2", now))
	require.NoError(t, u.RecordLogin(now))
	u.RecordLogout(now)
	require.NoError(t, u.RequestPasswordReset("tok", now.Add(time.Hour), now))
	require.NoError(t, u.ResetPassword("tok", "h3", now))
	u.SetActive(domain.UserActor("admin-id"), false, now)
	return u.PendingEvents()
}

func TestEventCodecRoundTripsEveryKind(t *testing.T) {
	codec := NewEventCodec()
	events := lifecycleEvents(t)

	kinds := make(map[domain.EventKind]bool)
	for _, event := range events {
		env, err := codec.Encode(event)
		require.NoError(t, err)
		assert.Equal(t, event.Kind(), env.EventType)
		assert.Equal(t, domain.CurrentEventSchemaVersion, env.SchemaVersion)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		var wire domain.EventEnvelope
		require.NoError(t, json.Unmarshal(raw, &wire))

		decoded, err := codec.Decode(wire)
		require.NoError(t, err, event.Kind())
		assert.Equal(t, event.Kind(), decoded.Kind())
		assert.Equal(t, event.Meta(), decoded.Meta())
		kinds[event.Kind()] = true
	}
	assert.Len(t, kinds, len(domain.EventKinds()))

	created := events[0].(domain.UserCreated)
	env, err := codec.Encode(created)
	require.NoError(t, err)
	decoded, err := codec.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, created, decoded)
}

func TestEventCodecRejectsUnknownType(t *testing.T) {
	_, err := NewEventCodec().Decode(domain.EventEnvelope{EventType: "UserDeleted", SchemaVersion: 1, Payload: json.RawMessage(`{}`)})
	assert.Error(t, err)
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
