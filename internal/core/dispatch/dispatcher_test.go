package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

func newTestUser(t *testing.T) *domain.User {
	t.Helper()
	u, err := domain.NewUser(domain.NewUserParams{
		TenantID: "tenant-a",
		Name:     "Ada",
		Email:    "ada@example.com",
		Role:     domain.RoleOperator,
	}, domain.UserActor("creator-id"), time.Now())
	require.NoError(t, err)
	return u
}

func TestDispatchAggregateRunsHandlersInRegistrationOrderAndDrains(t *testing.T) {
	d := New()
	d.Enable()

	var calls []string
	d.Register(domain.KindUserCreated, func(context.Context, domain.Event) error {
		calls = append(calls, "first")
		return nil
	})
	d.Register(domain.KindUserCreated, func(context.Context, domain.Event) error {
		calls = append(calls, "second")
		return nil
	})

	u := newTestUser(t)
	require.Len(t, u.PendingEvents(), 1)

	require.NoError(t, d.DispatchAggregate(context.Background(), u))
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Empty(t, u.PendingEvents())

	require.NoError(t, d.DispatchAggregate(context.Background(), u))
	assert.Len(t, calls, 2, "second dispatch without mutation must not run handlers")
}

func TestDispatchAggregateKeepsEventOrderWithinAggregate(t *testing.T) {
	d := New()
	d.Enable()

	var kinds []domain.EventKind
	d.SubscribeAll(func(_ context.Context, e domain.Event) error {
		kinds = append(kinds, e.Kind())
		return nil
	})

	u := newTestUser(t)
	require.NoError(t, u.ChangeRole(domain.UserActor("admin-id"), domain.RoleManager, time.Now()))
	u.SetActive(domain.UserActor("admin-id"), false, time.Now())

	require.NoError(t, d.DispatchAggregate(context.Background(), u))
	assert.Equal(t, []domain.EventKind{
		domain.KindUserCreated,
		domain.KindUserRoleChanged,
		domain.KindUserActiveStatusChanged,
	}, kinds)
}

func TestDisabledDispatcherSkipsHandlersButClearsBuffer(t *testing.T) {
	d := New()
	called := false
	d.SubscribeAll(func(context.Context, domain.Event) error {
		called = true
		return nil
	})

	u := newTestUser(t)
	require.NoError(t, d.DispatchAggregate(context.Background(), u))
	assert.False(t, called)
	assert.Empty(t, u.PendingEvents())
	assert.False(t, d.Enabled())
}

func TestPropagatePolicyReturnsHandlerError(t *testing.T) {
	d := New()
	d.Enable()

	boom := errors.New("audit store down")
	secondCalled := false
	d.Register(domain.KindUserCreated, func(context.Context, domain.Event) error { return boom })
	d.Register(domain.KindUserCreated, func(context.Context, domain.Event) error {
		secondCalled = true
		return nil
	})

	u := newTestUser(t)
	eventID := u.PendingEvents()[0].Meta().EventID

	err := d.DispatchAggregate(context.Background(), u)
	require.ErrorIs(t, err, boom)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, domain.KindUserCreated, herr.Kind)
	assert.Equal(t, eventID, herr.EventID)
	assert.False(t, secondCalled)
	assert.Empty(t, u.PendingEvents())
}

func TestLogAndContinuePolicySwallowsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	d := New(WithFailurePolicy(PolicyLogAndContinue), WithMetrics(metrics))
	d.Enable()

	secondCalled := false
	d.Register(domain.KindUserCreated, func(context.Context, domain.Event) error { return errors.New("boom") })
	d.Register(domain.KindUserCreated, func(context.Context, domain.Event) error {
		secondCalled = true
		return nil
	})

	require.NoError(t, d.DispatchAggregate(context.Background(), newTestUser(t)))
	assert.True(t, secondCalled)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HandlerFailures.WithLabelValues(string(domain.KindUserCreated))))
}

func TestSubscribeDeliversTypedEvent(t *testing.T) {
	d := New()
	d.Enable()

	var got domain.UserRoleChanged
	Subscribe(d, func(_ context.Context, e domain.UserRoleChanged) error {
		got = e
		return nil
	})

	u := newTestUser(t)
	u.ClearEvents()
	require.NoError(t, u.ChangeRole(domain.UserActor("admin-id"), domain.RoleManager, time.Now()))
	require.NoError(t, d.DispatchAggregate(context.Background(), u))

	assert.Equal(t, domain.RoleOperator, got.PreviousRole)
	assert.Equal(t, domain.RoleManager, got.NewRole)
	assert.Equal(t, 1, d.HandlerCount(domain.KindUserRoleChanged))
}

func TestMissingKindsReportsUnregistered(t *testing.T) {
	d := New()
	assert.Equal(t, domain.EventKinds(), d.MissingKinds())

	d.SubscribeAll(func(context.Context, domain.Event) error { return nil })
	assert.Empty(t, d.MissingKinds())
}

func TestUnregisteredKindIsNoop(t *testing.T) {
	d := New()
	d.Enable()
	assert.NoError(t, d.DispatchAggregate(context.Background(), newTestUser(t)))
}

func TestRegisterRejectsUnknownKind(t *testing.T) {
	d := New()
	assert.Panics(t, func() {
		d.Register(domain.EventKind("UserTeleported"), func(context.Context, domain.Event) error { return nil })
	})
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyPropagate, p)

	p, err = ParseFailurePolicy("log-and-continue")
	require.NoError(t, err)
	assert.Equal(t, PolicyLogAndContinue, p)

	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}
