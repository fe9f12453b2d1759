package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/useraudit/internal/core/domain"
)

type historyStub struct {
	rows  []domain.OutboxEvent
	calls int
}

func (h *historyStub) ListDispatched(_ context.Context, tenantID string, afterID int64, limit int) ([]domain.OutboxEvent, error) {
	h.calls++
	items := make([]domain.OutboxEvent, 0, limit)
	for _, r := range h.rows {
		if r.TenantID != tenantID || r.ID <= afterID {
			continue
		}
		items = append(items, r)
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

func historyOf(t *testing.T, events []domain.Event) *historyStub {
	t.Helper()
	codec := NewEventCodec()
	h := &historyStub{}
	for i, e := range events {
		env, err := codec.Encode(e)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		raw, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		h.rows = append(h.rows, domain.OutboxEvent{
			ID:          int64(i + 1),
			EventID:     env.EventID,
			TenantID:    env.TenantID,
			PayloadJSON: raw,
			Status:      domain.OutboxStatusDispatched,
		})
	}
	return h
}

func TestReplayTenantEventsInOrder(t *testing.T) {
	events := lifecycleEvents(t)
	history := historyOf(t, events)

	var seen []string
	n, err := ReplayTenantEvents(context.Background(), history, NewEventCodec(), "tenant-a", 2, func(_ context.Context, e domain.Event) error {
		seen = append(seen, e.Meta().EventID)
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if n != len(events) || len(seen) != len(events) {
		t.Fatalf("expected %d events, got %d (%d seen)", len(events), n, len(seen))
	}
	for i, e := range events {
		if seen[i] != e.Meta().EventID {
			t.Fatalf("event %d out of order: got %s want %s", i, seen[i], e.Meta().EventID)
		}
	}
}

func TestReplayTenantEventsCrossTenantIsolation(t *testing.T) {
	history := historyOf(t, lifecycleEvents(t))
	history.rows[1].TenantID = "tenant-b"

	n, err := ReplayTenantEvents(context.Background(), history, NewEventCodec(), "tenant-b", 10, func(_ context.Context, e domain.Event) error {
		return nil
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 tenant-b event, got %d", n)
	}
}

func TestReplayTenantEventsStopsOnApplyError(t *testing.T) {
	history := historyOf(t, lifecycleEvents(t))
	boom := errors.New("boom")

	n, err := ReplayTenantEvents(context.Background(), history, NewEventCodec(), "tenant-a", 10, func(context.Context, domain.Event) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing applied, got %d", n)
	}
}

func TestRebuildAuditTrailFillsOnlyMissingRecords(t *testing.T) {
	events := lifecycleEvents(t)
	history := historyOf(t, events)
	repo := &memAuditRepo{}
	audits := NewAuditService(repo, newMemUserRepo(nil))

	// the first event was already audited live
	if err := audits.Create(context.Background(), auditUserCreated(events[0].(domain.UserCreated))); err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := RebuildAuditTrail(context.Background(), history, NewEventCodec(), audits, "tenant-a"); err != nil {
			t.Fatalf("rebuild %d: %v", i, err)
		}
	}

	if len(repo.logs) != len(events) {
		t.Fatalf("expected one audit log per event, got %d for %d events", len(repo.logs), len(events))
	}
	for i, e := range events {
		if repo.logs[i].ID != e.Meta().EventID {
			t.Fatalf("audit %d has id %s, want event id %s", i, repo.logs[i].ID, e.Meta().EventID)
		}
	}
}

func TestRebuildAuditTrailKeepsEventTime(t *testing.T) {
	occurred := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	u, err := domain.NewUser(domain.NewUserParams{TenantID: "tenant-a", Name: "Ada", Email: "ada@example.com", Role: domain.RoleOperator}, domain.ClientActor("ops"), occurred)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	history := historyOf(t, u.PendingEvents())
	repo := &memAuditRepo{}
	audits := NewAuditService(repo, newMemUserRepo(nil))
	audits.now = func() time.Time { return time.Date(2026, 10, 19, 11, 0, 0, 0, time.UTC) }

	if _, err := RebuildAuditTrail(context.Background(), history, NewEventCodec(), audits, "tenant-a"); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(repo.logs) != 1 {
		t.Fatalf("expected 1 audit log, got %d", len(repo.logs))
	}
	if got := repo.logs[0].CreatedAt; !got.Equal(occurred) {
		t.Fatalf("rebuilt audit log created at %s, want event time %s", got, occurred)
	}
}
