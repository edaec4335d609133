package cachemem

import (
	"context"
	"testing"
	"time"

	"chimera/internal/domain"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()
	decision := domain.AuthorizationDecision{
		SessionID: "s1",
		ToolName:  "read",
		Outcome:   domain.DecisionAllow,
	}

	if err := c.Put(ctx, "k", decision, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || got.Outcome != domain.DecisionAllow {
		t.Fatal("expected cached decision back")
	}

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("unknown key must miss")
	}
}

func TestEntriesExpire(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := c.Put(ctx, "k", domain.AuthorizationDecision{Outcome: domain.DecisionDeny}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should be live inside its ttl")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("entry should expire past its ttl")
	}
}
