package orchestration

import (
	"context"
	"errors"
	"testing"
)

func TestTokenBucketAdmissionLimitsBurst(t *testing.T) {
	policy := NewTokenBucketAdmission(1, 2)

	ctx := context.Background()
	if err := policy.Admit(ctx, "s"); err != nil {
		t.Fatalf("expected first admit to pass, got %v", err)
	}
	if err := policy.Admit(ctx, "s"); err != nil {
		t.Fatalf("expected second admit to pass, got %v", err)
	}
	if err := policy.Admit(ctx, "s"); err == nil {
		t.Fatalf("expected a drained bucket to reject the turn")
	}
}

func TestRejectedAdmissionLeavesSessionUntouched(t *testing.T) {
	reject := admissionFunc(func(context.Context, string) error {
		return errors.New("over capacity")
	})
	o := NewOrchestrator(WithAdmissionPolicy(reject))
	defer o.Close()

	ctx := context.Background()
	if _, err := o.StartTurn(ctx, "session-denied", nil); err == nil {
		t.Fatalf("expected rejected admission to fail the turn start")
	}

	status, err := o.GetStatus(ctx, "session-denied")
	if err != nil {
		t.Fatalf("expected status read to succeed, got %v", err)
	}
	if status.State != StateIdle || status.TurnID != "" {
		t.Fatalf("expected an untouched session, got %s turn %q", status.State, status.TurnID)
	}
}

type admissionFunc func(ctx context.Context, sessionID string) error

func (f admissionFunc) Admit(ctx context.Context, sessionID string) error { return f(ctx, sessionID) }
