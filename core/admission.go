package orchestration

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// AdmissionPolicy decides whether a new turn may start. It runs before
// any session state is touched, so a rejected turn leaves no trace.
type AdmissionPolicy interface {
	Admit(ctx context.Context, sessionID string) error
}

// AdmitAll accepts every turn. It is the default policy.
type AdmitAll struct{}

func (AdmitAll) Admit(context.Context, string) error { return nil }

// TokenBucketAdmission is a token-bucket policy shared across all
// sessions of one orchestrator instance. The bucket lives in process
// memory, so a multi-instance deployment that needs one pace across
// all instances must supply an AdmissionPolicy backed by the shared
// state store instead.
type TokenBucketAdmission struct {
	limiter *rate.Limiter
}

// NewTokenBucketAdmission admits up to turnsPerSecond sustained turn
// starts with the given burst.
func NewTokenBucketAdmission(turnsPerSecond float64, burst int) *TokenBucketAdmission {
	return &TokenBucketAdmission{limiter: rate.NewLimiter(rate.Limit(turnsPerSecond), burst)}
}

func (a *TokenBucketAdmission) Admit(_ context.Context, sessionID string) error {
	if !a.limiter.Allow() {
		return fmt.Errorf("turn admission rejected for session %s: rate limit exceeded", sessionID)
	}
	return nil
}
