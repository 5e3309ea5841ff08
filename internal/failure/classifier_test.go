package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"genqueue/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.FailureType
	}{
		{name: "nil", err: nil, want: ""},
		{name: "validation error type", err: &domain.ValidationError{Field: "prompt", Reason: "is required"}, want: domain.FailureValidation},
		{name: "wrapped auth sentinel", err: fmt.Errorf("call: %w", domain.ErrAuthentication), want: domain.FailureAuthentication},
		{name: "permanent", err: domain.ErrPermanent, want: domain.FailurePermanent},
		{name: "rate limited", err: domain.ErrRateLimited, want: domain.FailureRateLimited},
		{name: "transient", err: domain.ErrTransient, want: domain.FailureTransient},
		{name: "breaker open", err: domain.ErrCircuitOpen, want: domain.FailureSystem},
		{name: "call deadline", err: context.DeadlineExceeded, want: domain.FailureTransient},
		{name: "job timeout", err: fmt.Errorf("run: %w", domain.ErrJobTimeout), want: domain.FailureTimeout},
		{name: "canceled", err: context.Canceled, want: domain.FailurePermanent},
		{name: "status 429", err: &domain.BackendError{Status: 429}, want: domain.FailureRateLimited},
		{name: "status 401", err: &domain.BackendError{Status: 401}, want: domain.FailureAuthentication},
		{name: "status 422", err: &domain.BackendError{Status: 422}, want: domain.FailureValidation},
		{name: "status 503", err: &domain.BackendError{Status: 503}, want: domain.FailureTransient},
		{name: "status 501", err: &domain.BackendError{Status: 501}, want: domain.FailurePermanent},
		{name: "status 0 falls through to cause", err: &domain.BackendError{Err: domain.ErrRateLimited}, want: domain.FailureRateLimited},
		{name: "pg connection", err: &pgconn.PgError{Code: "08006"}, want: domain.FailureNetwork},
		{name: "pg serialization", err: &pgconn.PgError{Code: "40001"}, want: domain.FailureTransient},
		{name: "pg unique violation", err: &pgconn.PgError{Code: "23505"}, want: domain.FailureValidation},
		{name: "pg bad password", err: &pgconn.PgError{Code: "28P01"}, want: domain.FailureAuthentication},
		{name: "net op error", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, want: domain.FailureNetwork},
		{name: "econnrefused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: domain.FailureNetwork},
		{name: "message rate limit", err: errors.New("upstream said: Rate limit reached"), want: domain.FailureRateLimited},
		{name: "message timeout", err: errors.New("request timed out"), want: domain.FailureTransient},
		{name: "unknown", err: errors.New("something odd"), want: domain.FailureSystem},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetriable(t *testing.T) {
	want := map[domain.FailureType]bool{
		domain.FailureValidation:     false,
		domain.FailureAuthentication: false,
		domain.FailurePermanent:      false,
		domain.FailureRateLimited:    true,
		domain.FailureNetwork:        true,
		domain.FailureTransient:      true,
		domain.FailureSystem:         true,
		domain.FailureTimeout:        false,
	}
	for _, ft := range domain.FailureTypes {
		if got := IsRetriable(ft); got != want[ft] {
			t.Fatalf("IsRetriable(%s) = %v, want %v", ft, got, want[ft])
		}
	}
}
