// Package failure maps raw execution errors onto the failure taxonomy.
package failure

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"genqueue/internal/domain"
)

type statusCoder interface {
	StatusCode() int
}

// Classify maps err onto the taxonomy. Typed signals (sentinels, status
// codes, SQLSTATE, net errors) win over message keywords; anything left is
// SYSTEM.
func Classify(err error) domain.FailureType {
	if err == nil {
		return ""
	}
	if t, ok := classifySentinel(err); ok {
		return t
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() > 0 {
		return classifyStatus(sc.StatusCode())
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	if isNetwork(err) {
		return domain.FailureNetwork
	}
	return classifyMessage(err.Error())
}

// IsRetriable reports whether a failure class may be retried.
func IsRetriable(t domain.FailureType) bool {
	switch t {
	case domain.FailureRateLimited, domain.FailureNetwork, domain.FailureTransient, domain.FailureSystem:
		return true
	default:
		return false
	}
}

func classifySentinel(err error) (domain.FailureType, bool) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidPayload):
		return domain.FailureValidation, true
	case errors.Is(err, domain.ErrAuthentication):
		return domain.FailureAuthentication, true
	case errors.Is(err, domain.ErrPermanent):
		return domain.FailurePermanent, true
	case errors.Is(err, domain.ErrRateLimited):
		return domain.FailureRateLimited, true
	case errors.Is(err, domain.ErrTransient):
		return domain.FailureTransient, true
	case errors.Is(err, domain.ErrCircuitOpen):
		return domain.FailureSystem, true
	case errors.Is(err, domain.ErrJobTimeout):
		return domain.FailureTimeout, true
	case errors.Is(err, context.DeadlineExceeded):
		// A single call ran out of time; the job deadline is enforced by the
		// orchestrator.
		return domain.FailureTransient, true
	case errors.Is(err, context.Canceled):
		return domain.FailurePermanent, true
	}
	return "", false
}

func classifyStatus(status int) domain.FailureType {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.FailureAuthentication
	case status == http.StatusTooManyRequests:
		return domain.FailureRateLimited
	case status == http.StatusRequestTimeout:
		return domain.FailureTransient
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusConflict, status == http.StatusRequestEntityTooLarge,
		status == http.StatusUnprocessableEntity:
		return domain.FailureValidation
	case status == http.StatusNotImplemented:
		return domain.FailurePermanent
	case status >= 500:
		return domain.FailureTransient
	case status >= 400:
		return domain.FailurePermanent
	default:
		return domain.FailureSystem
	}
}

// classifySQLState groups Postgres error classes.
func classifySQLState(code string) domain.FailureType {
	if len(code) < 2 {
		return domain.FailureSystem
	}
	switch code {
	case "40001", "40P01", "55P03":
		return domain.FailureTransient
	}
	switch code[:2] {
	case "08":
		return domain.FailureNetwork
	case "22", "23":
		return domain.FailureValidation
	case "28":
		return domain.FailureAuthentication
	case "53", "57":
		return domain.FailureTransient
	case "42":
		return domain.FailurePermanent
	default:
		return domain.FailureSystem
	}
}

func isNetwork(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

var messageRules = []struct {
	failure  domain.FailureType
	keywords []string
}{
	{domain.FailureRateLimited, []string{"rate limit", "too many requests", "quota exceeded", "resource exhausted"}},
	{domain.FailureAuthentication, []string{"unauthorized", "forbidden", "invalid api key", "permission denied"}},
	{domain.FailureValidation, []string{"invalid argument", "invalid request", "malformed"}},
	{domain.FailureNetwork, []string{"connection refused", "connection reset", "no such host", "broken pipe"}},
	{domain.FailureTransient, []string{"timeout", "timed out", "temporarily unavailable", "service unavailable", "try again"}},
}

// classifyMessage is the last resort for untyped backend errors.
func classifyMessage(msg string) domain.FailureType {
	msg = strings.ToLower(msg)
	for _, rule := range messageRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.failure
			}
		}
	}
	return domain.FailureSystem
}
