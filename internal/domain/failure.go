package domain

import (
	"fmt"
	"strings"
)

// FailureType is the taxonomy every execution error is mapped onto.
type FailureType string

const (
	FailureValidation     FailureType = "VALIDATION"
	FailureAuthentication FailureType = "AUTHENTICATION"
	FailurePermanent      FailureType = "PERMANENT"
	FailureRateLimited    FailureType = "RATE_LIMITED"
	FailureNetwork        FailureType = "NETWORK"
	FailureTransient      FailureType = "TRANSIENT"
	FailureSystem         FailureType = "SYSTEM"
	// FailureTimeout marks jobs whose total timeout elapsed.
	FailureTimeout FailureType = "TIMEOUT"
)

// FailureTypes lists the taxonomy in a stable order.
var FailureTypes = []FailureType{
	FailureValidation,
	FailureAuthentication,
	FailurePermanent,
	FailureRateLimited,
	FailureNetwork,
	FailureTransient,
	FailureSystem,
	FailureTimeout,
}

// ParseFailureType accepts taxonomy names case-insensitively.
func ParseFailureType(s string) (FailureType, error) {
	ft := FailureType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range FailureTypes {
		if ft == known {
			return ft, nil
		}
	}
	return "", &ValidationError{Field: "failure", Reason: fmt.Sprintf("unknown failure type %q", s)}
}
