package domain

import (
	"fmt"
	"strings"
)

// Priority orders work for dispatch. Lower values dispatch first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground
)

var priorityNames = [...]string{"URGENT", "HIGH", "NORMAL", "LOW", "BACKGROUND"}

// Valid reports whether p is a defined tier.
func (p Priority) Valid() bool {
	return p >= PriorityUrgent && p <= PriorityBackground
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority accepts tier names case-insensitively.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return PriorityNormal, &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", s)}
}
