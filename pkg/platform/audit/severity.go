package audit

import (
	pstrings "ozhi/pkg/platform/strings"
)

// DefaultCriticalActions escalate successful events to critical severity.
var DefaultCriticalActions = []string{"delete_user", "modify_permissions", "process_refund"}

// Classifier assigns a severity to events that arrive without one.
type Classifier struct {
	critical map[string]struct{}
}

// NewClassifier builds a classifier. With no actions it uses DefaultCriticalActions.
func NewClassifier(criticalActions ...string) *Classifier {
	actions := pstrings.Normalize(criticalActions, nil)
	if len(actions) == 0 {
		actions = DefaultCriticalActions
	}
	c := &Classifier{critical: make(map[string]struct{}, len(actions))}
	for _, action := range actions {
		c.critical[action] = struct{}{}
	}
	return c
}

// IsCritical reports whether action is in the critical set.
func (c *Classifier) IsCritical(action string) bool {
	_, ok := c.critical[action]
	return ok
}

// Classify returns the severity for event. The order of the checks is policy:
// failures are graded by category alone and never consult the critical set.
func (c *Classifier) Classify(event Event) Severity {
	if event.Result == ResultFailure {
		if event.Category == CategoryAuth || event.Category == CategoryPayment {
			return SeverityHigh
		}
		return SeverityMedium
	}

	if c.IsCritical(event.Action) {
		return SeverityCritical
	}

	return SeverityLow
}
