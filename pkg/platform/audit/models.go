package audit

import (
	"maps"
	"time"
)

// Category classifies audit events by the business area they touch.
type Category string

const (
	CategoryAuth             Category = "auth"
	CategoryPayment          Category = "payment"
	CategoryDataAccess       Category = "data_access"
	CategoryDataModification Category = "data_modification"
	CategorySystem           Category = "system"
	CategoryInvoice          Category = "invoice"
	CategoryUserManagement   Category = "user_management"
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategoryAuth,
	CategoryPayment,
	CategoryDataAccess,
	CategoryDataModification,
	CategorySystem,
	CategoryInvoice,
	CategoryUserManagement,
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity drives downstream alerting thresholds.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every valid severity from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank orders severities (low=0 ... critical=3). Unknown severities rank -1.
func (s Severity) Rank() int {
	for i, known := range Severities {
		if s == known {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the closed set of severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// AtLeast reports whether s is as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// Result is the outcome of the audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPartial Result = "partial"
)

// Valid reports whether r is one of the closed set of results.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultPartial:
		return true
	}
	return false
}

// Context is the ambient, per-scope actor and request information attached to every event.
// Empty strings, the zero time and a nil map mean "not set".
type Context struct {
	RequestID string         `json:"request_id" validate:"required"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	User      any            `json:"user,omitempty" validate:"-"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty" validate:"-"`
}

// clone returns a copy whose metadata map is not shared with c.
func (c Context) clone() Context {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}

// overlay applies the non-zero fields of patch on top of c. Metadata keys are merged
// shallowly with patch taking precedence.
func (c Context) overlay(patch Context) Context {
	if patch.RequestID != "" {
		c.RequestID = patch.RequestID
	}
	if !patch.Timestamp.IsZero() {
		c.Timestamp = patch.Timestamp
	}
	if patch.UserID != "" {
		c.UserID = patch.UserID
	}
	if patch.User != nil {
		c.User = patch.User
	}
	if patch.SessionID != "" {
		c.SessionID = patch.SessionID
	}
	if patch.IPAddress != "" {
		c.IPAddress = patch.IPAddress
	}
	if patch.UserAgent != "" {
		c.UserAgent = patch.UserAgent
	}
	c.Metadata = mergeMetadata(c.Metadata, patch.Metadata)
	return c
}

// Target identifies the entity an event acted on.
type Target struct {
	Type     string         `json:"type" validate:"required"`
	ID       string         `json:"id" validate:"required"`
	Name     string         `json:"name,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" validate:"-"`
}

// Changes carries before/after snapshots of a modified entity.
type Changes struct {
	Before any      `json:"before,omitempty" validate:"-"`
	After  any      `json:"after,omitempty" validate:"-"`
	Fields []string `json:"fields,omitempty"`
}

// Event is the unit of work flowing through the plugin chain. Severity may be empty
// until classification; everything else that is required is enforced by validation.
type Event struct {
	ID       string         `json:"id,omitempty"`
	Action   string         `json:"action" validate:"required"`
	Category Category       `json:"category" validate:"required,audit_category"`
	Severity Severity       `json:"severity,omitempty" validate:"omitempty,audit_severity"`
	Result   Result         `json:"result" validate:"required,audit_result"`
	Context  Context        `json:"context"`
	Target   *Target        `json:"target,omitempty"`
	Changes  *Changes       `json:"changes,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" validate:"-"`
}

// Input is what callers hand to Auditor.Log. Context is an optional partial override of
// the ambient context: its non-zero fields win.
type Input struct {
	Action   string         `json:"action" validate:"required"`
	Category Category       `json:"category" validate:"required,audit_category"`
	Severity Severity       `json:"severity,omitempty" validate:"omitempty,audit_severity"`
	Result   Result         `json:"result" validate:"required,audit_result"`
	Context  *Context       `json:"context,omitempty" validate:"-"`
	Target   *Target        `json:"target,omitempty"`
	Changes  *Changes       `json:"changes,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" validate:"-"`
}

// mergeMetadata returns a new map holding base overlaid with override. It returns nil when
// both are empty so absent metadata stays absent.
func mergeMetadata(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(map[string]any, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)
	return merged
}

// SetMetadata returns a copy of the event metadata with key set to value. Plugins use it to
// enrich an event without mutating maps shared with earlier hooks.
func (e Event) SetMetadata(key string, value any) map[string]any {
	return mergeMetadata(e.Metadata, map[string]any{key: value})
}
