package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	pstrings "ozhi/pkg/platform/strings"
)

// Record is the flattened, immutable row a Sink stores for one event.
type Record struct {
	ID            string          `json:"id"`
	Action        string          `json:"action"`
	Category      Category        `json:"category"`
	Severity      Severity        `json:"severity"`
	Result        Result          `json:"result"`
	UserID        string          `json:"user_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	RequestID     string          `json:"request_id"`
	IPAddress     string          `json:"ip_address,omitempty"`
	UserAgent     string          `json:"user_agent,omitempty"`
	TargetType    string          `json:"target_type,omitempty"`
	TargetID      string          `json:"target_id,omitempty"`
	TargetName    string          `json:"target_name,omitempty"`
	ChangesBefore json.RawMessage `json:"changes_before,omitempty"`
	ChangesAfter  json.RawMessage `json:"changes_after,omitempty"`
	ChangedFields []string        `json:"changed_fields,omitempty"`
	Error         string          `json:"error,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewRecord projects an event onto a Record. Change snapshots are encoded as JSON and
// metadata must be JSON-encodable; an encoding failure is returned so the caller can
// report it as a persistence failure. The record owns its metadata.
func NewRecord(id string, event Event, createdAt time.Time) (Record, error) {
	r := Record{
		ID:        id,
		Action:    event.Action,
		Category:  event.Category,
		Severity:  event.Severity,
		Result:    event.Result,
		UserID:    event.Context.UserID,
		SessionID: event.Context.SessionID,
		RequestID: event.Context.RequestID,
		IPAddress: event.Context.IPAddress,
		UserAgent: event.Context.UserAgent,
		Error:     event.Error,
		Metadata:  CloneMetadata(mergeMetadata(event.Context.Metadata, event.Metadata)),
		Timestamp: event.Context.Timestamp,
		CreatedAt: createdAt,
	}

	if r.Metadata != nil {
		if _, err := json.Marshal(r.Metadata); err != nil {
			return Record{}, fmt.Errorf("encode metadata: %w", err)
		}
	}

	if event.Target != nil {
		r.TargetType = event.Target.Type
		r.TargetID = event.Target.ID
		r.TargetName = event.Target.Name
	}

	if event.Changes != nil {
		var err error
		if r.ChangesBefore, err = encodeSnapshot(event.Changes.Before); err != nil {
			return Record{}, fmt.Errorf("encode changes before: %w", err)
		}
		if r.ChangesAfter, err = encodeSnapshot(event.Changes.After); err != nil {
			return Record{}, fmt.Errorf("encode changes after: %w", err)
		}
		if fields := pstrings.Normalize(event.Changes.Fields, nil); len(fields) > 0 {
			r.ChangedFields = fields
		}
	}

	return r, nil
}

func encodeSnapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// CloneMetadata deep-copies nested maps and slices so the copy shares no mutable
// container with m. Other values are copied as-is.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMetadata(t)
	case map[string]string:
		return maps.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

// Sink persists records. Append is all-or-nothing.
type Sink interface {
	Append(ctx context.Context, record Record) error
}

// Reader is the read side of a store.
type Reader interface {
	Query(ctx context.Context, q Query) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
}

// Store is a sink that can also be queried.
type Store interface {
	Sink
	Reader
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// Query filters records. Zero-valued fields do not filter. Dates are inclusive.
type Query struct {
	UserID     string
	Categories []Category
	Severities []Severity
	StartDate  time.Time
	EndDate    time.Time
	TargetType string
	TargetID   string
	Action     string
	RequestID  string
	Limit      int
	Offset     int
}

// Normalize applies the default limit and clamps negative offsets.
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultQueryLimit
	}
	if q.Limit > MaxQueryLimit {
		q.Limit = MaxQueryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Matches reports whether r satisfies every filter of q. Limit and Offset are ignored.
func (q Query) Matches(r Record) bool {
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	if len(q.Categories) > 0 && !slices.Contains(q.Categories, r.Category) {
		return false
	}
	if len(q.Severities) > 0 && !slices.Contains(q.Severities, r.Severity) {
		return false
	}
	if !q.StartDate.IsZero() && r.Timestamp.Before(q.StartDate) {
		return false
	}
	if !q.EndDate.IsZero() && r.Timestamp.After(q.EndDate) {
		return false
	}
	if q.TargetType != "" && r.TargetType != q.TargetType {
		return false
	}
	if q.TargetID != "" && r.TargetID != q.TargetID {
		return false
	}
	if q.Action != "" && r.Action != q.Action {
		return false
	}
	if q.RequestID != "" && r.RequestID != q.RequestID {
		return false
	}
	return true
}
