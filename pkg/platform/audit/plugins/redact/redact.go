// Package redact replaces sensitive values in audit events with keyed digests.
//
// A digest lets an investigator tell whether two events carried the same value without
// the trail ever storing it. Field names are matched case-insensitively at any depth of a
// change snapshot, of the event metadata or of the metadata carried by the audit scope.
package redact

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	audit "ozhi/pkg/platform/audit"
	pstrings "ozhi/pkg/platform/strings"
)

const (
	Name   = "redact"
	Prefix = "blake2b:"
)

type Plugin struct {
	key    []byte
	fields map[string]struct{}
}

// New returns a redactor for fields. The key may be empty (plain BLAKE2b-256) and must
// not exceed 64 bytes.
func New(key []byte, fields ...string) (*Plugin, error) {
	if len(key) > blake2b.Size {
		return nil, fmt.Errorf("redact key must be at most %d bytes", blake2b.Size)
	}
	fields = pstrings.NormalizeFold(fields)
	if len(fields) == 0 {
		return nil, errors.New("at least one redacted field is required")
	}
	p := &Plugin{key: key, fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		p.fields[f] = struct{}{}
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) BeforeAudit(_ context.Context, event audit.Event) (audit.Decision, error) {
	if event.Changes != nil {
		changes := *event.Changes
		before, err := p.redactSnapshot(changes.Before)
		if err != nil {
			return audit.Decision{}, err
		}
		after, err := p.redactSnapshot(changes.After)
		if err != nil {
			return audit.Decision{}, err
		}
		changes.Before, changes.After = before, after
		event.Changes = &changes
	}
	if event.Metadata != nil {
		event.Metadata = p.redactMap(event.Metadata)
	}
	if event.Context.Metadata != nil {
		event.Context.Metadata = p.redactMap(event.Context.Metadata)
	}
	return audit.Continue(event), nil
}

// Digest returns the redacted form of value.
func (p *Plugin) Digest(value any) string {
	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		// unencodable values fall back to their printed form
		b, err := json.Marshal(v)
		if err != nil {
			b = fmt.Appendf(nil, "%v", v)
		}
		raw = b
	}

	h, _ := blake2b.New256(p.key) // key length checked in New
	h.Write(raw)
	return Prefix + hex.EncodeToString(h.Sum(nil))
}

// redactSnapshot normalises structs to their JSON object form so their fields can be
// matched by name.
func (p *Plugin) redactSnapshot(snapshot any) (any, error) {
	switch snapshot.(type) {
	case nil:
		return nil, nil
	case map[string]any, []any:
		return p.redactValue(snapshot), nil
	}

	b, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode change snapshot: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, fmt.Errorf("decode change snapshot: %w", err)
	}
	return p.redactValue(generic), nil
}

func (p *Plugin) redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return p.redactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = p.redactValue(item)
		}
		return out
	default:
		return v
	}
}

// redactMap returns a copy; nested maps shared with the caller are never written.
func (p *Plugin) redactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, ok := p.fields[strings.ToLower(k)]; ok && v != nil {
			out[k] = p.Digest(v)
			continue
		}
		out[k] = p.redactValue(v)
	}
	return out
}
