package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	audit "ozhi/pkg/platform/audit"
)

// IngestRequest is the POST body. Context fields override the scope of the HTTP request,
// so an authenticated collector can forward events on behalf of the original actor.
// Anonymous callers may only add metadata.
type IngestRequest audit.Input

func anonymousOverride(c *audit.Context) *audit.Context {
	if len(c.Metadata) == 0 {
		return nil
	}
	return &audit.Context{Metadata: c.Metadata}
}

// ToInput trims the action; everything else is checked by Auditor.Log.
func (r *IngestRequest) ToInput() audit.Input {
	in := audit.Input(*r)
	in.Action = strings.TrimSpace(in.Action)
	return in
}

type IngestResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

type QueryResponse struct {
	Records []audit.Record `json:"records"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// ParseQuery reads filters from query parameters. category and severity accept repeated
// parameters and comma separated lists; dates are RFC 3339.
func ParseQuery(v url.Values) (audit.Query, error) {
	q := audit.Query{
		UserID:     v.Get("user_id"),
		TargetType: v.Get("target_type"),
		TargetID:   v.Get("target_id"),
		Action:     v.Get("action"),
		RequestID:  v.Get("request_id"),
	}
	fields := map[string]string{}

	for _, c := range splitList(v["category"]) {
		cat := audit.Category(c)
		if !cat.Valid() {
			fields["category"] = fmt.Sprintf("unknown category %q", c)
			continue
		}
		q.Categories = append(q.Categories, cat)
	}
	for _, s := range splitList(v["severity"]) {
		sev := audit.Severity(s)
		if !sev.Valid() {
			fields["severity"] = fmt.Sprintf("unknown severity %q", s)
			continue
		}
		q.Severities = append(q.Severities, sev)
	}

	var err error
	if q.StartDate, err = parseTime(v.Get("start_date")); err != nil {
		fields["start_date"] = "start_date must be an RFC 3339 timestamp"
	}
	if q.EndDate, err = parseTime(v.Get("end_date")); err != nil {
		fields["end_date"] = "end_date must be an RFC 3339 timestamp"
	}
	if q.Limit, err = parseInt(v.Get("limit")); err != nil || q.Limit < 0 {
		fields["limit"] = "limit must be a non-negative integer"
	}
	if q.Offset, err = parseInt(v.Get("offset")); err != nil || q.Offset < 0 {
		fields["offset"] = "offset must be a non-negative integer"
	}
	if !q.StartDate.IsZero() && !q.EndDate.IsZero() && q.EndDate.Before(q.StartDate) {
		fields["end_date"] = "end_date must not precede start_date"
	}

	if len(fields) > 0 {
		return audit.Query{}, &audit.ValidationError{Message: "invalid audit query", Fields: fields}
	}
	return q, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
