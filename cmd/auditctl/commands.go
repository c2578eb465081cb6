package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	audit "ozhi/pkg/platform/audit"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit_logs table and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(s Store) error {
				if err := s.EnsureSchema(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "audit schema is up to date")
				return nil
			})
		},
	}
}

type queryFlags struct {
	userID     string
	categories []string
	severities []string
	since      time.Duration
	startDate  string
	endDate    string
	targetType string
	targetID   string
	action     string
	requestID  string
	limit      int
	offset     int
}

func (f queryFlags) toQuery(now time.Time) (audit.Query, error) {
	q := audit.Query{
		UserID:     f.userID,
		TargetType: f.targetType,
		TargetID:   f.targetID,
		Action:     f.action,
		RequestID:  f.requestID,
		Limit:      f.limit,
		Offset:     f.offset,
	}
	for _, c := range f.categories {
		cat := audit.Category(c)
		if !cat.Valid() {
			return audit.Query{}, fmt.Errorf("unknown category %q", c)
		}
		q.Categories = append(q.Categories, cat)
	}
	for _, s := range f.severities {
		sev := audit.Severity(s)
		if !sev.Valid() {
			return audit.Query{}, fmt.Errorf("unknown severity %q", s)
		}
		q.Severities = append(q.Severities, sev)
	}

	var err error
	if f.startDate != "" {
		if q.StartDate, err = time.Parse(time.RFC3339, f.startDate); err != nil {
			return audit.Query{}, fmt.Errorf("invalid --start-date: %w", err)
		}
	}
	if f.since > 0 {
		q.StartDate = now.Add(-f.since)
	}
	if f.endDate != "" {
		if q.EndDate, err = time.Parse(time.RFC3339, f.endDate); err != nil {
			return audit.Query{}, fmt.Errorf("invalid --end-date: %w", err)
		}
	}
	return q, nil
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print matching audit records as JSON lines, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.toQuery(time.Now())
			if err != nil {
				return err
			}
			return opts.withStore(cmd.Context(), func(s Store) error {
				records, err := s.Query(cmd.Context(), q)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, r := range records {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.userID, "user-id", "", "Filter by user ID")
	flags.StringSliceVar(&f.categories, "category", nil, "Filter by category (repeatable or comma separated)")
	flags.StringSliceVar(&f.severities, "severity", nil, "Filter by severity (repeatable or comma separated)")
	flags.DurationVar(&f.since, "since", 0, "Only records newer than this duration, overrides --start-date")
	flags.StringVar(&f.startDate, "start-date", "", "Earliest timestamp (RFC 3339)")
	flags.StringVar(&f.endDate, "end-date", "", "Latest timestamp (RFC 3339)")
	flags.StringVar(&f.targetType, "target-type", "", "Filter by target type")
	flags.StringVar(&f.targetID, "target-id", "", "Filter by target ID")
	flags.StringVar(&f.action, "action", "", "Filter by action")
	flags.StringVar(&f.requestID, "request-id", "", "Filter by request ID")
	flags.IntVar(&f.limit, "limit", audit.DefaultQueryLimit, "Maximum number of records")
	flags.IntVar(&f.offset, "offset", 0, "Number of records to skip")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one audit record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(s Store) error {
				record, err := s.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get %s: %w", args[0], err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(record)
			})
		},
	}
}
