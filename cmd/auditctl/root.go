package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"ozhi/internal/platform/config"
	"ozhi/internal/platform/postgres"
	audit "ozhi/pkg/platform/audit"
	pgstore "ozhi/pkg/platform/audit/store/postgres"
)

// Store is what the subcommands need from the audit store.
type Store interface {
	audit.Reader
	EnsureSchema(ctx context.Context) error
}

// opener returns the store and a function releasing it.
type opener func(ctx context.Context, databaseURL string) (Store, func() error, error)

func openPostgres(ctx context.Context, databaseURL string) (Store, func() error, error) {
	if databaseURL == "" {
		return nil, nil, errors.New("a database URL is required (--database-url or DATABASE_URL)")
	}
	db, err := postgres.Open(ctx, config.DatabaseConfig{URL: databaseURL, MaxOpenConns: 2})
	if err != nil {
		return nil, nil, err
	}
	return pgstore.New(db), db.Close, nil
}

type rootOptions struct {
	databaseURL string
	open        opener
}

// withStore opens the store for the duration of fn.
func (o *rootOptions) withStore(ctx context.Context, fn func(Store) error) error {
	store, release, err := o.open(ctx, o.databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()
	return fn(store)
}

func newRootCmd(open opener) *cobra.Command {
	opts := &rootOptions{open: open}

	cmd := &cobra.Command{
		Use:           "auditctl",
		Short:         "Query and migrate the audit log",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.databaseURL != "" {
				return nil
			}
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			opts.databaseURL = cfg.Database.URL
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "Postgres URL (default: DATABASE_URL)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newQueryCmd(opts),
		newGetCmd(opts),
	)
	return cmd
}
