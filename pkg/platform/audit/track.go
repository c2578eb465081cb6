package audit

import (
	"context"
	"errors"
)

// Logger is the part of Auditor used by helpers and adapters.
type Logger interface {
	Log(ctx context.Context, in Input) error
}

// Track runs fn and records its outcome as action. Success is logged at low severity and
// failure at medium severity with the error message; args is attached as metadata["args"].
// fn's result and error are returned unchanged, except that an audit failure is joined to
// the returned error.
func Track[T any](
	ctx context.Context,
	logger Logger,
	action string,
	category Category,
	args any,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	result, fnErr := fn(ctx)

	in := Input{
		Action:   action,
		Category: category,
		Result:   ResultSuccess,
		Severity: SeverityLow,
	}
	if args != nil {
		in.Metadata = map[string]any{"args": args}
	}
	if fnErr != nil {
		in.Result = ResultFailure
		in.Severity = SeverityMedium
		in.Error = fnErr.Error()
	}

	if auditErr := logger.Log(ctx, in); auditErr != nil {
		return result, errors.Join(fnErr, auditErr)
	}
	return result, fnErr
}
