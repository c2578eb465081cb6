// Package audit implements an in-process audit trail.
//
// A unit of work, usually one HTTP request, establishes an audit Context once:
//
//	ctx = audit.WithContext(ctx, audit.NewContext(ctx, audit.Context{UserID: userID}))
//
// Code running inside that scope calls Auditor.Log any number of times. Each call merges the
// ambient context with the explicit override in the Input, runs the registered pre-hooks
// (which may rewrite or cancel the event), fills a missing severity, appends one Record to
// the Sink and finally runs the post-hooks.
//
// Plugins are registered with Auditor.Register and implement any of Initializer, BeforeHook
// and AfterHook. Hooks run in registration order. Pre-hook failures fail the Log call;
// post-hook failures are only logged.
package audit
