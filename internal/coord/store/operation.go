package store

import "context"

// Operation is the per-invocation scope an MCP handler threads through
// its service calls. It owns one WriteScope so every participating
// service shares the same transaction, and it queues publish hooks that
// run only after a successful commit. No subscriber can observe an event
// whose transaction rolled back.
type Operation struct {
	ws        *WriteScope
	after     []func(ctx context.Context)
	committed bool
}

// Begin opens a write transaction wrapped in an Operation.
func (s *Store) Begin(ctx context.Context) (*Operation, error) {
	ws, err := s.Write(ctx)
	if err != nil {
		return nil, err
	}
	return &Operation{ws: ws}, nil
}

// Write returns the shared write scope.
func (o *Operation) Write() *WriteScope { return o.ws }

// OnCommit queues fn to run after the transaction commits. Hooks run in
// registration order; they are discarded on rollback.
func (o *Operation) OnCommit(fn func(ctx context.Context)) {
	o.after = append(o.after, fn)
}

// Commit completes the transaction and then runs the queued hooks.
func (o *Operation) Commit(ctx context.Context) error {
	if err := o.ws.Complete(); err != nil {
		return err
	}
	o.committed = true
	for _, fn := range o.after {
		fn(ctx)
	}
	o.after = nil
	return nil
}

// Close rolls back if Commit was not reached. Safe to defer.
func (o *Operation) Close() error {
	if o.committed {
		return nil
	}
	o.after = nil
	return o.ws.Close()
}
