package audit

import "context"

// Store is append-only. List returns newest records first.
type Store interface {
	Append(ctx context.Context, record Record) error
	List(ctx context.Context, filter Filter) ([]Record, error)
}
