package wiki

import "context"

// lazy is one cached remote attribute: a value plus whether a load has
// populated it. The zero value is an empty cell.
type lazy[T any] struct {
	val T
	ok  bool
}

func (l *lazy[T]) set(v T) {
	l.val = v
	l.ok = true
}

func (l *lazy[T]) clear() {
	var zero T
	l.val = zero
	l.ok = false
}

// demand implements the accessor contract shared by every remote
// entity: return the cached value when present, otherwise run load and
// re-check. A cell that is still empty after a load means the backing
// entity (or this piece of it) is gone, and the caller gets a
// NonexistentError naming the entity regardless of which field was
// accessed first.
func demand[T any](ctx context.Context, load func(context.Context) error, cell *lazy[T], kind string, id interface{}) (T, error) {
	if cell.ok {
		return cell.val, nil
	}
	if err := load(ctx); err != nil {
		var zero T
		return zero, err
	}
	if cell.ok {
		return cell.val, nil
	}
	var zero T
	return zero, &NonexistentError{Kind: kind, ID: id}
}
