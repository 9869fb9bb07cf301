package wiki

import (
	"context"
	"encoding/json"
	"net/url"
)

// Iter lazily walks the records of a paginated query. Records are
// fetched one request at a time; continuation parameters from each
// response feed the next request.
//
// Usage follows the sql.Rows idiom:
//
//	it := api.Iterator(params, false)
//	for it.Next(ctx) {
//		rec := it.Record()
//		...
//	}
//	if err := it.Err(); err != nil { ... }
type Iter struct {
	fetch func(ctx context.Context, cont url.Values) ([]json.RawMessage, url.Values, error)
	buf   []json.RawMessage
	cont  url.Values
	cur   json.RawMessage
	done  bool
	err   error
}

// Next advances to the next record, issuing a request when the current
// batch is exhausted. It returns false at the end of the result set or
// on error; check Err afterwards.
func (it *Iter) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if it.done || it.fetch == nil {
			return false
		}
		records, next, err := it.fetch(ctx, it.cont)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = records
		if next == nil {
			it.done = true
		} else {
			it.cont = next
		}
		if len(it.buf) == 0 && it.done {
			return false
		}
	}
	it.cur = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Record returns the record most recently advanced to by Next.
func (it *Iter) Record() json.RawMessage { return it.cur }

// Err returns the first error encountered while iterating, if any.
func (it *Iter) Err() error { return it.err }

// IterFromRecords returns an Iter over records that are already in
// hand, with no backing query.
func IterFromRecords(records ...json.RawMessage) *Iter {
	return &Iter{buf: records, done: true}
}
