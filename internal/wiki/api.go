package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
)

// API is the narrow transport surface the entity types consume. It is
// implemented by Client; tests substitute their own.
//
// Entities never retry and never log through this interface: a failed
// query or call surfaces to the caller unchanged.
type API interface {
	fmt.Stringer

	// Iterator executes a paginated query and yields its records
	// lazily. Entities typically consume only the first record.
	Iterator(params url.Values, useDefaults bool) *Iter

	// Call executes one mutating request and returns its raw decoded
	// result.
	Call(ctx context.Context, params url.Values) (json.RawMessage, error)

	// CSRFToken returns the account's edit token, fetched once and
	// cached for the session.
	CSRFToken(ctx context.Context) (string, error)
}

// uploadAPI is implemented by transports that support multipart file
// uploads. File.Upload requires it.
type uploadAPI interface {
	Upload(ctx context.Context, params url.Values, filename string, file io.Reader) (json.RawMessage, error)
}

// fetchAPI is implemented by transports that can fetch a raw URL
// outside the query API, such as a file's media URL.
type fetchAPI interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// firstRecord runs the query described by params and decodes its first
// record into dst. It reports whether a record was found at all; an
// empty result is not an error, it simply means the entity is absent.
func firstRecord(ctx context.Context, api API, params url.Values, dst interface{}) (bool, error) {
	it := api.Iterator(params, false)
	if !it.Next(ctx) {
		return false, it.Err()
	}
	if err := json.Unmarshal(it.Record(), dst); err != nil {
		return false, fmt.Errorf("decode query record: %w", err)
	}
	return true, nil
}
