package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
)

// mockAPI is a canned transport for entity tests. Every Iterator call
// replays the same records; counters track how often each endpoint was
// hit.
type mockAPI struct {
	records   []json.RawMessage
	lastQuery url.Values
	// queryCalls counts Iterator uses, i.e. queries a real client
	// would issue.
	queryCalls int

	callResult json.RawMessage
	callErr    error
	lastCall   url.Values
	callCalls  int

	csrf string
}

var _ API = (*mockAPI)(nil)

func (m *mockAPI) String() string { return "mock" }

func (m *mockAPI) Iterator(params url.Values, useDefaults bool) *Iter {
	m.queryCalls++
	m.lastQuery = params
	return IterFromRecords(m.records...)
}

func (m *mockAPI) Call(ctx context.Context, params url.Values) (json.RawMessage, error) {
	m.callCalls++
	m.lastCall = params
	if m.callErr != nil {
		return nil, m.callErr
	}
	if m.callResult != nil {
		return m.callResult, nil
	}
	return json.RawMessage(`{"edit":{"result":"Success","newrevid":100,"title":"Foo"}}`), nil
}

func (m *mockAPI) CSRFToken(ctx context.Context) (string, error) {
	if m.csrf == "" {
		return "CSRF", nil
	}
	return m.csrf, nil
}

// mockUploadAPI adds multipart upload and raw fetch support.
type mockUploadAPI struct {
	mockAPI
	uploadCalls  int
	uploadParams url.Values
	uploadBody   []byte
	fetchBody    string
}

func (m *mockUploadAPI) Upload(ctx context.Context, params url.Values, filename string, file io.Reader) (json.RawMessage, error) {
	m.uploadCalls++
	m.uploadParams = params
	body, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	m.uploadBody = body
	return json.RawMessage(`{"upload":{"result":"Success"}}`), nil
}

func (m *mockUploadAPI) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewBufferString(m.fetchBody)), nil
}

func record(s string) json.RawMessage { return json.RawMessage(s) }
