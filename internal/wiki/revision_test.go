package wiki

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

const fooRevision = `{
	"pageid": 1, "ns": 0, "title": "Foo", "lastrevid": 5,
	"revisions": [{
		"revid": 5, "parentid": 4, "minor": "",
		"user": "Bar", "timestamp": "2024-03-01T12:00:00Z",
		"comment": "tweak", "rollbacktoken": "TOK",
		"*": "page text"
	}]
}`

const fooRevisionNoToken = `{
	"pageid": 1, "ns": 0, "title": "Foo", "lastrevid": 5,
	"revisions": [{
		"revid": 5, "parentid": 0,
		"user": "Bar", "timestamp": "2024-03-01T12:00:00Z",
		"comment": "tweak",
		"*": "page text"
	}]
}`

const fooRevisionSuppressed = `{
	"pageid": 1, "ns": 0, "title": "Foo", "lastrevid": 7,
	"revisions": [{
		"revid": 7, "parentid": 5,
		"user": "Bar", "timestamp": "2024-03-02T08:30:00Z",
		"comment": "oops"
	}]
}`

func TestRevisionLoadsOnceAndCaches(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	ctx := context.Background()
	rev := NewRevision(api, 5)

	summary, err := rev.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary != "tweak" {
		t.Errorf("summary = %q, want %q", summary, "tweak")
	}

	ts, err := rev.Timestamp(ctx)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	want := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !ts.Equal(want) {
		t.Errorf("timestamp = %v, want %v", ts, want)
	}

	user, err := rev.User(ctx)
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if user.Name() != "Bar" {
		t.Errorf("user = %q, want %q", user.Name(), "Bar")
	}

	minor, err := rev.IsMinor(ctx)
	if err != nil {
		t.Fatalf("IsMinor: %v", err)
	}
	if !minor {
		t.Error("expected minor edit")
	}

	content, err := rev.Content(ctx)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if content != "page text" {
		t.Errorf("content = %q", content)
	}

	deleted, err := rev.IsDeleted(ctx)
	if err != nil {
		t.Fatalf("IsDeleted: %v", err)
	}
	if deleted {
		t.Error("revision should not be deleted")
	}

	token, err := rev.RollbackToken(ctx)
	if err != nil {
		t.Fatalf("RollbackToken: %v", err)
	}
	if token != "TOK" {
		t.Errorf("token = %q", token)
	}

	page, err := rev.Page(ctx)
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	title, err := page.Title(ctx)
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if title != "Foo" {
		t.Errorf("page title = %q", title)
	}

	// Read everything a second time; the cache must absorb it all.
	if _, err := rev.Summary(ctx); err != nil {
		t.Fatalf("second Summary: %v", err)
	}
	if _, err := rev.Content(ctx); err != nil {
		t.Fatalf("second Content: %v", err)
	}
	if api.queryCalls != 1 {
		t.Errorf("queryCalls = %d, want 1", api.queryCalls)
	}
}

func TestRevisionEqualityIsIdentityBased(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	otherAPI := &mockAPI{}
	ctx := context.Background()

	a := NewRevision(api, 5)
	b := NewRevision(api, 5)
	if !a.Equal(b) || !b.Equal(a) {
		t.Error("same api + same revid should be equal")
	}

	// Load one side; equality must not depend on load state.
	if _, err := a.Summary(ctx); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !a.Equal(b) {
		t.Error("equality changed after load")
	}

	if a.Equal(NewRevision(api, 6)) {
		t.Error("different revid should not be equal")
	}
	if a.Equal(NewRevision(otherAPI, 5)) {
		t.Error("different client handle should not be equal")
	}
	if a.Equal(nil) {
		t.Error("nil should not be equal")
	}
}

func TestRevisionSuppressedContent(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevisionSuppressed)}}
	ctx := context.Background()
	rev := NewRevision(api, 7)

	deleted, err := rev.IsDeleted(ctx)
	if err != nil {
		t.Fatalf("IsDeleted: %v", err)
	}
	if !deleted {
		t.Error("expected deleted revision")
	}

	_, err = rev.Content(ctx)
	var nonexistent *NonexistentError
	if !errors.As(err, &nonexistent) {
		t.Fatalf("Content error = %v, want NonexistentError", err)
	}
	if nonexistent.Kind != "Revision" || nonexistent.ID != int64(7) {
		t.Errorf("error identity = %s %v", nonexistent.Kind, nonexistent.ID)
	}
}

func TestRevisionNonexistent(t *testing.T) {
	api := &mockAPI{}
	ctx := context.Background()
	rev := NewRevision(api, 999)

	for name, access := range map[string]func() error{
		"Summary":   func() error { _, err := rev.Summary(ctx); return err },
		"Content":   func() error { _, err := rev.Content(ctx); return err },
		"Timestamp": func() error { _, err := rev.Timestamp(ctx); return err },
		"IsDeleted": func() error { _, err := rev.IsDeleted(ctx); return err },
	} {
		err := access()
		var nonexistent *NonexistentError
		if !errors.As(err, &nonexistent) {
			t.Fatalf("%s error = %v, want NonexistentError", name, err)
		}
		if nonexistent.Error() != "Revision 999 does not exist" {
			t.Errorf("%s message = %q", name, nonexistent.Error())
		}
	}
}

func TestRevisionPrevChain(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	ctx := context.Background()
	rev := NewRevision(api, 5)

	prev, err := rev.PrevRevision(ctx)
	if err != nil {
		t.Fatalf("PrevRevision: %v", err)
	}
	if !prev.Equal(NewRevision(api, 4)) {
		t.Errorf("prev = %v, want Revision 4 on the same client", prev)
	}
	if prev.loaded {
		t.Error("prev revision should come back unloaded")
	}
	if api.queryCalls != 1 {
		t.Errorf("queryCalls = %d, want 1 (prev must not load eagerly)", api.queryCalls)
	}
}

func TestRevisionFirstHasNoPrev(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevisionNoToken)}}
	ctx := context.Background()

	prev, err := NewRevision(api, 5).PrevRevision(ctx)
	if err != nil {
		t.Fatalf("PrevRevision: %v", err)
	}
	if prev != nil {
		t.Errorf("prev = %v, want nil for a page's first revision", prev)
	}
}

func TestRollbackPermissionGate(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevisionNoToken)}}
	ctx := context.Background()

	_, err := NewRevision(api, 5).Rollback(ctx, nil, false)
	var perm *PermissionsError
	if !errors.As(err, &perm) {
		t.Fatalf("Rollback error = %v, want PermissionsError", err)
	}
	if perm.Error() != "You do not have the rollback permission" {
		t.Errorf("message = %q", perm.Error())
	}
	if api.callCalls != 0 {
		t.Errorf("callCalls = %d, want 0 (no mutating call without the token)", api.callCalls)
	}
}

func TestRollbackRequestShape(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	ctx := context.Background()
	summary := "undo"

	if _, err := NewRevision(api, 5).Rollback(ctx, &summary, true); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if api.callCalls != 1 {
		t.Fatalf("callCalls = %d, want 1", api.callCalls)
	}
	for key, want := range map[string]string{
		"action":  "rollback",
		"title":   "Foo",
		"user":    "Bar",
		"token":   "TOK",
		"summary": "undo",
		"markbot": "1",
	} {
		if got := api.lastCall.Get(key); got != want {
			t.Errorf("param %s = %q, want %q", key, got, want)
		}
	}
}

func TestRollbackSummaryOmittedVsEmpty(t *testing.T) {
	ctx := context.Background()

	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	if _, err := NewRevision(api, 5).Rollback(ctx, nil, false); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if api.lastCall.Has("summary") {
		t.Error("nil summary must omit the parameter")
	}
	if api.lastCall.Has("markbot") {
		t.Error("bot=false must omit markbot")
	}

	api = &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	empty := ""
	if _, err := NewRevision(api, 5).Rollback(ctx, &empty, false); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !api.lastCall.Has("summary") || api.lastCall.Get("summary") != "" {
		t.Error("pointer to empty string must send a blank summary")
	}
}

func TestRestoreDelegatesToPageEdit(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	ctx := context.Background()

	if _, err := NewRevision(api, 5).Restore(ctx, "revert vandalism", false, true, true); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if api.callCalls != 1 {
		t.Fatalf("callCalls = %d, want 1", api.callCalls)
	}
	if got := api.lastCall.Get("action"); got != "edit" {
		t.Errorf("action = %q, want edit", got)
	}
	if got := api.lastCall.Get("text"); got != "page text" {
		t.Errorf("text = %q, want the revision's content", got)
	}
	if got := api.lastCall.Get("summary"); got != "revert vandalism" {
		t.Errorf("summary = %q", got)
	}
	if got := api.lastCall.Get("bot"); got != "1" {
		t.Errorf("bot = %q, want 1", got)
	}
}

func TestRevisionForcedReload(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(fooRevision)}}
	ctx := context.Background()
	rev := NewRevision(api, 5)

	if _, err := rev.Summary(ctx); err != nil {
		t.Fatalf("Summary: %v", err)
	}

	api.records = []json.RawMessage{record(strings.Replace(fooRevision, `"tweak"`, `"rephrased"`, 1))}
	if err := rev.Load(ctx, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}
	summary, err := rev.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary after reload: %v", err)
	}
	if summary != "rephrased" {
		t.Errorf("summary = %q, want refreshed value", summary)
	}
	if api.queryCalls != 2 {
		t.Errorf("queryCalls = %d, want 2", api.queryCalls)
	}
}

func TestRevisionLoadFromPrefetchedRecord(t *testing.T) {
	api := &mockAPI{}
	ctx := context.Background()
	rev := NewRevision(api, 5)

	var res PageResult
	if err := json.Unmarshal(record(fooRevision), &res); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	if err := rev.Load(ctx, &res); err != nil {
		t.Fatalf("Load: %v", err)
	}
	summary, err := rev.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary != "tweak" {
		t.Errorf("summary = %q", summary)
	}
	if api.queryCalls != 0 {
		t.Errorf("queryCalls = %d, want 0 for a prefetched load", api.queryCalls)
	}
}

func TestRevisionMalformedResponse(t *testing.T) {
	api := &mockAPI{records: []json.RawMessage{record(`{
		"pageid": 1, "ns": 0, "title": "Foo",
		"revisions": [{"revid": 5, "user": "Bar", "timestamp": "2024-03-01T12:00:00Z"}]
	}`)}}
	ctx := context.Background()
	rev := NewRevision(api, 5)

	err := rev.Load(ctx, nil)
	if err == nil || !strings.Contains(err.Error(), "missing core revision fields") {
		t.Fatalf("Load error = %v, want core-field complaint", err)
	}
	if rev.loaded {
		t.Error("a failed load must leave the revision unloaded")
	}
}
