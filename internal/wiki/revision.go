package wiki

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Revision is one historical version of a page. The object is a cheap
// handle around a revision id: its attributes are fetched on first
// access and cached, so repeated reads cost a single query. A Revision
// is meant for one logical caller at a time; share the Client, not the
// handle.
type Revision struct {
	api   API
	revid int64

	loaded    bool
	page      lazy[*Page]
	summary   lazy[string]
	timestamp lazy[time.Time]
	user      lazy[*User]
	minor     lazy[bool]
	rvtoken   lazy[string]
	prev      lazy[*Revision]
	content   lazy[string]
	deleted   lazy[bool]
}

// NewRevision returns an unloaded Revision handle for revid.
func NewRevision(api API, revid int64) *Revision {
	return &Revision{api: api, revid: revid}
}

func (r *Revision) String() string {
	return fmt.Sprintf("Revision(api=%s, revid=%d)", r.api, r.revid)
}

// Equal reports whether other denotes the same revision on the same
// client, regardless of load state.
func (r *Revision) Equal(other *Revision) bool {
	return other != nil && r.api == other.api && r.revid == other.revid
}

// RevID returns the revision's immutable identifier.
func (r *Revision) RevID() int64 { return r.revid }

func (r *Revision) load(ctx context.Context) error { return r.Load(ctx, nil) }

// Load fetches the revision's attributes and caches them as one
// bundle. A prefetched query record may be supplied to skip the round
// trip, e.g. when the revision came out of a batched page history
// response; pass nil to query the API. Calling Load on an already
// loaded Revision refreshes every cached field.
//
// A response that contains no matching revision leaves the object
// unloaded; the accessor that triggered the load reports the
// nonexistence.
func (r *Revision) Load(ctx context.Context, res *PageResult) error {
	if res == nil {
		params := url.Values{
			"revids":  {strconv.FormatInt(r.revid, 10)},
			"prop":    {"revisions"},
			"rvprop":  {"ids|flags|timestamp|user|comment|content"},
			"rvtoken": {"rollback"},
		}
		var rec PageResult
		found, err := firstRecord(ctx, r.api, params, &rec)
		if err != nil || !found {
			return err
		}
		res = &rec
	}
	if len(res.Revisions) == 0 {
		return nil
	}
	rev := res.Revisions[0]

	// An existing revision always carries these; their absence means
	// the response is malformed, not that the revision is gone.
	if rev.Comment == nil || rev.Timestamp == nil || rev.User == nil {
		return fmt.Errorf("revision %d: response missing core revision fields", r.revid)
	}
	ts, err := time.Parse(time.RFC3339, *rev.Timestamp)
	if err != nil {
		return fmt.Errorf("revision %d: parse timestamp: %w", r.revid, err)
	}

	// Everything has been validated; from here the bundle is assigned
	// as a whole so a failed load never leaves partial state behind.
	r.page.set(newPageRef(r.api, res.Title, res.PageID))
	r.summary.set(*rev.Comment)
	r.timestamp.set(ts)
	r.user.set(NewUser(r.api, *rev.User))
	r.minor.set(rev.Minor != nil)
	if rev.RollbackToken != nil {
		r.rvtoken.set(*rev.RollbackToken)
	} else {
		r.rvtoken.clear()
	}
	if rev.ParentID != 0 {
		r.prev.set(NewRevision(r.api, rev.ParentID))
	} else {
		r.prev.set(nil)
	}
	if rev.Content != nil {
		r.content.set(*rev.Content)
		r.deleted.set(false)
	} else {
		r.content.clear()
		r.deleted.set(true)
	}
	r.loaded = true
	return nil
}

// Page returns the page this revision was made to.
func (r *Revision) Page(ctx context.Context) (*Page, error) {
	return demand(ctx, r.load, &r.page, "Revision", r.revid)
}

// Summary returns the edit summary that describes this revision.
func (r *Revision) Summary(ctx context.Context) (string, error) {
	return demand(ctx, r.load, &r.summary, "Revision", r.revid)
}

// Timestamp returns the time at which this revision was made.
func (r *Revision) Timestamp(ctx context.Context) (time.Time, error) {
	return demand(ctx, r.load, &r.timestamp, "Revision", r.revid)
}

// User returns the account that made this revision.
func (r *Revision) User(ctx context.Context) (*User, error) {
	return demand(ctx, r.load, &r.user, "Revision", r.revid)
}

// IsMinor reports whether this revision was marked as a minor edit.
func (r *Revision) IsMinor(ctx context.Context) (bool, error) {
	return demand(ctx, r.load, &r.minor, "Revision", r.revid)
}

// RollbackToken returns the privileged rollback credential for this
// revision. The server only issues it to accounts holding rollback
// rights; without them the token is absent and this accessor fails.
func (r *Revision) RollbackToken(ctx context.Context) (string, error) {
	return demand(ctx, r.load, &r.rvtoken, "Revision", r.revid)
}

// PrevRevision returns the chronologically preceding revision of the
// same page, unloaded, or nil if this is the page's first revision.
func (r *Revision) PrevRevision(ctx context.Context) (*Revision, error) {
	return demand(ctx, r.load, &r.prev, "Revision", r.revid)
}

// Content returns the full page text at this revision. It fails for
// revisions whose content has been suppressed; see IsDeleted.
func (r *Revision) Content(ctx context.Context) (string, error) {
	return demand(ctx, r.load, &r.content, "Revision", r.revid)
}

// IsDeleted reports whether the revision's content is suppressed.
func (r *Revision) IsDeleted(ctx context.Context) (bool, error) {
	return demand(ctx, r.load, &r.deleted, "Revision", r.revid)
}

// Restore replaces the owning page's current content with this
// revision's content. The edit is marked minor when minor is set and,
// when bot is set and the account has the bot flag, as a bot edit.
// force makes the edit in spite of edit conflicts and recreates the
// page if it no longer exists. The raw edit result is returned;
// failures propagate from the page edit without retry.
func (r *Revision) Restore(ctx context.Context, summary string, minor, bot, force bool) (json.RawMessage, error) {
	content, err := r.Content(ctx)
	if err != nil {
		return nil, err
	}
	page, err := r.Page(ctx)
	if err != nil {
		return nil, err
	}
	return page.Edit(ctx, content, summary, minor, bot, force)
}

// Rollback reverts, in one server-side call, the chain of consecutive
// edits made to the page by this revision's author. A nil summary
// omits the parameter so the server picks its default; a pointer to
// the empty string requests a blank summary. When bot is set the
// revert is marked as a bot edit, contingent on the account's bot
// flag.
//
// Rollback requires the rollback token. If it was never issued the
// call fails with *PermissionsError before any mutating request is
// made.
func (r *Revision) Rollback(ctx context.Context, summary *string, bot bool) (json.RawMessage, error) {
	if !r.rvtoken.ok {
		if !r.loaded {
			if err := r.load(ctx); err != nil {
				return nil, err
			}
		}
		if !r.rvtoken.ok {
			return nil, &PermissionsError{Reason: "You do not have the rollback permission"}
		}
	}
	page, err := r.Page(ctx)
	if err != nil {
		return nil, err
	}
	title, err := page.Title(ctx)
	if err != nil {
		return nil, err
	}
	user, err := r.User(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"action": {"rollback"},
		"title":  {title},
		"user":   {user.Name()},
		"token":  {r.rvtoken.val},
	}
	if summary != nil {
		params.Set("summary", *summary)
	}
	if bot {
		params.Set("markbot", "1")
	}
	return r.api.Call(ctx, params)
}
