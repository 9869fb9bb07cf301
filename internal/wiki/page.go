package wiki

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

// Protection describes the restriction on one page action. A zero
// Level means the action is unrestricted; a nil Expiry means the
// restriction never expires.
type Protection struct {
	Level  string
	Expiry *time.Time
}

// Page is an addressable document on the wiki, identified by title or
// page id. Like Revision, it is a lazy handle: attributes are fetched
// on first access and cached.
type Page struct {
	api API

	// FollowRedirects makes Load resolve redirects, at the cost of a
	// second query when the page is one.
	FollowRedirects bool

	// loadWith lets embedding types (File) widen what a load fetches
	// while keeping the inherited accessors working.
	loadWith func(context.Context) error

	title  string // constructor value, normalized after a load
	pageid int64  // constructor value or loaded; -1 once known missing

	loaded     bool
	content    lazy[string]
	exists     lazy[bool]
	redirect   lazy[bool]
	namespace  lazy[int]
	talkpage   lazy[bool]
	protection lazy[map[string]Protection]
	lastEditor lazy[*User]
	lastRevID  lazy[int64]
	categories lazy[[]string]

	redirectTarget *Page
}

// NewPage returns an unloaded Page handle for a title.
func NewPage(api API, title string) *Page {
	return newPageRef(api, title, 0)
}

// NewPageByID returns an unloaded Page handle for a page id.
func NewPageByID(api API, pageid int64) *Page {
	return newPageRef(api, "", pageid)
}

func newPageRef(api API, title string, pageid int64) *Page {
	p := &Page{api: api, title: title, pageid: pageid}
	p.loadWith = p.load
	return p
}

func (p *Page) String() string {
	return fmt.Sprintf("Page(api=%s, title=%q, pageid=%d)", p.api, p.title, p.pageid)
}

// Equal reports whether other denotes the same page on the same
// client, by title or by page id.
func (p *Page) Equal(other *Page) bool {
	if other == nil || p.api != other.api {
		return false
	}
	if p.title != "" && p.title == other.title {
		return true
	}
	return p.pageid != 0 && p.pageid == other.pageid
}

// ident is the identity value used in error messages: the title when
// known, the page id otherwise.
func (p *Page) ident() interface{} {
	if p.title != "" {
		return p.title
	}
	return p.pageid
}

// identityParams returns the query parameter addressing this page.
// plural selects the list form ("titles") used by query modules over
// the singular form ("title") used by mutations.
func (p *Page) identityParams(plural bool) (key, value string, err error) {
	suffix := ""
	if plural {
		suffix = "s"
	}
	switch {
	case p.title != "":
		return "title" + suffix, p.title, nil
	case p.pageid != 0 && p.pageid != -1:
		return "pageid" + suffix, strconv.FormatInt(p.pageid, 10), nil
	}
	return "", "", &InvalidPageError{Title: p.title}
}

func (p *Page) load(ctx context.Context) error { return p.Load(ctx, nil) }

// Load fetches the page's attributes as one bundle, optionally from a
// prefetched query record. When FollowRedirects is set and the page is
// a redirect, a second query loads the target's attributes instead,
// and the handle's title becomes the target's.
func (p *Page) Load(ctx context.Context, res *PageResult) error {
	if err := p.loadFrom(ctx, res); err != nil {
		return err
	}
	if p.FollowRedirects && p.redirect.ok && p.redirect.val {
		target, err := p.RedirectTarget(ctx)
		if err != nil {
			return err
		}
		p.title = target.title
		p.content.clear()
		p.redirectTarget = nil
		return p.loadFrom(ctx, nil)
	}
	return nil
}

func (p *Page) loadFrom(ctx context.Context, res *PageResult) error {
	if res == nil {
		key, value, err := p.identityParams(true)
		if err != nil {
			return err
		}
		params := url.Values{
			key:       {value},
			"prop":    {"info|revisions|categories"},
			"rvprop":  {"ids|flags|timestamp|user|comment|content"},
			"inprop":  {"protection"},
			"rvlimit": {"1"},
			"rvdir":   {"older"},
		}
		var rec PageResult
		found, err := firstRecord(ctx, p.api, params, &rec)
		if err != nil || !found {
			return err
		}
		res = &rec
	}
	if res.PageID <= 0 && res.Missing == nil {
		title := res.Title
		if title == "" {
			title = p.title
		}
		return &InvalidPageError{Title: title}
	}
	if res.NS == nil {
		return fmt.Errorf("page %v: response missing namespace", p.ident())
	}

	// Normalize the title in case it was entered oddly.
	if res.Title != "" {
		p.title = res.Title
	}
	ns := *res.NS
	p.namespace.set(ns)
	p.talkpage.set(ns >= 0 && ns%2 == 1)
	p.redirect.set(res.Redirect != nil)
	p.categories.set(categoryTitles(res.Categories))
	p.protection.set(parseProtection(res.Protection))

	if res.PageID <= 0 {
		p.pageid = -1
		p.exists.set(false)
		p.content.clear()
		p.lastEditor.clear()
		p.lastRevID.clear()
		p.loaded = true
		return nil
	}
	p.pageid = res.PageID
	p.exists.set(true)
	p.lastRevID.set(res.LastRevID)
	if len(res.Revisions) > 0 {
		rev := res.Revisions[0]
		if rev.Content != nil {
			p.content.set(*rev.Content)
		} else {
			p.content.clear()
		}
		if rev.User != nil {
			p.lastEditor.set(NewUser(p.api, *rev.User))
		}
	}
	p.loaded = true
	return nil
}

func categoryTitles(cats []CategoryInfo) []string {
	titles := make([]string, 0, len(cats))
	for _, c := range cats {
		titles = append(titles, c.Title)
	}
	return titles
}

// parseProtection builds the protection map the accessor exposes. The
// standard actions are always present; unprotected ones map to the
// zero Protection.
func parseProtection(infos []ProtectionInfo) map[string]Protection {
	prot := map[string]Protection{
		"edit":   {},
		"move":   {},
		"create": {},
	}
	for _, info := range infos {
		var expiry *time.Time
		if info.Expiry != "" && info.Expiry != "infinity" {
			if t, err := time.Parse(time.RFC3339, info.Expiry); err == nil {
				expiry = &t
			}
		}
		prot[info.Type] = Protection{Level: info.Level, Expiry: expiry}
	}
	return prot
}

// Title returns the page's title: the constructor value (normalized
// once loaded), or the resolved title for a handle constructed from a
// bare page id.
func (p *Page) Title(ctx context.Context) (string, error) {
	if p.title != "" {
		return p.title, nil
	}
	if err := p.loadWith(ctx); err != nil {
		return "", err
	}
	if p.title == "" {
		return "", &NonexistentError{Kind: "Page", ID: p.ident()}
	}
	return p.title, nil
}

// PageID returns the page's id, loading it for a handle constructed
// from a title. A missing page reports -1.
func (p *Page) PageID(ctx context.Context) (int64, error) {
	if p.pageid != 0 {
		return p.pageid, nil
	}
	if err := p.loadWith(ctx); err != nil {
		return 0, err
	}
	if p.pageid == 0 {
		return 0, &NonexistentError{Kind: "Page", ID: p.ident()}
	}
	return p.pageid, nil
}

// Content returns the page's current text.
func (p *Page) Content(ctx context.Context) (string, error) {
	return demand(ctx, p.loadWith, &p.content, "Page", p.ident())
}

// Exists reports whether the page exists.
func (p *Page) Exists(ctx context.Context) (bool, error) {
	return demand(ctx, p.loadWith, &p.exists, "Page", p.ident())
}

// IsRedirect reports whether the page is a redirect.
func (p *Page) IsRedirect(ctx context.Context) (bool, error) {
	return demand(ctx, p.loadWith, &p.redirect, "Page", p.ident())
}

// Namespace returns the page's namespace number.
func (p *Page) Namespace(ctx context.Context) (int, error) {
	return demand(ctx, p.loadWith, &p.namespace, "Page", p.ident())
}

// IsTalkPage reports whether the page lives in a talk namespace.
func (p *Page) IsTalkPage(ctx context.Context) (bool, error) {
	return demand(ctx, p.loadWith, &p.talkpage, "Page", p.ident())
}

// Protection returns the page's protection levels keyed by action
// ("edit", "move", "create", plus any wiki-specific actions).
func (p *Page) Protection(ctx context.Context) (map[string]Protection, error) {
	return demand(ctx, p.loadWith, &p.protection, "Page", p.ident())
}

// LastEditor returns the account that most recently edited the page.
func (p *Page) LastEditor(ctx context.Context) (*User, error) {
	return demand(ctx, p.loadWith, &p.lastEditor, "Page", p.ident())
}

// LastRevID returns the page's current revision id.
func (p *Page) LastRevID(ctx context.Context) (int64, error) {
	return demand(ctx, p.loadWith, &p.lastRevID, "Page", p.ident())
}

// Categories returns the titles of the categories the page is in.
func (p *Page) Categories(ctx context.Context) ([]string, error) {
	return demand(ctx, p.loadWith, &p.categories, "Page", p.ident())
}

var redirectRe = regexp.MustCompile(`(?i)#redirect\s*\[\[(.+?)\]\]`)

// RedirectTarget returns the page this page redirects to. It fails
// with *RedirectError when the page is not a redirect.
func (p *Page) RedirectTarget(ctx context.Context) (*Page, error) {
	exists, err := p.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &NonexistentError{Kind: "Page", ID: p.ident()}
	}
	isRedirect, err := p.IsRedirect(ctx)
	if err != nil {
		return nil, err
	}
	if !isRedirect {
		return nil, &RedirectError{Reason: "page is not a redirect"}
	}
	if p.redirectTarget != nil {
		return p.redirectTarget, nil
	}
	content, err := p.Content(ctx)
	if err != nil {
		return nil, err
	}
	m := redirectRe.FindStringSubmatch(content)
	if m == nil {
		return nil, &RedirectError{Reason: "could not determine redirect target"}
	}
	p.redirectTarget = NewPage(p.api, m[1])
	return p.redirectTarget, nil
}

// Revisions returns the page's history, newest first, up to limit
// entries (0 asks for the server maximum). Each returned Revision is
// already loaded from the batched response, so reading its attributes
// costs no further queries.
func (p *Page) Revisions(ctx context.Context, limit int) ([]*Revision, error) {
	key, value, err := p.identityParams(true)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		key:      {value},
		"prop":   {"revisions"},
		"rvprop": {"ids|flags|timestamp|user|comment|content"},
		"rvdir":  {"older"},
	}
	if limit > 0 {
		params.Set("rvlimit", strconv.Itoa(limit))
	} else {
		params.Set("rvlimit", "max")
	}
	var rec PageResult
	found, err := firstRecord(ctx, p.api, params, &rec)
	if err != nil || !found {
		return nil, err
	}
	revs := make([]*Revision, 0, len(rec.Revisions))
	for _, rr := range rec.Revisions {
		rev := NewRevision(p.api, rr.RevID)
		filler := &PageResult{PageID: rec.PageID, Title: rec.Title, Revisions: []RevisionResult{rr}}
		if err := rev.Load(ctx, filler); err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

type editType int

const (
	editStandard editType = iota
	editCreate
	editAppend
	editPrepend
)

// Edit replaces the page's content. The edit is marked minor when
// minor is set and, when bot is set and the account has the bot flag,
// as a bot edit. force skips edit-conflict detection and allows the
// edit to recreate a missing page.
func (p *Page) Edit(ctx context.Context, content, summary string, minor, bot, force bool) (json.RawMessage, error) {
	return p.edit(ctx, content, summary, minor, bot, force, editStandard)
}

// Create creates the page with the given content.
func (p *Page) Create(ctx context.Context, content, summary string, minor, bot, force bool) (json.RawMessage, error) {
	return p.edit(ctx, content, summary, minor, bot, force, editCreate)
}

// Append adds content to the bottom of the page.
func (p *Page) Append(ctx context.Context, content, summary string, minor, bot, force bool) (json.RawMessage, error) {
	return p.edit(ctx, content, summary, minor, bot, force, editAppend)
}

// Prepend adds content to the top of the page.
func (p *Page) Prepend(ctx context.Context, content, summary string, minor, bot, force bool) (json.RawMessage, error) {
	return p.edit(ctx, content, summary, minor, bot, force, editPrepend)
}

func (p *Page) edit(ctx context.Context, content, summary string, minor, bot, force bool, kind editType) (json.RawMessage, error) {
	identKey, identValue, err := p.identityParams(false)
	if err != nil {
		return nil, err
	}
	token, err := p.api.CSRFToken(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"action":   {"edit"},
		"text":     {content},
		"token":    {token},
		"summary":  {summary},
		identKey:   {identValue},
		"notminor": {"1"},
		"nocreate": {"1"},
	}
	if minor {
		params.Del("notminor")
		params.Set("minor", "1")
	}
	if bot {
		params.Set("bot", "1")
	}
	if !force {
		if err := p.guardEdit(ctx, params, kind); err != nil {
			return nil, err
		}
		sum := md5.Sum([]byte(content))
		params.Set("md5", hex.EncodeToString(sum[:]))
	}
	switch kind {
	case editAppend:
		params.Set("appendtext", content)
		params.Del("text")
	case editPrepend:
		params.Set("prependtext", content)
		params.Del("text")
	case editCreate:
		params.Set("createonly", "1")
		params.Del("nocreate")
	}
	raw, err := p.api.Call(ctx, params)
	if err != nil {
		return nil, mapEditError(err)
	}
	return raw, p.applyEditResult(raw)
}

// guardEdit performs the pre-edit existence and conflict checks,
// adding base/start timestamps to params so the server rejects edits
// racing a newer revision.
func (p *Page) guardEdit(ctx context.Context, params url.Values, kind editType) error {
	key, value, err := p.identityParams(true)
	if err != nil {
		return err
	}
	detect := url.Values{
		key:      {value},
		"prop":   {"revisions"},
		"rvprop": {"timestamp"},
	}
	var rec PageResult
	found, err := firstRecord(ctx, p.api, detect, &rec)
	if err != nil {
		return err
	}
	if !found || rec.Missing != nil {
		if kind != editCreate {
			return &EditError{Code: "missingtitle", Info: "page does not exist; use Create"}
		}
		return nil
	}
	if rec.NS != nil && *rec.NS == -1 {
		return &InvalidPageError{Title: rec.Title}
	}
	if kind != editCreate && len(rec.Revisions) > 0 && rec.Revisions[0].Timestamp != nil {
		params.Set("basetimestamp", *rec.Revisions[0].Timestamp)
		params.Set("starttimestamp", time.Now().UTC().Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

// applyEditResult folds the server's verdict back into the handle:
// on success cached content is stale and gets dropped, the title is
// re-normalized, and the new revision id is recorded.
func (p *Page) applyEditResult(raw json.RawMessage) error {
	var envelope struct {
		Edit map[string]json.RawMessage `json:"edit"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode edit result: %w", err)
	}
	var result string
	if r, ok := envelope.Edit["result"]; ok {
		_ = json.Unmarshal(r, &result)
	}
	switch result {
	case "Success":
		p.content.clear()
		p.exists.set(true)
		var newRevID int64
		if r, ok := envelope.Edit["newrevid"]; ok && json.Unmarshal(r, &newRevID) == nil && newRevID != 0 {
			p.lastRevID.set(newRevID)
		}
		var title string
		if r, ok := envelope.Edit["title"]; ok && json.Unmarshal(r, &title) == nil && title != "" {
			p.title = title
		}
		return nil
	case "Failure":
		code, info := "unknownerror", "unknown error"
		for key, val := range envelope.Edit {
			if key == "result" {
				continue
			}
			code = key
			var s string
			if json.Unmarshal(val, &s) == nil {
				info = s
			} else {
				info = string(val)
			}
			break
		}
		if code == "spamblacklist" {
			return &SpamFilterError{EditError{Code: code, Info: info}}
		}
		return &EditError{Code: code, Info: info}
	}
	return nil
}

// Move renames the page to target. talk and subpages move the talk
// page and subpages along; redirect controls whether a redirect is
// left behind.
func (p *Page) Move(ctx context.Context, target, reason string, talk, subpages, redirect bool) (json.RawMessage, error) {
	title, err := p.Title(ctx)
	if err != nil {
		return nil, err
	}
	token, err := p.api.CSRFToken(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"action": {"move"},
		"from":   {title},
		"to":     {target},
		"reason": {reason},
		"token":  {token},
	}
	if talk {
		params.Set("movetalk", "1")
	}
	if subpages {
		params.Set("movesubpages", "1")
	}
	if !redirect {
		params.Set("noredirect", "1")
	}
	return p.api.Call(ctx, params)
}

// Delete deletes the page.
func (p *Page) Delete(ctx context.Context, reason string) (json.RawMessage, error) {
	return p.adminAction(ctx, "delete", reason)
}

// Undelete restores the page's deleted revisions.
func (p *Page) Undelete(ctx context.Context, reason string) (json.RawMessage, error) {
	return p.adminAction(ctx, "undelete", reason)
}

func (p *Page) adminAction(ctx context.Context, action, reason string) (json.RawMessage, error) {
	title, err := p.Title(ctx)
	if err != nil {
		return nil, err
	}
	token, err := p.api.CSRFToken(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"action": {action},
		"title":  {title},
		"token":  {token},
	}
	if reason != "" {
		params.Set("reason", reason)
	}
	return p.api.Call(ctx, params)
}
