package wiki

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// User is an account on the wiki, identified by name. The third
// instance of the lazy remote-object pattern: construction is cheap,
// attributes load on first access.
type User struct {
	api  API
	name string

	loaded       bool
	exists       lazy[bool]
	userID       lazy[int64]
	editCount    lazy[int64]
	registration lazy[time.Time]
	groups       lazy[[]string]
	rights       lazy[[]string]
	blocked      lazy[bool]
	gender       lazy[string]
}

// NewUser returns an unloaded User handle for an account name.
func NewUser(api API, name string) *User {
	return &User{api: api, name: name}
}

func (u *User) String() string {
	return fmt.Sprintf("User(api=%s, name=%q)", u.api, u.name)
}

// Equal reports whether other denotes the same account on the same
// client.
func (u *User) Equal(other *User) bool {
	return other != nil && u.api == other.api && u.name == other.name
}

// Name returns the account name the handle was constructed with.
func (u *User) Name() string { return u.name }

func (u *User) load(ctx context.Context) error { return u.Load(ctx, nil) }

// Load fetches the account's attributes as one bundle, optionally from
// a prefetched list=users record.
func (u *User) Load(ctx context.Context, res *UserResult) error {
	if res == nil {
		params := url.Values{
			"list":    {"users"},
			"ususers": {u.name},
			"usprop":  {"blockinfo|groups|rights|editcount|registration|gender"},
		}
		var rec UserResult
		found, err := firstRecord(ctx, u.api, params, &rec)
		if err != nil || !found {
			return err
		}
		res = &rec
	}
	if res.Missing != nil || res.Invalid != nil {
		u.exists.set(false)
		u.loaded = true
		return nil
	}
	var registration time.Time
	if res.Registration != nil {
		t, err := time.Parse(time.RFC3339, *res.Registration)
		if err != nil {
			return fmt.Errorf("user %q: parse registration: %w", u.name, err)
		}
		registration = t
	}
	if res.Name != "" {
		u.name = res.Name
	}
	u.exists.set(true)
	u.userID.set(res.UserID)
	u.editCount.set(res.EditCount)
	u.registration.set(registration)
	u.groups.set(res.Groups)
	u.rights.set(res.Rights)
	u.blocked.set(res.BlockedBy != nil)
	u.gender.set(res.Gender)
	u.loaded = true
	return nil
}

// Exists reports whether the account is registered.
func (u *User) Exists(ctx context.Context) (bool, error) {
	return demand(ctx, u.load, &u.exists, "User", u.name)
}

// UserID returns the account's numeric id.
func (u *User) UserID(ctx context.Context) (int64, error) {
	return demand(ctx, u.load, &u.userID, "User", u.name)
}

// EditCount returns the account's edit count.
func (u *User) EditCount(ctx context.Context) (int64, error) {
	return demand(ctx, u.load, &u.editCount, "User", u.name)
}

// Registration returns when the account was registered; the zero time
// for accounts predating registration records.
func (u *User) Registration(ctx context.Context) (time.Time, error) {
	return demand(ctx, u.load, &u.registration, "User", u.name)
}

// Groups returns the groups the account belongs to.
func (u *User) Groups(ctx context.Context) ([]string, error) {
	return demand(ctx, u.load, &u.groups, "User", u.name)
}

// Rights returns the rights the account holds.
func (u *User) Rights(ctx context.Context) ([]string, error) {
	return demand(ctx, u.load, &u.rights, "User", u.name)
}

// IsBlocked reports whether the account is currently blocked.
func (u *User) IsBlocked(ctx context.Context) (bool, error) {
	return demand(ctx, u.load, &u.blocked, "User", u.name)
}

// Gender returns the account's configured gender.
func (u *User) Gender(ctx context.Context) (string, error) {
	return demand(ctx, u.load, &u.gender, "User", u.name)
}
