package wiki

// Wire types for action=query responses. Keys whose mere presence is
// the signal (missing, minor, redirect, ...) decode into pointers so
// an empty string still counts as present.

// PageResult is one page record of a query response, as yielded by
// Iter for prop=revisions, prop=info and friends.
type PageResult struct {
	PageID          int64             `json:"pageid"`
	NS              *int              `json:"ns"`
	Title           string            `json:"title"`
	Missing         *string           `json:"missing"`
	Invalid         *string           `json:"invalid"`
	Redirect        *string           `json:"redirect"`
	LastRevID       int64             `json:"lastrevid"`
	Protection      []ProtectionInfo  `json:"protection"`
	Categories      []CategoryInfo    `json:"categories"`
	Revisions       []RevisionResult  `json:"revisions"`
	ImageRepository string            `json:"imagerepository"`
	ImageInfo       []ImageInfoResult `json:"imageinfo"`
}

// RevisionResult is one element of a page record's revisions list.
// The content lives under the bare "*" key; its absence marks a
// suppressed revision.
type RevisionResult struct {
	RevID         int64   `json:"revid"`
	ParentID      int64   `json:"parentid"`
	Minor         *string `json:"minor"`
	User          *string `json:"user"`
	Timestamp     *string `json:"timestamp"`
	Comment       *string `json:"comment"`
	RollbackToken *string `json:"rollbacktoken"`
	Content       *string `json:"*"`
}

// ProtectionInfo is one entry of a page's inprop=protection list.
type ProtectionInfo struct {
	Type   string `json:"type"`
	Level  string `json:"level"`
	Expiry string `json:"expiry"`
}

// CategoryInfo is one entry of a page's prop=categories list.
type CategoryInfo struct {
	Title string `json:"title"`
}

// ImageInfoResult is one entry of a file page's imageinfo list.
type ImageInfoResult struct {
	URL    string `json:"url"`
	Mime   string `json:"mime"`
	SHA1   string `json:"sha1"`
	Size   int64  `json:"size"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	User   string `json:"user"`
}

// UserResult is one record of a list=users query.
type UserResult struct {
	Name         string   `json:"name"`
	UserID       int64    `json:"userid"`
	Missing      *string  `json:"missing"`
	Invalid      *string  `json:"invalid"`
	EditCount    int64    `json:"editcount"`
	Registration *string  `json:"registration"`
	Groups       []string `json:"groups"`
	Rights       []string `json:"rights"`
	BlockedBy    *string  `json:"blockedby"`
	Gender       string   `json:"gender"`
}
