package wiki

import (
	"fmt"
	"strings"
)

// NonexistentError is returned by entity accessors when, after a load
// attempt, the backing entity could not be confirmed to exist. It
// carries the entity kind and its identity value so the message is the
// same no matter which accessor triggered the load.
type NonexistentError struct {
	Kind string
	ID   interface{}
}

func (e *NonexistentError) Error() string {
	if s, ok := e.ID.(string); ok {
		return fmt.Sprintf("%s %q does not exist", e.Kind, s)
	}
	return fmt.Sprintf("%s %v does not exist", e.Kind, e.ID)
}

// PermissionsError is returned when the logged-in account lacks the
// right required by an operation, such as rollback.
type PermissionsError struct {
	Reason string
}

func (e *PermissionsError) Error() string { return e.Reason }

// APIError is an error reported by the remote API in a response body.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Info) }

// InvalidPageError is returned for titles the wiki considers invalid,
// such as titles in virtual namespaces.
type InvalidPageError struct {
	Title string
}

func (e *InvalidPageError) Error() string { return fmt.Sprintf("page %q is invalid", e.Title) }

// RedirectError is returned when redirect resolution is requested on a
// page that is not a redirect, or whose target cannot be determined.
type RedirectError struct {
	Reason string
}

func (e *RedirectError) Error() string { return e.Reason }

// EditError is the general failure of a page mutation.
type EditError struct {
	Code string
	Info string
}

func (e *EditError) Error() string { return fmt.Sprintf("edit failed: %s: %s", e.Code, e.Info) }

// EditConflictError reports that the edit collided with another edit,
// an existing page, or a deletion.
type EditConflictError struct {
	EditError
}

// SpamFilterError reports that the spam filter rejected the edit.
type SpamFilterError struct {
	EditError
}

// EditFilterError reports that an abuse filter rejected the edit.
type EditFilterError struct {
	EditError
}

// mapEditError narrows an APIError from an edit call into the typed
// error a caller can act on. Other errors pass through unchanged.
func mapEditError(err error) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return err
	}
	code := strings.TrimSuffix(apiErr.Code, "-anon")
	switch code {
	case "articleexists", "editconflict", "pagedeleted":
		return &EditConflictError{EditError{Code: code, Info: apiErr.Info}}
	case "noedit", "noimageredirect", "protectedpage", "protectedtitle", "cantcreate":
		return &PermissionsError{Reason: apiErr.Info}
	case "filtered":
		return &EditFilterError{EditError{Code: code, Info: apiErr.Info}}
	case "spamdetected":
		return &SpamFilterError{EditError{Code: code, Info: apiErr.Info}}
	}
	return &EditError{Code: code, Info: apiErr.Info}
}
