// Package access turns playback items into readable local files. It
// resolves bookmarks and file URIs, enforces the library sandbox, and hands
// out at most one open file grant at a time.
package access

import (
	"errors"
	"fmt"

	"github.com/austinkregel/local-media/playerd/internal/types"
)

// MissingError classifies why an item's resource could not be opened
type MissingError struct {
	Reason types.MissingReason
	Target string
	Err    error
}

func (e *MissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Target)
}

func (e *MissingError) Unwrap() error {
	return e.Err
}

func missing(reason types.MissingReason, target string, err error) *MissingError {
	return &MissingError{Reason: reason, Target: target, Err: err}
}

// ReasonOf extracts the missing reason from an error chain
func ReasonOf(err error) (types.MissingReason, bool) {
	var me *MissingError
	if errors.As(err, &me) {
		return me.Reason, true
	}
	return "", false
}
