// policy/errors.go
package policy

import "strings"

// ErrorKind classifies a per-room reconciliation failure.
type ErrorKind string

const (
	// ErrorKindPermission means the acting identity lacks rights to sanction
	// in the room. The room is skipped and the pass continues.
	ErrorKindPermission ErrorKind = "permission"
	// ErrorKindFatal is any other per-room failure. Also recoverable at the
	// pass level: the room is skipped and the pass continues.
	ErrorKindFatal ErrorKind = "fatal"
)

// RoomUpdateError records one room that could not be fully reconciled.
// Producing it never aborts processing of other rooms.
type RoomUpdateError struct {
	RoomID  string
	Message string
	Kind    ErrorKind
}

// Homeservers report sanction permission failures with this wording.
// Matching on a hardcoded English phrase is fragile (reworded or localized
// errors classify as fatal), but the behavior is intentional; revisit here
// rather than at call sites.
const permissionDeniedPhrase = "You don't have permission to ban/kick"

func classifyError(err error) ErrorKind {
	if strings.Contains(err.Error(), permissionDeniedPhrase) {
		return ErrorKindPermission
	}
	return ErrorKindFatal
}
