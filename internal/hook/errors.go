package hook

import "errors"

// Sentinel errors for the hook package.
var (
	// ErrNoFactory is returned by Slot.Invoke when the host never installed
	// a factory.
	ErrNoFactory = errors.New("hook slot has no factory")

	// ErrHandleNotComparable is reported when a session handle cannot be
	// used as an identity key.
	ErrHandleNotComparable = errors.New("session handle is not comparable")
)
