package window

import "errors"

var (
	// ErrUnknownMember — member не входит в набор условий composite.
	ErrUnknownMember = errors.New("member is not part of composite")

	// ErrEmptyComposite — composite без member-условий.
	ErrEmptyComposite = errors.New("composite has no members")
)
