package contacts

import "context"

// Repository keeps each user's contact list. Contacts are directed: A
// having B as a contact says nothing about B.
type Repository interface {
	ContactsOf(ctx context.Context, userID string) ([]string, error)
	// EnsureContact adds contactID to owner's list and reports whether it
	// was absent before.
	EnsureContact(ctx context.Context, owner, contactID string) (bool, error)
}
