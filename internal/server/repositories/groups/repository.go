package groups

import "context"

// Repository resolves group membership.
type Repository interface {
	// MembersOf returns the user ids of every member of the group, or
	// common.ErrNotFound when the group does not exist. An existing group
	// may have no members.
	MembersOf(ctx context.Context, groupID string) ([]string, error)
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
}
