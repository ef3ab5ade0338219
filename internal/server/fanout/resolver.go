package fanout

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/securechat/internal/common"
	"github.com/dmitrijs2005/securechat/internal/server/models"
)

// RecipientResolver decides who a stored message goes to.
type RecipientResolver interface {
	Recipients(ctx context.Context, s models.Summary) ([]string, error)
}

// ResolverFunc adapts a function to RecipientResolver.
type ResolverFunc func(ctx context.Context, s models.Summary) ([]string, error)

func (f ResolverFunc) Recipients(ctx context.Context, s models.Summary) ([]string, error) {
	return f(ctx, s)
}

// MemberLister is the group membership resolver.
type MemberLister interface {
	MembersOf(ctx context.Context, groupID string) ([]string, error)
}

// Peer resolves a personal message to its single peer.
func Peer() RecipientResolver {
	return ResolverFunc(func(_ context.Context, s models.Summary) ([]string, error) {
		return []string{s.RecipientID}, nil
	})
}

// GroupMembers resolves a group message to the current members of the
// group without the sender.
func GroupMembers(groups MemberLister) RecipientResolver {
	return ResolverFunc(func(ctx context.Context, s models.Summary) ([]string, error) {
		members, err := groups.MembersOf(ctx, s.RecipientID)
		if err != nil {
			return nil, fmt.Errorf("members of group %s: %w", s.RecipientID, err)
		}

		result := make([]string, 0, len(members))
		for _, id := range members {
			if id != s.SenderID {
				result = append(result, id)
			}
		}
		return result, nil
	})
}

// ByScope picks the resolver matching the scope of the message.
func ByScope(personal, group RecipientResolver) RecipientResolver {
	return ResolverFunc(func(ctx context.Context, s models.Summary) ([]string, error) {
		switch s.Scope {
		case models.ScopePersonal:
			return personal.Recipients(ctx, s)
		case models.ScopeGroup:
			return group.Recipients(ctx, s)
		}
		return nil, fmt.Errorf("%w: unknown scope %q", common.ErrValidation, s.Scope)
	})
}
