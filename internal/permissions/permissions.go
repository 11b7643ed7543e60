// Package permissions answers "can user X do Y on this server/channel".
// Effective permissions are never stored, every check recomputes the fold
// from the current role and override data.
package permissions

import (
	"context"
	"sort"
	"strconv"

	"github.com/Serval-Chat/backend-sub001/internal/models"
	"go.uber.org/zap"
)

// Store is the slice of the persistence layer the resolver needs.
type Store interface {
	GetServer(ctx context.Context, serverID int64) (*models.Server, error)
	GetMember(ctx context.Context, serverID int64, userID int64) (*models.ServerMember, error)
	GetRole(ctx context.Context, roleID int64) (*models.Role, error)
	GetEveryoneRole(ctx context.Context, serverID int64) (*models.Role, error)
	GetChannel(ctx context.Context, channelID int64) (*models.Channel, error)
	GetCategory(ctx context.Context, categoryID int64) (*models.Category, error)
}

type Service struct {
	store Store
	sugar *zap.SugaredLogger
}

func NewService(store Store, sugar *zap.SugaredLogger) *Service {
	return &Service{store: store, sugar: sugar}
}

// HasPermission resolves the server-level effective permission.
//
// Owner and administrator short-circuit to true unconditionally. Otherwise
// the member's roles (plus the implicit @everyone role) are folded in
// ascending position order: each role that defines the permission key
// overwrites the running value, so a higher-positioned role wins on
// conflict. No role defining the key means false.
func (s *Service) HasPermission(ctx context.Context, serverID int64, userID int64, permission string) (bool, error) {
	roles, granted, err := s.memberRoles(ctx, serverID, userID)
	if err != nil || granted != undecided {
		return granted == grantAll, err
	}

	result := false
	for _, role := range roles {
		if value, defined := role.Permissions[permission]; defined {
			result = value
		}
	}
	return result, nil
}

// HasChannelPermission layers channel and category overrides on top of the
// server-level fold. Overrides are applied in the same ascending-position
// order, seeded with the server-level result, and only for roles that carry
// an explicit entry for this permission. A channel entry beats a category
// entry for the same role. This path must run even when the member's only
// role is @everyone: a false channel override for @everyone defeats a true
// base grant.
func (s *Service) HasChannelPermission(ctx context.Context, serverID int64, userID int64, channelID int64, permission string) (bool, error) {
	roles, granted, err := s.memberRoles(ctx, serverID, userID)
	if err != nil || granted != undecided {
		return granted == grantAll, err
	}

	base := false
	for _, role := range roles {
		if value, defined := role.Permissions[permission]; defined {
			base = value
		}
	}

	channel, err := s.store.GetChannel(ctx, channelID)
	if err != nil {
		return false, err
	}
	if channel == nil || channel.ServerID != serverID {
		s.sugar.Warnf("Channel ID [%d] not found on server ID [%d] during permission check", channelID, serverID)
		return base, nil
	}

	var categoryOverrides models.Overrides
	if channel.CategoryID != 0 {
		category, err := s.store.GetCategory(ctx, channel.CategoryID)
		if err != nil {
			return false, err
		}
		if category == nil {
			s.sugar.Warnf("Channel ID [%d] references missing category ID [%d]", channelID, channel.CategoryID)
		} else {
			categoryOverrides = category.Overrides
		}
	}

	result := base
	for _, role := range roles {
		key := strconv.FormatInt(role.ID, 10)
		if value, defined := overrideFor(channel.Overrides, key, permission); defined {
			result = value
			continue
		}
		if value, defined := overrideFor(categoryOverrides, key, permission); defined {
			result = value
		}
	}
	return result, nil
}

func overrideFor(overrides models.Overrides, roleKey string, permission string) (bool, bool) {
	entry, exists := overrides[roleKey]
	if !exists {
		return false, false
	}
	value, defined := entry[permission]
	return value, defined
}

type grant int

const (
	undecided grant = iota
	grantAll
	denyAll
)

// memberRoles loads the user's role set sorted by ascending position, or
// decides the check outright (owner/administrator grant, non-member deny).
// Dangling role references contribute nothing; resolution is total.
func (s *Service) memberRoles(ctx context.Context, serverID int64, userID int64) ([]*models.Role, grant, error) {
	server, err := s.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, undecided, err
	}
	if server == nil {
		return nil, denyAll, nil
	}
	if server.OwnerID == userID {
		return nil, grantAll, nil
	}

	member, err := s.store.GetMember(ctx, serverID, userID)
	if err != nil {
		return nil, undecided, err
	}
	if member == nil {
		return nil, denyAll, nil
	}

	roles := make([]*models.Role, 0, len(member.RoleIDs)+1)

	everyone, err := s.store.GetEveryoneRole(ctx, serverID)
	if err != nil {
		return nil, undecided, err
	}
	if everyone == nil {
		s.sugar.Warnf("Server ID [%d] has no @everyone role", serverID)
	} else {
		roles = append(roles, everyone)
	}

	for _, roleID := range member.RoleIDs {
		role, err := s.store.GetRole(ctx, roleID)
		if err != nil {
			return nil, undecided, err
		}
		if role == nil || role.ServerID != serverID {
			s.sugar.Warnf("User ID [%d] holds dangling role ID [%d] on server ID [%d]", userID, roleID, serverID)
			continue
		}
		roles = append(roles, role)
	}

	for _, role := range roles {
		if role.Permissions[models.PermAdministrator] {
			return nil, grantAll, nil
		}
	}

	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].Position < roles[j].Position
	})
	return roles, undecided, nil
}
