// Package authz answers the authorization questions the route guards
// ask: is this Discord user a member of an organization's guild, an
// officer of it, or a superadmin.  Discord is the source of truth; a
// Redis cache in front of it is optional and bounded by a short TTL.
package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clubsync/clubsync/internal/model"
)

// GuildChecker is the slice of the Discord client the resolver needs.
type GuildChecker interface {
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
}

// OrgLister enumerates organizations; satisfied by *repository.OrgRepo.
type OrgLister interface {
	List(ctx context.Context, activeOnly bool) ([]model.Organization, error)
}

// Resolver evaluates membership and officer status.
type Resolver struct {
	discord     GuildChecker
	orgs        OrgLister
	rdb         *redis.Client
	cacheTTL    time.Duration
	superadmins map[string]struct{}
	log         *zap.Logger
}

// NewResolver builds a Resolver.  rdb may be nil and cacheTTL zero, in
// which case every check hits Discord live.
func NewResolver(d GuildChecker, orgs OrgLister, rdb *redis.Client, cacheTTL time.Duration, superadminIDs []string, log *zap.Logger) *Resolver {
	admins := make(map[string]struct{}, len(superadminIDs))
	for _, id := range superadminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Resolver{discord: d, orgs: orgs, rdb: rdb, cacheTTL: cacheTTL, superadmins: admins, log: log}
}

// IsMember reports live guild membership for the organization.
func (r *Resolver) IsMember(ctx context.Context, org model.Organization, discordID string) (bool, error) {
	key := fmt.Sprintf("authz:member:%s:%s", org.GuildID, discordID)
	if ok, hit := r.cached(ctx, key); hit {
		return ok, nil
	}
	ok, err := r.discord.IsMember(ctx, org.GuildID, discordID)
	if err != nil {
		return false, err
	}
	r.store(ctx, key, ok)
	return ok, nil
}

// IsOfficer reports whether the user holds the organization's officer
// role.  An organization with no officer role configured has no
// officers.
func (r *Resolver) IsOfficer(ctx context.Context, org model.Organization, discordID string) (bool, error) {
	if org.OfficerRoleID == nil || *org.OfficerRoleID == "" {
		return false, nil
	}
	key := fmt.Sprintf("authz:officer:%s:%s", org.GuildID, discordID)
	if ok, hit := r.cached(ctx, key); hit {
		return ok, nil
	}
	ok, err := r.discord.HasRole(ctx, org.GuildID, discordID, *org.OfficerRoleID)
	if err != nil {
		return false, err
	}
	r.store(ctx, key, ok)
	return ok, nil
}

// IsOfficerAnywhere reports whether the user is an officer of at least
// one active organization, returning the first matching org.
func (r *Resolver) IsOfficerAnywhere(ctx context.Context, discordID string) (bool, *model.Organization, error) {
	orgs, err := r.orgs.List(ctx, true)
	if err != nil {
		return false, nil, err
	}
	for i := range orgs {
		ok, err := r.IsOfficer(ctx, orgs[i], discordID)
		if err != nil {
			return false, nil, err
		}
		if ok {
			return true, &orgs[i], nil
		}
	}
	return false, nil, nil
}

// IsSuperadmin grants the configured platform owner ids directly and
// otherwise falls back to officer-of-any-org.
func (r *Resolver) IsSuperadmin(ctx context.Context, discordID string) (bool, error) {
	if discordID == "" {
		return false, nil
	}
	if _, ok := r.superadmins[discordID]; ok {
		return true, nil
	}
	ok, _, err := r.IsOfficerAnywhere(ctx, discordID)
	return ok, err
}

// Invalidate drops cached answers for one user in one guild.  Called by
// the bot webhook when roles change so demotions take effect before the
// TTL lapses.
func (r *Resolver) Invalidate(ctx context.Context, guildID, discordID string) {
	if r.rdb == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("authz:member:%s:%s", guildID, discordID),
		fmt.Sprintf("authz:officer:%s:%s", guildID, discordID),
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		r.log.Warn("authz cache invalidation failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// cached reads key from Redis.  Cache errors are treated as misses so a
// Redis outage degrades to live checks, never to denial.
func (r *Resolver) cached(ctx context.Context, key string) (val, hit bool) {
	if r.rdb == nil || r.cacheTTL <= 0 {
		return false, false
	}
	s, err := r.rdb.Get(ctx, key).Result()
	if err != nil {
		return false, false
	}
	return s == "1", true
}

func (r *Resolver) store(ctx context.Context, key string, ok bool) {
	if r.rdb == nil || r.cacheTTL <= 0 {
		return
	}
	v := "0"
	if ok {
		v = "1"
	}
	if err := r.rdb.Set(ctx, key, v, r.cacheTTL).Err(); err != nil {
		r.log.Warn("authz cache write failed", zap.String("key", key), zap.Error(err))
	}
}
