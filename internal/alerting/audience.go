package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lalithlochan/beacon/internal/db"
)

// Audience is the targeting rule of an alert. It is one of OrgAudience,
// TeamAudience or UserAudience; malformed targeting data becomes an audience
// that matches nobody.
type Audience interface {
	// Resolve returns the users currently targeted. It is re-evaluated on
	// every call.
	Resolve(ctx context.Context, users UserStore) ([]db.User, error)

	// Includes reports whether u is targeted.
	Includes(u db.User) bool

	// Kind is the persisted audience_type.
	Kind() string
}

// OrgAudience targets every user.
type OrgAudience struct{}

// TeamAudience targets users whose team is one of Teams.
type TeamAudience struct {
	Teams []string
}

// UserAudience targets users by id.
type UserAudience struct {
	UserIDs []int64
}

type noAudience struct {
	kind string
}

func (OrgAudience) Resolve(ctx context.Context, users UserStore) ([]db.User, error) {
	return users.ListUsers(ctx)
}

func (OrgAudience) Includes(db.User) bool { return true }

func (OrgAudience) Kind() string { return db.AudienceOrg }

func (a TeamAudience) Resolve(ctx context.Context, users UserStore) ([]db.User, error) {
	if len(a.Teams) == 0 {
		return nil, nil
	}
	return users.ListUsersByTeams(ctx, a.Teams)
}

func (a TeamAudience) Includes(u db.User) bool {
	return u.Team != nil && slices.Contains(a.Teams, *u.Team)
}

func (TeamAudience) Kind() string { return db.AudienceTeam }

func (a UserAudience) Resolve(ctx context.Context, users UserStore) ([]db.User, error) {
	if len(a.UserIDs) == 0 {
		return nil, nil
	}
	return users.ListUsersByIDs(ctx, a.UserIDs)
}

func (a UserAudience) Includes(u db.User) bool {
	return slices.Contains(a.UserIDs, u.ID)
}

func (UserAudience) Kind() string { return db.AudienceUser }

func (noAudience) Resolve(context.Context, UserStore) ([]db.User, error) { return nil, nil }

func (noAudience) Includes(db.User) bool { return false }

func (a noAudience) Kind() string { return a.kind }

// Resolve returns the users targeted by audience.
func Resolve(ctx context.Context, users UserStore, audience Audience) ([]db.User, error) {
	resolved, err := audience.Resolve(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("resolve %s audience: %w", audience.Kind(), err)
	}
	return resolved, nil
}

// AudienceOf converts the persisted targeting pair of alert into an Audience.
func AudienceOf(alert *db.Alert) Audience {
	return ParseAudience(alert.AudienceType, alert.AudienceIDs)
}

// ParseAudience never fails: an unknown type or undecodable ids yield an
// audience that matches nobody.
func ParseAudience(audienceType string, ids json.RawMessage) Audience {
	a, err := decodeAudience(audienceType, ids)
	if err != nil {
		return noAudience{kind: audienceType}
	}
	return a
}

func decodeAudience(audienceType string, ids json.RawMessage) (Audience, error) {
	switch audienceType {
	case db.AudienceOrg:
		return OrgAudience{}, nil

	case db.AudienceTeam:
		var teams []string
		if err := decodeIDs(ids, &teams); err != nil {
			return nil, fmt.Errorf("audience_ids must be an array of team names: %w", err)
		}
		return TeamAudience{Teams: teams}, nil

	case db.AudienceUser:
		var userIDs []int64
		if err := decodeIDs(ids, &userIDs); err != nil {
			return nil, fmt.Errorf("audience_ids must be an array of user ids: %w", err)
		}
		return UserAudience{UserIDs: userIDs}, nil

	default:
		return nil, fmt.Errorf("unknown audience_type %q", audienceType)
	}
}

func decodeIDs(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// encodeAudience renders the audience_ids column for a.
func encodeAudience(a Audience) (json.RawMessage, error) {
	switch v := a.(type) {
	case TeamAudience:
		if v.Teams == nil {
			v.Teams = []string{}
		}
		return json.Marshal(v.Teams)
	case UserAudience:
		if v.UserIDs == nil {
			v.UserIDs = []int64{}
		}
		return json.Marshal(v.UserIDs)
	default:
		return nil, nil
	}
}
