package domain

import (
	"errors"
	"fmt"

	"partylog/internal/predicate"
)

// EntityType is a record category with its own remote subscription list.
type EntityType string

const (
	EntityProfile      EntityType = "profile"
	EntityGroup        EntityType = "group"
	EntityGame         EntityType = "game"
	EntityGameDataNode EntityType = "game_data_node"
)

// Record field names referenced by the built-in visibility rules.
const (
	FieldOwnerID   = "ownerId"
	FieldMemberIDs = "memberIds"
	FieldGroupID   = "groupId"
	FieldGameID    = "gameId"
)

// BaseSubscriptionName is reserved for the always-active base rule.
const BaseSubscriptionName = "base"

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrInvalidName       = errors.New("invalid subscription name")
)

var entityTypes = []EntityType{EntityProfile, EntityGroup, EntityGame, EntityGameDataNode}

// EntityTypes returns all entity types in a fixed order.
func EntityTypes() []EntityType {
	return append([]EntityType(nil), entityTypes...)
}

// ParseEntityType validates s as a known entity type.
func ParseEntityType(s string) (EntityType, error) {
	for _, et := range entityTypes {
		if string(et) == s {
			return et, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// BasePredicates returns the always-active rules for an authenticated user.
// Games and game data nodes are only visible through named scopes.
func BasePredicates(userID string) map[EntityType]predicate.Expr {
	return map[EntityType]predicate.Expr{
		EntityProfile:      predicate.EqString(FieldOwnerID, userID),
		EntityGroup:        predicate.ContainsString(FieldMemberIDs, userID),
		EntityGame:         predicate.Never(),
		EntityGameDataNode: predicate.Never(),
	}
}

// ScopeName composes a subscription name from the requesting entity and a
// purpose tag, e.g. ScopeName("g1", "Games") == "g1Games".
func ScopeName(ownerID, tag string) string {
	return ownerID + tag
}

// ValidateName rejects names callers may not use for named scopes.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name == BaseSubscriptionName {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}
