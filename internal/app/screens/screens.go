// Package screens declares the scopes each app screen needs. Scope names embed
// the viewed entity's ID so nested screens of the same entity type never
// release each other's scopes.
package screens

import (
	"context"
	"errors"
	"sync"

	"partylog/internal/app/coordinator"
	"partylog/internal/app/scope"
	"partylog/internal/domain"
	"partylog/internal/predicate"
)

// Purpose tags appended to entity IDs in scope names.
const (
	TagAccount = "Account"
	TagGroups  = "Groups"
	TagGames   = "Games"
	TagNodes   = "Nodes"

	TagLoggerGames = "LoggerGames"
)

// Group is the part of a group record the group screen needs.
type Group struct {
	ID        string
	MemberIDs []string
}

// ProfileScreen shows a profile and the groups it belongs to.
func ProfileScreen(profileID string) []scope.Grant {
	return []scope.Grant{
		{
			Entity:    domain.EntityProfile,
			Name:      domain.ScopeName(profileID, TagAccount),
			Predicate: predicate.EqString(domain.FieldOwnerID, profileID),
		},
		{
			Entity:    domain.EntityGroup,
			Name:      domain.ScopeName(profileID, TagGroups),
			Predicate: predicate.ContainsString(domain.FieldMemberIDs, profileID),
		},
	}
}

// GroupScreen shows a group's member profiles and its games.
func GroupScreen(g Group) []scope.Grant {
	return []scope.Grant{
		{
			Entity:    domain.EntityProfile,
			Name:      domain.ScopeName(g.ID, TagAccount),
			Predicate: predicate.InStrings(domain.FieldOwnerID, g.MemberIDs...),
		},
		{
			Entity:    domain.EntityGame,
			Name:      domain.ScopeName(g.ID, TagGames),
			Predicate: predicate.EqString(domain.FieldGroupID, g.ID),
		},
	}
}

// GameScreen shows one game and its data nodes.
func GameScreen(gameID string) []scope.Grant {
	return []scope.Grant{
		{
			Entity:    domain.EntityGameDataNode,
			Name:      domain.ScopeName(gameID, TagNodes),
			Predicate: predicate.EqString(domain.FieldGameID, gameID),
		},
	}
}

// GameLogger is the logging form. Its active group can change while it is
// open. The logger names its scope after itself and the group, so enclosing
// screens showing the same group keep their own scope when it switches away
// or closes.
type GameLogger struct {
	id     string
	binder *scope.Binder

	switching sync.Mutex

	mu    sync.RWMutex
	group string
}

// NewGameLogger returns a logger for the requester loggerID. binder must be
// used by this logger only.
func NewGameLogger(loggerID string, binder *scope.Binder) *GameLogger {
	return &GameLogger{id: loggerID, binder: binder}
}

// ActiveGroup returns the group whose games are currently visible.
func (l *GameLogger) ActiveGroup() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.group
}

func (l *GameLogger) gamesGrant(groupID string) scope.Grant {
	return scope.Grant{
		Entity:    domain.EntityGame,
		Name:      domain.ScopeName(l.id+groupID, TagLoggerGames),
		Predicate: predicate.EqString(domain.FieldGroupID, groupID),
	}
}

// SwitchGroup makes g's games visible in place of the previous group's. The
// new scope commits before the old one is removed, so the form never shows an
// empty game list in between.
func (l *GameLogger) SwitchGroup(ctx context.Context, g Group) error {
	l.switching.Lock()
	defer l.switching.Unlock()

	prev := l.ActiveGroup()
	if err := l.binder.Open(ctx, l.gamesGrant(g.ID)); err != nil {
		return err
	}
	if prev != "" && prev != g.ID {
		tickets, err := l.binder.Release(ctx, l.gamesGrant(prev))
		if err := errors.Join(err, scope.Wait(ctx, tickets...)); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.group = g.ID
	l.mu.Unlock()
	return nil
}

// Close releases the logger's scope. The removal survives ctx.
func (l *GameLogger) Close(ctx context.Context) ([]*coordinator.Ticket, error) {
	l.switching.Lock()
	defer l.switching.Unlock()

	l.mu.Lock()
	l.group = ""
	l.mu.Unlock()
	return l.binder.Close(ctx)
}
