package nakama

import (
	"context"
	"database/sql"
	"fmt"

	"partylog/internal/app/coordinator"
	"partylog/internal/app/session"

	"github.com/form3tech-oss/jwt-go"
	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// SessionHooks ties coordinator lifetimes to Nakama sessions.
type SessionHooks struct {
	registry *session.Registry
}

func NewSessionHooks(registry *session.Registry) *SessionHooks {
	return &SessionHooks{registry: registry}
}

// AfterAuthenticateDevice binds a fresh coordinator to the new session token
// and installs the base subscriptions. A start failure is logged, not
// returned: the client is signed in and the lists sync on first use.
func (h *SessionHooks) AfterAuthenticateDevice(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateDeviceRequest) error {
	s, err := sessionFromToken(out.GetToken())
	if err != nil {
		logger.Error("AfterAuthenticateDevice: Failed to read session token: %v", err)
		return err
	}
	if ctxUserID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string); ok && ctxUserID != "" {
		s.UserID = ctxUserID
	}

	if _, err := h.registry.Acquire(ctx, s); err != nil {
		logger.Warn("AfterAuthenticateDevice: Subscriptions for user %s not synced: %v", s.UserID, err)
		return nil
	}
	logger.Info("AfterAuthenticateDevice: Subscriptions ready for user %s", s.UserID)
	return nil
}

// AfterSessionLogout releases the coordinator bound to the logged out token.
func (h *SessionHooks) AfterSessionLogout(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, in *api.SessionLogoutRequest) error {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	tokenID := ""
	if s, err := sessionFromToken(in.GetToken()); err == nil {
		tokenID = s.SessionID
		if userID == "" {
			userID = s.UserID
		}
	}
	if userID == "" {
		return nil
	}
	if h.registry.Release(userID, tokenID) {
		logger.Info("AfterSessionLogout: Released subscriptions for user %s", userID)
	}
	return nil
}

// OnSessionEnd releases the user's coordinator when their socket closes. The
// remote lists stay as they are; the next RPC resumes them with the scopes the
// client's screens still hold.
func (h *SessionHooks) OnSessionEnd(ctx context.Context, logger runtime.Logger, evt *api.Event) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if userID == "" {
		return
	}
	// Socket session IDs are not token IDs, so any session of the user matches.
	if h.registry.Release(userID, "") {
		logger.Debug("OnSessionEnd: Released subscriptions for user %s", userID)
	}
}

// sessionFromToken reads the user ID and token ID claims. The token was just
// issued or accepted by Nakama, so the signature is not checked again.
func sessionFromToken(token string) (coordinator.Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return coordinator.Session{}, fmt.Errorf("failed to parse session token: %w", err)
	}
	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return coordinator.Session{}, fmt.Errorf("token claims missing uid")
	}
	tid, _ := claims["tid"].(string)
	return coordinator.Session{UserID: uid, SessionID: tid}, nil
}
