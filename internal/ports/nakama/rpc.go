package nakama

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

// RegisterRPCs registers Nakama RPC endpoints.
func RegisterRPCs(initializer runtime.Initializer, rpcs *ScopeRPCs) error {
	for id, fn := range map[string]func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error){
		RpcOpenScope:  rpcs.OpenScope,
		RpcCloseScope: rpcs.CloseScope,
		RpcResetScope: rpcs.ResetScope,
		RpcListScopes: rpcs.ListScopes,
	} {
		if err := initializer.RegisterRpc(id, fn); err != nil {
			return fmt.Errorf("failed to register rpc %s: %w", id, err)
		}
	}
	return nil
}

// RegisterHooks ties coordinator lifetimes to authentication and sessions.
func RegisterHooks(initializer runtime.Initializer, hooks *SessionHooks) error {
	if err := initializer.RegisterAfterAuthenticateDevice(hooks.AfterAuthenticateDevice); err != nil {
		return fmt.Errorf("failed to register authenticate hook: %w", err)
	}
	if err := initializer.RegisterAfterSessionLogout(hooks.AfterSessionLogout); err != nil {
		return fmt.Errorf("failed to register logout hook: %w", err)
	}
	if err := initializer.RegisterEventSessionEnd(hooks.OnSessionEnd); err != nil {
		return fmt.Errorf("failed to register session end event: %w", err)
	}
	return nil
}
