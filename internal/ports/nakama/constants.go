package nakama

// RPC ids clients call to manage their subscription scopes.
const (
	RpcOpenScope  = "open_scope"
	RpcCloseScope = "close_scope"
	RpcResetScope = "reset_scope"
	RpcListScopes = "list_scopes"
)
