package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"partylog/internal/app/coordinator"
	"partylog/internal/app/scope"
	"partylog/internal/app/session"
	"partylog/internal/domain"
	"partylog/internal/predicate"

	"github.com/heroiclabs/nakama-common/runtime"
)

// gRPC status codes used for runtime errors.
const (
	codeInvalidArgument    = 3
	codeDeadlineExceeded   = 4
	codeFailedPrecondition = 9
	codeInternal           = 13
	codeUnauthenticated    = 16
)

var errBadPayload = errors.New("invalid payload")

type scopeRequest struct {
	Entity    string          `json:"entity"`
	Name      string          `json:"name,omitempty"`
	Predicate *predicate.Expr `json:"predicate,omitempty"`
	// Wait makes close_scope block until the removal commits.
	Wait bool `json:"wait,omitempty"`
}

type scopeResponse struct {
	Entity string   `json:"entity"`
	Names  []string `json:"names"`
	Ticket string   `json:"ticket,omitempty"`
}

type entityStatus struct {
	Entity    string   `json:"entity"`
	State     string   `json:"state"`
	Names     []string `json:"names"`
	Pending   []string `json:"pending"`
	Predicate string   `json:"predicate"`
}

type listScopesResponse struct {
	Entities []entityStatus `json:"entities"`
}

// ScopeRPCs exposes a user's subscription scopes to clients.
type ScopeRPCs struct {
	registry *session.Registry
}

func NewScopeRPCs(registry *session.Registry) *ScopeRPCs {
	return &ScopeRPCs{registry: registry}
}

// OpenScope adds a named scope and waits for the remote commit.
//
// Payload: {"entity":"game","name":"g1Games","predicate":{"op":"eq","field":"groupId","value":"g1"}}
// Returns: the entity's desired scope names.
func (h *ScopeRPCs) OpenScope(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	ctx, coord, req, entity, err := h.prepare(ctx, logger, payload)
	if err != nil {
		return "", h.fail(ctx, logger, "RpcOpenScope", err)
	}
	if req.Predicate == nil {
		return "", h.fail(ctx, logger, "RpcOpenScope", fmt.Errorf("%w: predicate is required", errBadPayload))
	}
	if err := scope.NewScopes(coord).OpenScope(ctx, entity, req.Name, *req.Predicate); err != nil {
		return "", h.fail(ctx, logger, "RpcOpenScope", err)
	}
	logger.Debug("RpcOpenScope [User:%s]: Opened %s scope %s", coord.Session().UserID, entity, req.Name)
	return encode(scopeResponse{Entity: string(entity), Names: nonNil(coord.Names(entity))})
}

// CloseScope removes a named scope. The removal is queued and survives the
// request; set "wait" to block until it commits.
//
// Payload: {"entity":"game","name":"g1Games"}
func (h *ScopeRPCs) CloseScope(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	ctx, coord, req, entity, err := h.prepare(ctx, logger, payload)
	if err != nil {
		return "", h.fail(ctx, logger, "RpcCloseScope", err)
	}
	if req.Wait {
		if err := scope.NewScopes(coord).CloseScope(ctx, entity, req.Name); err != nil {
			return "", h.fail(ctx, logger, "RpcCloseScope", err)
		}
		return encode(scopeResponse{Entity: string(entity), Names: nonNil(coord.Names(entity))})
	}
	t, err := coord.EnqueueRemove(context.WithoutCancel(ctx), entity, req.Name)
	if err != nil {
		return "", h.fail(ctx, logger, "RpcCloseScope", err)
	}
	return encode(scopeResponse{Entity: string(entity), Names: nonNil(coord.Names(entity)), Ticket: t.ID()})
}

// ResetScope drops every named scope of an entity type in one transaction.
//
// Payload: {"entity":"game"}
func (h *ScopeRPCs) ResetScope(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	ctx, coord, _, entity, err := h.prepare(ctx, logger, payload)
	if err != nil {
		return "", h.fail(ctx, logger, "RpcResetScope", err)
	}
	if err := scope.NewScopes(coord).ResetScope(ctx, entity); err != nil {
		return "", h.fail(ctx, logger, "RpcResetScope", err)
	}
	return encode(scopeResponse{Entity: string(entity), Names: nonNil(coord.Names(entity))})
}

// ListScopes reports the sync state of one entity type, or of all of them
// when the payload is empty.
func (h *ScopeRPCs) ListScopes(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	ctx, coord, err := h.coordinator(ctx, logger)
	if err != nil {
		return "", h.fail(ctx, logger, "RpcListScopes", err)
	}
	entities := domain.EntityTypes()
	if payload != "" {
		var req scopeRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return "", h.fail(ctx, logger, "RpcListScopes", fmt.Errorf("%w: %v", errBadPayload, err))
		}
		if req.Entity != "" {
			et, err := domain.ParseEntityType(req.Entity)
			if err != nil {
				return "", h.fail(ctx, logger, "RpcListScopes", err)
			}
			entities = []domain.EntityType{et}
		}
	}

	resp := listScopesResponse{Entities: make([]entityStatus, 0, len(entities))}
	for _, et := range entities {
		resp.Entities = append(resp.Entities, entityStatus{
			Entity:    string(et),
			State:     coord.State(et).String(),
			Names:     nonNil(coord.Names(et)),
			Pending:   nonNil(coord.Pending(et)),
			Predicate: coord.Predicate(et).String(),
		})
	}
	return encode(resp)
}

// coordinator resolves the caller's coordinator and tags ctx with their
// session so a coordinator bound to someone else refuses the call. If the
// server restarted or the user's coordinator was released, a resumed one is
// created; entity types that fail to start reconcile on their next mutation.
func (h *ScopeRPCs) coordinator(ctx context.Context, logger runtime.Logger) (context.Context, *coordinator.Coordinator, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	if userID == "" {
		return ctx, nil, errUnauthenticated
	}
	s := coordinator.Session{UserID: userID}
	ctx = coordinator.WithSession(ctx, s)
	if c, ok := h.registry.Get(userID); ok {
		return ctx, c, nil
	}
	c, err := h.registry.Acquire(ctx, s)
	if err != nil {
		logger.Debug("[User:%s]: resumed coordinator partially synced: %v", userID, err)
	}
	return ctx, c, nil
}

func (h *ScopeRPCs) prepare(ctx context.Context, logger runtime.Logger, payload string) (context.Context, *coordinator.Coordinator, scopeRequest, domain.EntityType, error) {
	var req scopeRequest
	ctx, coord, err := h.coordinator(ctx, logger)
	if err != nil {
		return ctx, nil, req, "", err
	}
	if payload == "" {
		return ctx, nil, req, "", fmt.Errorf("%w: empty", errBadPayload)
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return ctx, nil, req, "", fmt.Errorf("%w: %v", errBadPayload, err)
	}
	entity, err := domain.ParseEntityType(req.Entity)
	if err != nil {
		return ctx, nil, req, "", err
	}
	return ctx, coord, req, entity, nil
}

var errUnauthenticated = errors.New("no user in context")

func (h *ScopeRPCs) fail(ctx context.Context, logger runtime.Logger, rpc string, err error) error {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	rerr := toRuntimeError(err)
	if rerr.Code == codeInternal {
		logger.Error("%s [User:%s]: %v", rpc, userID, err)
	} else {
		logger.Warn("%s [User:%s]: %v", rpc, userID, err)
	}
	return rerr
}

func toRuntimeError(err error) *runtime.Error {
	var txErr *coordinator.TransactionError
	switch {
	case errors.Is(err, errUnauthenticated):
		return runtime.NewError("authentication required", codeUnauthenticated)
	case errors.Is(err, errBadPayload),
		errors.Is(err, coordinator.ErrInvalidName),
		errors.Is(err, coordinator.ErrUnknownEntityType),
		errors.Is(err, predicate.ErrInvalidExpr),
		errors.Is(err, predicate.ErrUnknownOp):
		return runtime.NewError(err.Error(), codeInvalidArgument)
	case errors.Is(err, coordinator.ErrStaleSession):
		return runtime.NewError(err.Error(), codeFailedPrecondition)
	case errors.Is(err, context.DeadlineExceeded):
		return runtime.NewError("timed out waiting for subscription commit", codeDeadlineExceeded)
	case errors.As(err, &txErr):
		return runtime.NewError(txErr.Error(), codeInternal)
	default:
		return runtime.NewError("internal error", codeInternal)
	}
}

func encode(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", runtime.NewError("failed to encode response", codeInternal)
	}
	return string(out), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
