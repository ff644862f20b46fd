package nakama

import (
	"context"
	"database/sql"
	"strconv"
	"sync"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type objectKey struct {
	collection, key, userID string
}

type storedObject struct {
	value, version      string
	permRead, permWrite int
}

// fakeStorage mimics Nakama's conditional storage writes. The embedded
// NakamaModule is nil; only storage calls are implemented.
type fakeStorage struct {
	runtime.NakamaModule

	mu       sync.Mutex
	objects  map[objectKey]storedObject
	counter  int
	writes   int
	readErr  error
	writeErr error

	// beforeWrite runs without the lock ahead of each write.
	beforeWrite func()
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[objectKey]storedObject)}
}

func (f *fakeStorage) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []*api.StorageObject
	for _, r := range reads {
		obj, ok := f.objects[objectKey{r.Collection, r.Key, r.UserID}]
		if !ok {
			continue
		}
		out = append(out, &api.StorageObject{
			Collection: r.Collection,
			Key:        r.Key,
			UserId:     r.UserID,
			Value:      obj.value,
			Version:    obj.version,
		})
	}
	return out, nil
}

func (f *fakeStorage) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	if f.beforeWrite != nil {
		f.beforeWrite()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	acks := make([]*api.StorageObjectAck, 0, len(writes))
	for _, w := range writes {
		k := objectKey{w.Collection, w.Key, w.UserID}
		existing, exists := f.objects[k]
		switch {
		case w.Version == "*" && exists:
			return nil, runtime.ErrStorageRejectedVersion
		case w.Version != "" && w.Version != "*" && (!exists || existing.version != w.Version):
			return nil, runtime.ErrStorageRejectedVersion
		}
		f.counter++
		version := "v" + strconv.Itoa(f.counter)
		f.objects[k] = storedObject{value: w.Value, version: version, permRead: w.PermissionRead, permWrite: w.PermissionWrite}
		acks = append(acks, &api.StorageObjectAck{Collection: w.Collection, Key: w.Key, UserId: w.UserID, Version: version})
	}
	return acks, nil
}

// put stores an object directly, as another writer would.
func (f *fakeStorage) put(collection, key, userID, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	f.objects[objectKey{collection, key, userID}] = storedObject{value: value, version: "v" + strconv.Itoa(f.counter)}
}

func (f *fakeStorage) get(collection, key, userID string) (storedObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[objectKey{collection, key, userID}]
	return obj, ok
}

type rpcFunc = func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)

// fakeInitializer records registrations. The embedded Initializer is nil.
type fakeInitializer struct {
	runtime.Initializer

	rpcs       map[string]rpcFunc
	afterAuth  func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, *api.Session, *api.AuthenticateDeviceRequest) error
	logout     func(context.Context, runtime.Logger, *sql.DB, runtime.NakamaModule, *api.SessionLogoutRequest) error
	sessionEnd func(context.Context, runtime.Logger, *api.Event)
}

func newFakeInitializer() *fakeInitializer {
	return &fakeInitializer{rpcs: make(map[string]rpcFunc)}
}

func (f *fakeInitializer) RegisterRpc(id string, fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)) error {
	f.rpcs[id] = fn
	return nil
}

func (f *fakeInitializer) RegisterAfterAuthenticateDevice(fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, out *api.Session, in *api.AuthenticateDeviceRequest) error) error {
	f.afterAuth = fn
	return nil
}

func (f *fakeInitializer) RegisterAfterSessionLogout(fn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, in *api.SessionLogoutRequest) error) error {
	f.logout = fn
	return nil
}

func (f *fakeInitializer) RegisterEventSessionEnd(fn func(ctx context.Context, logger runtime.Logger, evt *api.Event)) error {
	f.sessionEnd = fn
	return nil
}
