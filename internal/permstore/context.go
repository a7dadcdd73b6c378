package permstore

import "context"

type storeContextKey struct{}

// ContextWithStore attaches the session's store to ctx.
func ContextWithStore(ctx context.Context, store *Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, store)
}

// StoreFromContext returns the store attached to ctx, or nil.
func StoreFromContext(ctx context.Context) *Store {
	store, _ := ctx.Value(storeContextKey{}).(*Store)
	return store
}
