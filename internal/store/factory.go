package store

import "context"

// NewStore returns a Postgres-backed store when a database URL is configured,
// falling back to the in-process store for local/dev use.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if databaseURL == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
