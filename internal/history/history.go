package history

import "context"

// Log defines the history operations the rest of the application uses.
// Consumers should depend on this interface rather than the concrete *DB type.
type Log interface {
	RecordOpen(ctx context.Context, path, title, checksum string) error
	Recent(ctx context.Context, limit int) ([]Document, error)
	Search(ctx context.Context, query string, limit int) ([]Document, error)
	Forget(ctx context.Context, path string) error
	RecordConversion(ctx context.Context, c Conversion) error
	Conversions(ctx context.Context, limit int) ([]Conversion, error)
	Close() error
}

// Verify *DB satisfies Log at compile time.
var _ Log = (*DB)(nil)
