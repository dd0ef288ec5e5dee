package store

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// Store is the persistence layer of the pipeline. The database is the only
// source of truth; the channel cache holds read-only routing config.
type Store struct {
	db       *gorm.DB
	channels *cache.Cache
	now      func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for created/updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithChannelCacheTTL sets how long channel lookups are cached. Zero disables caching.
func WithChannelCacheTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl <= 0 {
			s.channels = nil
			return
		}
		s.channels = cache.New(ttl, 2*ttl)
	}
}

// New creates a Store on top of an opened gorm connection.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:       db,
		channels: cache.New(30*time.Second, time.Minute),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying connection for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// newID returns a time-ordered UUIDv7 so rows sharing a created_at still
// sort in insertion order.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation recognizes unique-constraint errors from every driver we run on.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
