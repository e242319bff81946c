package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gravewhisper/gravewhisper/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a unique constraint.
	ErrConflict = errors.New("unique constraint violated")
	// ErrImmutable is returned when an audit entry would be modified.
	ErrImmutable = errors.New("audit log entries are immutable")
)

// PostFilter narrows the public post listing.
type PostFilter struct {
	CategorySlug string
	Query        string
	Slot         string
	Limit        int
	Now          time.Time
}

// AuditQuery selects recent audit entries for rate limiting. Empty
// fields are not filtered on.
type AuditQuery struct {
	Action      string
	IP          string
	AdminUserID string
	Since       time.Time
}

// Store provides persistence for the blog.
type Store interface {
	Start(ctx context.Context) error
	Stop() error
	// Reload reopens the database, e.g. after its file was replaced.
	Reload(ctx context.Context) error
	// Transaction runs fn against a Store bound to a single database
	// transaction. fn must not use the outer Store.
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Driver() string

	// Admins.
	CreateAdmin(ctx context.Context, admin *AdminUser) error
	GetAdminByID(ctx context.Context, id string) (*AdminUser, error)
	GetAdminByUsername(ctx context.Context, username string) (*AdminUser, error)
	FirstAdmin(ctx context.Context) (*AdminUser, error)
	TouchAdminLogin(ctx context.Context, id string, at time.Time) error
	UpsertAdmin(ctx context.Context, username, passwordHash string) (*AdminUser, error)

	// Categories.
	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id string) (*Category, error)
	CreateCategory(ctx context.Context, c *Category) error
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id string) error
	UpsertCategory(ctx context.Context, c *Category) error
	EnsureCategories(ctx context.Context, defaults []Category) (int, error)
	CountCategories(ctx context.Context) (int64, error)

	// Posts.
	ListPublishedPosts(ctx context.Context, f PostFilter) ([]Post, error)
	ListAllPosts(ctx context.Context) ([]Post, error)
	GetPublishedPostBySlug(ctx context.Context, slug string, now time.Time) (*Post, error)
	GetPostByID(ctx context.Context, id string) (*Post, error)
	GetPostBySourceSubmission(ctx context.Context, submissionID string) (*Post, error)
	PostSlugExists(ctx context.Context, slug, excludeID string) (bool, error)
	CreatePost(ctx context.Context, p *Post) error
	UpdatePost(ctx context.Context, p *Post) error
	DeletePost(ctx context.Context, id string) error
	PublishPost(ctx context.Context, id string, at time.Time) error
	IncrementPostViews(ctx context.Context, id string) (int64, error)
	CountPublishedPosts(ctx context.Context, now time.Time, excludeSlugs []string) (int64, error)
	PublishedPostAt(
		ctx context.Context, now time.Time, excludeSlugs []string, offset int,
	) (*Post, error)
	CountPostsByStatus(ctx context.Context) (map[string]int64, error)

	// Submissions.
	CreateSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, status string) ([]Submission, error)
	ListSubmissionsByIDs(ctx context.Context, ids []string) ([]Submission, error)
	UpdateSubmission(ctx context.Context, sub *Submission) error
	SetSubmissionStatus(
		ctx context.Context, ids []string, status string, reviewedAt *time.Time,
	) (int64, error)
	DeleteSubmission(ctx context.Context, id string) error
	CountSubmissionsByStatus(ctx context.Context) (map[string]int64, error)

	// Comments.
	CreateComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, postID string, take int) ([]Comment, error)
	CountComments(ctx context.Context, postID string) (int64, error)

	// Audit log.
	AppendAudit(ctx context.Context, entry *AuditLog) error
	CountRecentAudit(ctx context.Context, q AuditQuery) (int64, error)
	ListAudit(ctx context.Context, limit int) ([]AuditLog, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig

	mu sync.RWMutex
	db *gorm.DB
	// inTx marks a store bound to a transaction; its db is never swapped.
	inTx bool
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	err := closeDB(s.db)
	s.db = nil

	return err
}

// Reload opens a fresh connection, migrates it and swaps it in. The old
// connection is closed once swapped out.
func (s *store) Reload(ctx context.Context) error {
	if s.inTx {
		return fmt.Errorf("reload inside a transaction")
	}

	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.db
	s.db = db
	s.mu.Unlock()

	if old != nil {
		if err := closeDB(old); err != nil {
			s.log.WithError(err).Warn("Failed to close previous database handle")
		}
	}

	s.log.Info("Database reloaded")

	return nil
}

// Transaction implements Store.
func (s *store) Transaction(
	ctx context.Context, fn func(tx Store) error,
) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{
			log:  s.log,
			cfg:  s.cfg,
			db:   tx,
			inTx: true,
		})
	})
}

// Driver returns the configured database driver name.
func (s *store) Driver() string {
	return s.cfg.Driver
}

func (s *store) open(ctx context.Context) (*gorm.DB, error) {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
		// Timestamps are compared as text in SQLite, so keep them in UTC.
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(
			s.cfg.SQLite.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying db: %w", err)
		}

		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&AdminUser{},
		&Category{},
		&Submission{},
		&Post{},
		&Comment{},
		&AuditLog{},
	); err != nil {
		_ = closeDB(db)

		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return db, nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// conn returns the current handle bound to ctx.
func (s *store) conn(ctx context.Context) *gorm.DB {
	if s.inTx {
		return s.db.WithContext(ctx)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.db.WithContext(ctx)
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}

	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()

	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
