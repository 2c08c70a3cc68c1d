// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides app, conversation and message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverModernc is the pure Go driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
)

// timeLayout is fixed-width so that text comparison orders timestamps correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure Go driver. The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(DriverModernc, path)
}

// NewSQLiteStoreWithDriver is NewSQLiteStore with an explicit database/sql driver name.
func NewSQLiteStoreWithDriver(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS apps (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			icon          TEXT NOT NULL,
			kind          TEXT NOT NULL,
			credential    TEXT NOT NULL DEFAULT '',
			model         TEXT NOT NULL DEFAULT '',
			system_prompt TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL,

			CHECK (kind IN ('hosted', 'direct-model'))
		);

		CREATE TABLE IF NOT EXISTS local_conversations (
			id         TEXT PRIMARY KEY,
			app_id     TEXT NOT NULL,
			title      TEXT NOT NULL,
			titled     INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_local_conversations_app
			ON local_conversations(app_id, created_at);

		CREATE TABLE IF NOT EXISTS local_messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES local_conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			CHECK (role IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_local_messages_conversation_seq
			ON local_messages(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "apps",
			column: "system_prompt",
			apply:  `ALTER TABLE apps ADD COLUMN system_prompt TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "local_conversations",
			column: "updated_at",
			apply:  `ALTER TABLE local_conversations ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "local_conversations",
			column: "titled",
			apply:  `ALTER TABLE local_conversations ADD COLUMN titled INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by older builds used RFC3339.
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// CreateApp inserts a new app.
// Returns ErrDuplicateApp if the ID is already taken.
func (s *SQLiteStore) CreateApp(ctx context.Context, app *App) error {
	query := `
		INSERT INTO apps (id, name, icon, kind, credential, model, system_prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		app.ID,
		app.Name,
		app.Icon,
		string(app.Kind),
		app.Credential,
		app.Model,
		app.SystemPrompt,
		formatTime(app.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateApp
		}
		return fmt.Errorf("inserting app: %w", err)
	}

	s.logger.Debug("created app", "id", app.ID, "kind", app.Kind)
	return nil
}

// GetApp retrieves an app by ID.
// Returns ErrNotFound if the app doesn't exist.
func (s *SQLiteStore) GetApp(ctx context.Context, id string) (*App, error) {
	query := `
		SELECT id, name, icon, kind, credential, model, system_prompt, created_at
		FROM apps
		WHERE id = ?
	`

	app, err := scanApp(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying app: %w", err)
	}
	return app, nil
}

// ListApps returns all apps in creation order.
func (s *SQLiteStore) ListApps(ctx context.Context) ([]*App, error) {
	query := `
		SELECT id, name, icon, kind, credential, model, system_prompt, created_at
		FROM apps
		ORDER BY created_at ASC, rowid ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying apps: %w", err)
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning app: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// DeleteApp removes an app. Its local conversations are left untouched.
// Returns ErrNotFound if the app doesn't exist.
func (s *SQLiteStore) DeleteApp(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM apps WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting app: %w", err)
	}
	return expectAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApp(row rowScanner) (*App, error) {
	var app App
	var kind, createdAt string
	if err := row.Scan(
		&app.ID,
		&app.Name,
		&app.Icon,
		&kind,
		&app.Credential,
		&app.Model,
		&app.SystemPrompt,
		&createdAt,
	); err != nil {
		return nil, err
	}
	app.Kind = Kind(kind)

	var err error
	app.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &app, nil
}

// CreateConversation inserts a local conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO local_conversations (id, app_id, title, titled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.AppID,
		conv.Title,
		conv.Titled,
		formatTime(conv.CreatedAt),
		now,
	)
	if err != nil {
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "app_id", conv.AppID)
	return nil
}

// GetConversation retrieves a local conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, app_id, title, titled, created_at
		FROM local_conversations
		WHERE id = ?
	`

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns an app's local conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, appID string) ([]*Conversation, error) {
	query := `
		SELECT id, app_id, title, titled, created_at
		FROM local_conversations
		WHERE app_id = ?
		ORDER BY created_at DESC, rowid DESC
	`

	rows, err := s.db.QueryContext(ctx, query, appID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAt string
	if err := row.Scan(&conv.ID, &conv.AppID, &conv.Title, &conv.Titled, &createdAt); err != nil {
		return nil, err
	}

	var err error
	conv.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &conv, nil
}

// RenameConversation sets a local conversation's title and marks it titled,
// which ends automatic naming for good.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) RenameConversation(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE local_conversations SET title = ?, titled = 1, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("renaming conversation: %w", err)
	}
	if err := expectAffected(result); err != nil {
		return err
	}

	s.logger.Debug("renamed conversation", "id", id)
	return nil
}

// DeleteConversation removes a local conversation and its messages.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM local_conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if err := expectAffected(result); err != nil {
		return err
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// DeleteConversationsByApp removes every local conversation owned by appID
// and returns how many were removed.
func (s *SQLiteStore) DeleteConversationsByApp(ctx context.Context, appID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM local_conversations WHERE app_id = ?`, appID)
	if err != nil {
		return 0, fmt.Errorf("deleting conversations for app: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return int(n), nil
}

// SaveMessage appends msg to the conversation, or replaces the content of an
// existing message with the same ID without changing its position.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SaveMessage(ctx context.Context, conversationID string, msg *Message) error {
	query := `
		INSERT INTO local_messages (id, conversation_id, seq, role, content, created_at)
		VALUES (?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM local_messages WHERE conversation_id = ?),
			?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		conversationID,
		conversationID,
		string(msg.Role),
		msg.Content,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("saving message to conversation %s: %w", conversationID, ErrNotFound)
		}
		return fmt.Errorf("saving message: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE local_conversations SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now()), conversationID,
	); err != nil {
		return fmt.Errorf("touching conversation: %w", err)
	}

	return nil
}

// GetMessages returns a conversation's messages in insertion order.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, role, content, created_at
		FROM local_messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var msg Message
		var role, createdAt string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = Role(role)
		msg.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// SetSetting stores a selection value; an empty value clears it.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	if value == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
			return fmt.Errorf("clearing setting %s: %w", key, err)
		}
		return nil
	}

	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, formatTime(time.Now())); err != nil {
		return fmt.Errorf("writing setting %s: %w", key, err)
	}
	return nil
}

// GetSetting returns a stored value or ErrNotFound.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return value, nil
}

func expectAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
