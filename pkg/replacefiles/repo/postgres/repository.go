package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/replace-files/pkg/replacefiles"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements replacefiles.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables the repository needs in the current search path
func Migrate(ctx context.Context, db DBTX) error {
	// Without arguments pgx uses the simple protocol, which accepts several statements.
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w", operation, replacefiles.ErrAttachmentExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: %w", operation, replacefiles.ErrAttachmentNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const attachmentColumns = `id, guid, slug, author_id, parent_id, status, mime_type,
	title, caption, description, alt_text, file_path, storage_backend_name, created_at, updated_at`

func scanAttachment(row pgx.Row) (*replacefiles.Attachment, error) {
	var a replacefiles.Attachment
	var status string
	err := row.Scan(
		&a.ID, &a.GUID, &a.Slug, &a.AuthorID, &a.ParentID, &status, &a.MimeType,
		&a.Title, &a.Caption, &a.Description, &a.AltText, &a.FilePath, &a.StorageBackendName,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = replacefiles.Status(status)
	return &a, nil
}

// Attachment operations

func (r *Repository) CreateAttachment(ctx context.Context, a *replacefiles.Attachment) error {
	args := []interface{}{
		a.GUID, a.Slug, a.AuthorID, a.ParentID, string(a.Status), a.MimeType,
		a.Title, a.Caption, a.Description, a.AltText, a.FilePath, a.StorageBackendName,
		a.CreatedAt, a.UpdatedAt,
	}

	if a.ID == 0 {
		query := `
			INSERT INTO attachment (
				guid, slug, author_id, parent_id, status, mime_type, title, caption,
				description, alt_text, file_path, storage_backend_name, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`
		if err := r.db.QueryRow(ctx, query, args...).Scan(&a.ID); err != nil {
			return r.handlePostgresError("create attachment", err)
		}
		return nil
	}

	query := `
		INSERT INTO attachment (
			guid, slug, author_id, parent_id, status, mime_type, title, caption,
			description, alt_text, file_path, storage_backend_name, created_at, updated_at, id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := r.db.Exec(ctx, query, append(args, a.ID)...); err != nil {
		return r.handlePostgresError("create attachment", err)
	}

	// Keep the sequence ahead of explicitly chosen ids
	_, err := r.db.Exec(ctx,
		`SELECT setval(pg_get_serial_sequence('attachment', 'id'), GREATEST((SELECT MAX(id) FROM attachment), 1))`)
	if err != nil {
		return r.handlePostgresError("create attachment", err)
	}
	return nil
}

func (r *Repository) GetAttachment(ctx context.Context, id int64) (*replacefiles.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachment WHERE id = $1`

	a, err := scanAttachment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, replacefiles.ErrAttachmentNotFound
		}
		return nil, r.handlePostgresError("get attachment", err)
	}
	return a, nil
}

func (r *Repository) UpdateAttachment(ctx context.Context, a *replacefiles.Attachment) error {
	query := `
		UPDATE attachment SET
			guid = $2, slug = $3, author_id = $4, parent_id = $5, status = $6,
			mime_type = $7, title = $8, caption = $9, description = $10, alt_text = $11,
			file_path = $12, storage_backend_name = $13, updated_at = $14
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.GUID, a.Slug, a.AuthorID, a.ParentID, string(a.Status),
		a.MimeType, a.Title, a.Caption, a.Description, a.AltText,
		a.FilePath, a.StorageBackendName, a.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("update attachment", err)
	}
	if tag.RowsAffected() == 0 {
		return replacefiles.ErrAttachmentNotFound
	}
	return nil
}

func (r *Repository) DeleteAttachment(ctx context.Context, id int64) error {
	// Meta rows go with it through ON DELETE CASCADE
	tag, err := r.db.Exec(ctx, `DELETE FROM attachment WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete attachment", err)
	}
	if tag.RowsAffected() == 0 {
		return replacefiles.ErrAttachmentNotFound
	}
	return nil
}

func (r *Repository) ListChildren(ctx context.Context, parentID int64, statuses ...replacefiles.Status) ([]*replacefiles.Attachment, error) {
	if parentID == 0 {
		return nil, nil
	}

	var statusFilter []string
	for _, s := range statuses {
		statusFilter = append(statusFilter, string(s))
	}

	query := `
		SELECT ` + attachmentColumns + `
		FROM attachment
		WHERE parent_id = $1 AND ($2::text[] IS NULL OR status = ANY($2))
		ORDER BY created_at DESC, id DESC`

	rows, err := r.db.Query(ctx, query, parentID, statusFilter)
	if err != nil {
		return nil, r.handlePostgresError("list children", err)
	}
	defer rows.Close()

	var children []*replacefiles.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, r.handlePostgresError("list children", err)
		}
		children = append(children, a)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list children", err)
	}
	return children, nil
}

// Meta operations

func (r *Repository) ensureAttachment(ctx context.Context, id int64) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM attachment WHERE id = $1)`, id).Scan(&exists); err != nil {
		return r.handlePostgresError("check attachment", err)
	}
	if !exists {
		return replacefiles.ErrAttachmentNotFound
	}
	return nil
}

func (r *Repository) ListMeta(ctx context.Context, attachmentID int64) ([]replacefiles.MetaEntry, error) {
	if err := r.ensureAttachment(ctx, attachmentID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, attachment_id, meta_key, meta_value
		FROM attachment_meta WHERE attachment_id = $1 ORDER BY id`, attachmentID)
	if err != nil {
		return nil, r.handlePostgresError("list meta", err)
	}
	defer rows.Close()

	var entries []replacefiles.MetaEntry
	for rows.Next() {
		var e replacefiles.MetaEntry
		if err := rows.Scan(&e.ID, &e.AttachmentID, &e.Key, &e.Value); err != nil {
			return nil, r.handlePostgresError("list meta", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list meta", err)
	}
	return entries, nil
}

func (r *Repository) GetMeta(ctx context.Context, attachmentID int64, key string) ([]string, error) {
	if err := r.ensureAttachment(ctx, attachmentID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT meta_value FROM attachment_meta
		WHERE attachment_id = $1 AND meta_key = $2 ORDER BY id`, attachmentID, key)
	if err != nil {
		return nil, r.handlePostgresError("get meta", err)
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, r.handlePostgresError("get meta", err)
	}
	return values, nil
}

func (r *Repository) AddMeta(ctx context.Context, attachmentID int64, key, value string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO attachment_meta (attachment_id, meta_key, meta_value) VALUES ($1, $2, $3)`,
		attachmentID, key, value)
	if err != nil {
		return r.handlePostgresError("add meta", err)
	}
	return nil
}

func (r *Repository) DeleteMeta(ctx context.Context, attachmentID int64, key string) error {
	if err := r.ensureAttachment(ctx, attachmentID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM attachment_meta WHERE attachment_id = $1 AND meta_key = $2`, attachmentID, key)
	if err != nil {
		return r.handlePostgresError("delete meta", err)
	}
	return nil
}

func (r *Repository) DeleteMetaValue(ctx context.Context, attachmentID int64, key, value string) error {
	if err := r.ensureAttachment(ctx, attachmentID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `
		DELETE FROM attachment_meta WHERE attachment_id = $1 AND meta_key = $2 AND meta_value = $3`,
		attachmentID, key, value)
	if err != nil {
		return r.handlePostgresError("delete meta", err)
	}
	return nil
}

// User operations

func (r *Repository) GetUser(ctx context.Context, id int64) (*replacefiles.User, error) {
	var u replacefiles.User
	var caps []string
	err := r.db.QueryRow(ctx, `
		SELECT id, display_name, capabilities, updated_at FROM app_user WHERE id = $1`, id).
		Scan(&u.ID, &u.DisplayName, &caps, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, replacefiles.ErrUserNotFound
		}
		return nil, r.handlePostgresError("get user", err)
	}
	for _, c := range caps {
		u.Capabilities = append(u.Capabilities, replacefiles.Capability(c))
	}
	return &u, nil
}

func (r *Repository) SaveUser(ctx context.Context, u *replacefiles.User) error {
	caps := make([]string, 0, len(u.Capabilities))
	for _, c := range u.Capabilities {
		caps = append(caps, string(c))
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO app_user (id, display_name, capabilities, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			capabilities = EXCLUDED.capabilities,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.DisplayName, caps, u.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("save user", err)
	}
	return nil
}
