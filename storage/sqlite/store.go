// Package sqlite implements storage.Store on SQLite (modernc.org/sqlite).
// Item definitions are stored as JSON documents; name, path, setting and the
// isType flag are mirrored into columns for listing.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/nathoo/lorekeep/engine/save"
	"github.com/nathoo/lorekeep/storage"
	"github.com/nathoo/lorekeep/storage/sqlite/migrations"
	"github.com/nathoo/lorekeep/types"
)

// Store is a SQLite-backed storage.Store.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) LoadItem(ctx context.Context, id int64) (*types.Item, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var def string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT definition FROM items WHERE id = ?`, id).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.NotFoundError{Kind: "item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load item %d: %w", id, err)
	}
	return decodeItem(id, def)
}

func decodeItem(id int64, def string) (*types.Item, error) {
	item, err := save.Decode([]byte(def))
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", id, err)
	}
	item.ID = id
	return item, nil
}

func (s *Store) LoadItems(ctx context.Context, ids []int64) ([]*types.Item, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, definition FROM items WHERE id IN `+in, args...)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	byID := map[int64]*types.Item{}
	for rows.Next() {
		var id int64
		var def string
		if err := rows.Scan(&id, &def); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		item, err := decodeItem(id, def)
		if err != nil {
			return nil, err
		}
		byID[id] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	out := make([]*types.Item, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *Store) SaveItem(ctx context.Context, item *types.Item) (*types.Item, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	def, err := save.Encode(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	out, err := save.Decode(def)
	if err != nil {
		return nil, err
	}

	if item.ID == 0 {
		res, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO items (name, path, setting_id, is_type, definition)
VALUES (?, ?, ?, ?, ?)
`, item.Name, item.Path, item.SettingID, item.IsType, string(def))
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		out.ID = id
		return out, nil
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO items (id, name, path, setting_id, is_type, definition)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	path = excluded.path,
	setting_id = excluded.setting_id,
	is_type = excluded.is_type,
	definition = excluded.definition
`, item.ID, item.Name, item.Path, item.SettingID, item.IsType, string(def))
	if err != nil {
		return nil, fmt.Errorf("save item %d: %w", item.ID, err)
	}
	return out, nil
}

// DeleteItem removes the item and its index memberships, including the
// buckets keyed by it.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &storage.NotFoundError{Kind: "item", ID: id}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_buckets WHERE item_id = ? OR ancestor_id = ?`, id, id); err != nil {
		return fmt.Errorf("delete item %d buckets: %w", id, err)
	}
	return tx.Commit()
}

func (s *Store) ListItems(ctx context.Context, settingIDs []int64, filter storage.Filter) ([]types.ItemName, error) {
	return s.list(ctx, settingIDs, false, filter)
}

func (s *Store) ListTypes(ctx context.Context, settingIDs []int64) ([]types.ItemName, error) {
	return s.list(ctx, settingIDs, true, storage.Filter{})
}

func (s *Store) list(ctx context.Context, settingIDs []int64, typesOnly bool, filter storage.Filter) ([]types.ItemName, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	query := `SELECT id, name, path FROM items WHERE 1 = 1`
	var args []any
	if len(settingIDs) > 0 {
		in, inArgs := inClause(settingIDs)
		query += ` AND setting_id IN ` + in
		args = append(args, inArgs...)
	}
	if typesOnly {
		query += ` AND is_type = 1`
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var out []types.ItemName
	for rows.Next() {
		var it types.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Path); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if filter.Match(&it) {
			out = append(out, types.ItemName{ID: it.ID, Name: it.Name})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	storage.SortNames(out)
	return out, nil
}

func (s *Store) SaveSetting(ctx context.Context, setting *types.Setting) (*types.Setting, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save setting: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := *setting
	out.Dependencies = append([]int64(nil), setting.Dependencies...)
	if out.ID == 0 {
		res, err := tx.ExecContext(ctx, `INSERT INTO settings (name, description) VALUES (?, ?)`, out.Name, out.Description)
		if err != nil {
			return nil, fmt.Errorf("insert setting: %w", err)
		}
		if out.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("insert setting: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO settings (id, name, description) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description
`, out.ID, out.Name, out.Description); err != nil {
			return nil, fmt.Errorf("save setting %d: %w", out.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM setting_dependencies WHERE setting_id = ?`, out.ID); err != nil {
		return nil, fmt.Errorf("clear setting %d dependencies: %w", out.ID, err)
	}
	for i, dep := range out.Dependencies {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO setting_dependencies (setting_id, depends_on, position) VALUES (?, ?, ?)
`, out.ID, dep, i); err != nil {
			return nil, fmt.Errorf("save setting %d dependency: %w", out.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit setting %d: %w", out.ID, err)
	}
	return &out, nil
}

func (s *Store) LoadSetting(ctx context.Context, id int64) (*types.Setting, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	out := &types.Setting{ID: id}
	err := s.sqlDB.QueryRowContext(ctx, `SELECT name, description FROM settings WHERE id = ?`, id).
		Scan(&out.Name, &out.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &storage.NotFoundError{Kind: "setting", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("load setting %d: %w", id, err)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT depends_on FROM setting_dependencies WHERE setting_id = ? ORDER BY position
`, id)
	if err != nil {
		return nil, fmt.Errorf("load setting %d dependencies: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var dep int64
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		out.Dependencies = append(out.Dependencies, dep)
	}
	return out, rows.Err()
}

func (s *Store) DependencyClosure(ctx context.Context, id int64) ([]int64, error) {
	return storage.Closure(ctx, id, s.LoadSetting)
}

func (s *Store) IndexBuckets(ctx context.Context, ancestorID int64) ([]storage.Bucket, error) {
	return s.buckets(ctx, `
SELECT DISTINCT ancestor_id, setting_id FROM index_buckets
WHERE ancestor_id = ? ORDER BY ancestor_id, setting_id
`, ancestorID)
}

func (s *Store) BucketsContaining(ctx context.Context, itemID int64) ([]storage.Bucket, error) {
	return s.buckets(ctx, `
SELECT ancestor_id, setting_id FROM index_buckets
WHERE item_id = ? ORDER BY ancestor_id, setting_id
`, itemID)
}

func (s *Store) buckets(ctx context.Context, query string, arg int64) ([]storage.Bucket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()
	var out []storage.Bucket
	for rows.Next() {
		var b storage.Bucket
		if err := rows.Scan(&b.AncestorID, &b.SettingID); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) AddToBucket(ctx context.Context, b storage.Bucket, itemID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT OR IGNORE INTO index_buckets (ancestor_id, setting_id, item_id) VALUES (?, ?, ?)
`, b.AncestorID, b.SettingID, itemID)
	if err != nil {
		return fmt.Errorf("add to bucket: %w", err)
	}
	return nil
}

func (s *Store) RemoveFromBucket(ctx context.Context, b storage.Bucket, itemID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM index_buckets WHERE ancestor_id = ? AND setting_id = ? AND item_id = ?
`, b.AncestorID, b.SettingID, itemID)
	if err != nil {
		return fmt.Errorf("remove from bucket: %w", err)
	}
	return nil
}

func (s *Store) QueryBuckets(ctx context.Context, ancestorIDs, settingIDs []int64) ([]int64, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(ancestorIDs) == 0 || len(settingIDs) == 0 {
		return nil, nil
	}
	aIn, aArgs := inClause(ancestorIDs)
	sIn, sArgs := inClause(settingIDs)
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT DISTINCT item_id FROM index_buckets
WHERE ancestor_id IN `+aIn+` AND setting_id IN `+sIn+`
ORDER BY item_id
`, append(aArgs, sArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan bucket member: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// inClause renders "(?, ?, ...)" with its arguments.
func inClause(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}
