// Package store persists [settings.Settings] in a single SQLite namespace.
//
// Scalars live in one key/value table and set members in another. Every
// mutation is a read-modify-write executed inside one transaction while the
// store's writer lock is held, so concurrent callers cannot lose updates.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/leodido/kspoof/internal/fault"
	"github.com/leodido/kspoof/internal/settings"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Scalar keys.
const (
	keySpoofRelease        = "spoof_release"
	keySpoofBuildTime      = "spoof_build_time"
	keyExecuteInPostFsData = "execute_in_post_fs_data"
	keyLogEnabled          = "log_enabled"
	keyAndroidDataPath     = "android_data_path"
	keySdcardPath          = "sdcard_path"
	keyAutoStart           = "auto_start"
)

// Store is the durable settings namespace.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the database at path and applies the schema.
// Keys that were never written read back as their defaults.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fault.New(fault.IOFailure, "open store", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fault.New(fault.IOFailure, "open store", err)
	}

	// One connection: SQLite has a single writer anyway, and ":memory:"
	// databases are per-connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fault.New(fault.IOFailure, "open store", fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fault.New(fault.IOFailure, "open store", fmt.Errorf("apply schema: %w", err))
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		db.Close()
		return nil, fault.New(fault.IOFailure, "open store", fmt.Errorf("set user_version: %w", err))
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the current record.
func (s *Store) Load(ctx context.Context) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return settings.Settings{}, fault.New(fault.IOFailure, "load settings", err)
	}
	defer tx.Rollback()

	cur, err := load(ctx, tx)
	if err != nil {
		return settings.Settings{}, fault.New(fault.IOFailure, "load settings", err)
	}
	return cur, nil
}

// Update applies fn to the current record and persists the result.
// If fn returns an error, or the result fails validation, nothing is written.
func (s *Store) Update(ctx context.Context, fn func(*settings.Settings) error) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return settings.Settings{}, fault.New(fault.IOFailure, "update settings", err)
	}
	defer tx.Rollback()

	cur, err := load(ctx, tx)
	if err != nil {
		return settings.Settings{}, fault.New(fault.IOFailure, "update settings", err)
	}
	if err := fn(&cur); err != nil {
		return settings.Settings{}, err
	}
	cur.Normalize()
	if err := cur.Validate(); err != nil {
		return settings.Settings{}, fault.New(fault.ValidationFailed, "update settings", err)
	}
	if err := write(ctx, tx, cur); err != nil {
		return settings.Settings{}, fault.New(fault.IOFailure, "update settings", err)
	}
	if err := tx.Commit(); err != nil {
		return settings.Settings{}, fault.New(fault.IOFailure, "update settings", err)
	}
	return cur, nil
}

// Replace overwrites the whole record atomically.
func (s *Store) Replace(ctx context.Context, next settings.Settings) error {
	_, err := s.Update(ctx, func(cur *settings.Settings) error {
		*cur = next.Clone()
		return nil
	})
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func load(ctx context.Context, q querier) (settings.Settings, error) {
	cur := settings.Defaults()

	rows, err := q.QueryContext(ctx, `SELECT key, value FROM scalars`)
	if err != nil {
		return cur, fmt.Errorf("query scalars: %w", err)
	}
	scalars := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return cur, fmt.Errorf("scan scalar: %w", err)
		}
		scalars[k] = v
	}
	if err := rows.Close(); err != nil {
		return cur, err
	}
	if err := rows.Err(); err != nil {
		return cur, err
	}

	for key, dst := range map[string]*string{
		keySpoofRelease:    &cur.SpoofRelease,
		keySpoofBuildTime:  &cur.SpoofBuildTime,
		keyAndroidDataPath: &cur.AndroidDataPath,
		keySdcardPath:      &cur.SdcardPath,
	} {
		if v, ok := scalars[key]; ok {
			*dst = v
		}
	}
	for key, dst := range map[string]*bool{
		keyExecuteInPostFsData: &cur.ExecuteInPostFsData,
		keyLogEnabled:          &cur.LogEnabled,
		keyAutoStart:           &cur.AutoStart,
	} {
		if v, ok := scalars[key]; ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return cur, fmt.Errorf("scalar %s: %w", key, err)
			}
			*dst = b
		}
	}

	rows, err = q.QueryContext(ctx, `SELECT set_name, member FROM members ORDER BY set_name, member`)
	if err != nil {
		return cur, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, member string
		if err := rows.Scan(&name, &member); err != nil {
			return cur, fmt.Errorf("scan member: %w", err)
		}
		set, err := settings.ParseSetName(name)
		if err != nil {
			// Sets written by a newer schema are ignored.
			continue
		}
		p := cur.Set(set)
		*p = append(*p, member)
	}
	if err := rows.Err(); err != nil {
		return cur, err
	}

	cur.Normalize()
	return cur, nil
}

func write(ctx context.Context, tx *sql.Tx, cur settings.Settings) error {
	scalars := map[string]string{
		keySpoofRelease:        cur.SpoofRelease,
		keySpoofBuildTime:      cur.SpoofBuildTime,
		keyExecuteInPostFsData: strconv.FormatBool(cur.ExecuteInPostFsData),
		keyLogEnabled:          strconv.FormatBool(cur.LogEnabled),
		keyAndroidDataPath:     cur.AndroidDataPath,
		keySdcardPath:          cur.SdcardPath,
		keyAutoStart:           strconv.FormatBool(cur.AutoStart),
	}
	for k, v := range scalars {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scalars (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v); err != nil {
			return fmt.Errorf("write scalar %s: %w", k, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM members`); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, name := range settings.SetNames() {
		for _, m := range *cur.Set(name) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO members (set_name, member) VALUES (?, ?)`,
				name.String(), m,
			); err != nil {
				return fmt.Errorf("write %s member: %w", name, err)
			}
		}
	}
	return nil
}
