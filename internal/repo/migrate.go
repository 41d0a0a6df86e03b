package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migrationFile struct {
	name string
	sql  string
}

// ApplyMigrations executes the SQL files in dir against the pool in lexicographic order.
// Every file runs in its own transaction and must be idempotent.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS, dir string) error {
	files, err := readMigrations(filesystem, dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, file.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", file.name, err)
		}
	}
	return nil
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS, dir string) error {
	files, err := readMigrations(filesystem, dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		if _, err := db.ExecContext(ctx, file.sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", file.name, err)
		}
	}
	return nil
}

func readMigrations(filesystem fs.FS, dir string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		sqlBytes, err := fs.ReadFile(filesystem, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		files = append(files, migrationFile{name: entry.Name(), sql: string(sqlBytes)})
	}
	return files, nil
}
