package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"digishop-be/internal/config"
	"digishop-be/internal/db"

	_ "github.com/lib/pq"
)

func main() {
	mode := flag.String("mode", "up", "migration mode: up, down or status")
	dir := flag.String("dir", "./migrations", "directory holding the *.sql migrations")
	flag.Parse()

	dsn, err := resolveDSN()
	if err != nil {
		log.Fatal(err)
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}
	defer conn.Close()

	m := &migrator{db: conn, dir: *dir, out: os.Stdout}
	if err := m.run(*mode); err != nil {
		log.Fatal(err)
	}
}

// resolveDSN prefers DB_URL and falls back to the DB_* settings the server
// uses.
func resolveDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	if url := os.Getenv("DB_URL"); url != "" {
		return url, nil
	}
	if cfg.DBHost == "" {
		return "", fmt.Errorf("neither DB_URL nor DB_HOST is set")
	}
	return db.DSN(cfg), nil
}

type migrator struct {
	db  *sql.DB
	dir string
	out io.Writer
}

func (m *migrator) run(mode string) error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(m.dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	sort.Strings(files)

	switch mode {
	case "up":
		return m.up(files)
	case "down":
		return m.down(files)
	case "status":
		return m.status(files)
	default:
		return fmt.Errorf("unknown mode: %s (use 'up', 'down' or 'status')", mode)
	}
}

func (m *migrator) applied(version string) (bool, error) {
	var exists bool
	err := m.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return exists, nil
}

// apply runs body and the bookkeeping statement in one transaction.
func (m *migrator) apply(body, record, version string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s: %w", version, err)
	}
	if _, err := tx.Exec(body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("❌ Migration failed (%s): %w", version, err)
	}
	if _, err := tx.Exec(record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration version: %w", err)
	}
	return tx.Commit()
}

func (m *migrator) up(files []string) error {
	for _, file := range files {
		version := filepath.Base(file)

		exists, err := m.applied(version)
		if err != nil {
			return err
		}
		if exists {
			fmt.Fprintf(m.out, "⏭ Skipping already applied migration: %s\n", version)
			continue
		}

		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		fmt.Fprintf(m.out, "🚀 Applying migration: %s\n", version)
		upSQL := extractMigrationPart(string(content), "Up")
		if err := m.apply(upSQL, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return err
		}
	}
	fmt.Fprintln(m.out, "✅ All new migrations applied successfully.")
	return nil
}

func (m *migrator) down(files []string) error {
	var lastVersion string
	err := m.db.QueryRow(`SELECT version FROM schema_migrations ORDER BY applied_at DESC, version DESC LIMIT 1`).Scan(&lastVersion)
	if err == sql.ErrNoRows {
		fmt.Fprintln(m.out, "⚠️  No migrations to roll back.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get last applied migration: %w", err)
	}

	filePath := ""
	for _, f := range files {
		if filepath.Base(f) == lastVersion {
			filePath = f
			break
		}
	}
	if filePath == "" {
		return fmt.Errorf("migration file not found for version: %s", lastVersion)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	fmt.Fprintf(m.out, "🧹 Rolling back migration: %s\n", lastVersion)
	downSQL := extractMigrationPart(string(content), "Down")
	if err := m.apply(downSQL, `DELETE FROM schema_migrations WHERE version = $1`, lastVersion); err != nil {
		return err
	}

	fmt.Fprintln(m.out, "✅ Rollback successful.")
	return nil
}

func (m *migrator) status(files []string) error {
	for _, file := range files {
		version := filepath.Base(file)
		exists, err := m.applied(version)
		if err != nil {
			return err
		}
		mark := "pending"
		if exists {
			mark = "applied"
		}
		fmt.Fprintf(m.out, "%-8s %s\n", mark, version)
	}
	return nil
}

func extractMigrationPart(content string, section string) string {
	var part strings.Builder
	var inPart bool

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "-- +migrate "+section {
			inPart = true
			continue
		}
		if inPart && strings.HasPrefix(line, "-- +migrate") {
			break
		}
		if inPart {
			part.WriteString(line + "\n")
		}
	}
	return part.String()
}
