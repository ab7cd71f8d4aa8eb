/*
Package sqlite provides a SQLite-backed rules.Store.

PURPOSE:
  Persists calculation rules so a restarted server resolves the same rules
  it did before. In production the same schema runs on PostgreSQL with only
  minor dialect changes.

KEY TABLES:
  calculation_rules: One row per rule. formula_config holds the
                     rule-type specific payload as JSON, in the same shape
                     the HTTP API accepts.

INDEXES:
  - idx_rules_company_component: List for one company (hot path)
  - idx_rules_component_priority: Ordered scans per component

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging), so readers do
  not block the single writer.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  snap, err := rules.LoadSnapshot(ctx, store, "acme")

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - rules/store.go: Interface definition
  - store/memory: In-memory implementation for tests
  - factory/rule.go: formula_config encoding
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/rules"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store implements rules.Store using SQLite.
type Store struct {
	db      *sql.DB
	mu      sync.RWMutex
	factory *factory.RuleFactory
}

var _ rules.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL"
	if dbPath == MemoryPath {
		dsn = dbPath
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	if dbPath == MemoryPath {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, factory: factory.NewRuleFactory()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS calculation_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			description TEXT,
			company_id TEXT NOT NULL DEFAULT '',
			component_code TEXT NOT NULL,
			component_type TEXT NOT NULL,
			rule_type TEXT NOT NULL,
			formula_config TEXT NOT NULL,
			priority INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_system INTEGER NOT NULL DEFAULT 0,
			effective_from TEXT NOT NULL,
			effective_to TEXT,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rules_company_component
			ON calculation_rules(company_id, component_code);

		CREATE INDEX IF NOT EXISTS idx_rules_component_priority
			ON calculation_rules(component_code, priority);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// RULE STORE
// =============================================================================

const ruleColumns = `id, name, description, company_id, component_code, component_type,
	rule_type, formula_config, priority, is_active, is_system, effective_from, effective_to`

// Save validates r and upserts it. Each overwrite bumps the row version.
func (s *Store) Save(ctx context.Context, r *rules.Rule) error {
	valid, err := rules.New(*r)
	if err != nil {
		return err
	}
	rj, err := s.factory.ToRuleJSON(valid)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO calculation_rules (` + ruleColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			company_id = excluded.company_id,
			component_code = excluded.component_code,
			component_type = excluded.component_type,
			rule_type = excluded.rule_type,
			formula_config = excluded.formula_config,
			priority = excluded.priority,
			is_active = excluded.is_active,
			is_system = excluded.is_system,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			version = calculation_rules.version + 1,
			updated_at = excluded.updated_at
	`

	var effectiveTo sql.NullString
	if rj.EffectiveTo != nil {
		effectiveTo = nullString(*rj.EffectiveTo)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, query,
		rj.ID, rj.Name, nullString(rj.Description), rj.CompanyID,
		rj.ComponentCode, rj.ComponentType, rj.RuleType, string(rj.FormulaConfig),
		rj.Priority, valid.IsActive, rj.IsSystem, rj.EffectiveFrom, effectiveTo,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("save rule %s: %w", rj.ID, err)
	}
	return nil
}

// Get retrieves a rule by ID.
func (s *Store) Get(ctx context.Context, id rules.RuleID) (*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+ruleColumns+" FROM calculation_rules WHERE id = ?", string(id))

	r, err := s.scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
	}
	return r, err
}

// List returns the company's rules and all system rules, ordered by
// component, scope, priority and ID.
func (s *Store) List(ctx context.Context, companyID rules.CompanyID) ([]*rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM calculation_rules
		WHERE company_id = ? OR company_id = ''
		ORDER BY component_code, company_id, priority, id
	`, string(companyID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		r, err := s.scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id rules.RuleID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM calculation_rules WHERE id = ?", string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
	}
	return nil
}

// Version returns how many times a rule has been written.
func (s *Store) Version(ctx context.Context, id rules.RuleID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var v int
	err := s.db.QueryRowContext(ctx,
		"SELECT version FROM calculation_rules WHERE id = ?", string(id)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", rules.ErrRuleNotFound, id)
	}
	return v, err
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRule rebuilds a rule through the factory, so a row edited by hand
// into an invalid state fails loudly instead of entering a snapshot.
func (s *Store) scanRule(sc scanner) (*rules.Rule, error) {
	var (
		rj          factory.RuleJSON
		description sql.NullString
		config      string
		active      bool
		effectiveTo sql.NullString
	)
	err := sc.Scan(
		&rj.ID, &rj.Name, &description, &rj.CompanyID, &rj.ComponentCode, &rj.ComponentType,
		&rj.RuleType, &config, &rj.Priority, &active, &rj.IsSystem, &rj.EffectiveFrom, &effectiveTo,
	)
	if err != nil {
		return nil, err
	}

	rj.Description = description.String
	rj.FormulaConfig = []byte(config)
	rj.IsActive = &active
	if effectiveTo.Valid {
		rj.EffectiveTo = &effectiveTo.String
	}

	r, err := s.factory.FromJSON(rj)
	if err != nil {
		return nil, fmt.Errorf("load rule %s: %w", rj.ID, err)
	}
	return r, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
