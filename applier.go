package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"
)

// trackingTable is the tracking-table name from §6 ("Tracking table"),
// created on demand in schema dbo and excluded from every introspected
// schema by name.
const trackingTable = "dbo.__MinfoldMigrations"

// goSeparator matches a stand-alone GO batch separator, case-insensitive,
// the same contract the Applier and any test harness must agree on (§4.6,
// §8 invariant 6).
var goSeparator = regexp.MustCompile(`(?mi)^\s*GO\s*$`)

// Applier owns one *sql.DB for its lifetime and executes migration
// scripts against it, one connection and one transaction per script
// (§4.6.1, §5). Follows database.go's NewDB(driver, dsn) connection
// pattern, narrowed from an application-wide *sql.DB wrapper to this
// package's migration-execution contract, with the driver set to
// github.com/microsoft/go-mssqldb.
type Applier struct {
	db       *sql.DB
	codePath string
	log      Logger
}

// NewApplier opens driver/dsn (normally "sqlserver") and returns an
// Applier rooted at codePath for migration-folder resolution. A nil
// logger installs NopLogger.
func NewApplier(driver, dsn, codePath string, log Logger) (*Applier, error) {
	if log == nil {
		log = NopLogger
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &Applier{db: db, codePath: codePath, log: log}, nil
}

// Close releases the underlying connection pool.
func (a *Applier) Close() error { return a.db.Close() }

func (a *Applier) migrationsDir() string { return filepath.Join(a.codePath, "Dao", "Migrations") }

// ensureTrackingTable creates dbo.__MinfoldMigrations on demand (§4.6).
func (a *Applier) ensureTrackingTable(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `
IF OBJECT_ID('`+trackingTable+`', 'U') IS NULL
CREATE TABLE `+trackingTable+` (
  Id INT IDENTITY(1,1) PRIMARY KEY,
  MigrationName NVARCHAR(255) NOT NULL UNIQUE,
  AppliedAt DATETIME2 NOT NULL DEFAULT SYSUTCDATETIME()
);`)
	if err != nil {
		return fmt.Errorf("ensure tracking table: %w", err)
	}
	return nil
}

// ListApplied returns applied migration names in AppliedAt order.
func (a *Applier) ListApplied(ctx context.Context) ([]string, error) {
	if err := a.ensureTrackingTable(ctx); err != nil {
		return nil, err
	}
	rows, err := a.db.QueryContext(ctx, `SELECT MigrationName FROM `+trackingTable+` ORDER BY AppliedAt ASC, Id ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list applied migrations: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// allMigrations lists every migration directory on disk, oldest first
// (the YYYYMMDDHHMMSS prefix sorts lexically == chronologically).
func (a *Applier) allMigrations() ([]string, error) {
	entries, err := os.ReadDir(a.migrationsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list migrations dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ApplyAll applies every migration on disk not yet recorded, oldest
// first (§4.6 apply_all).
func (a *Applier) ApplyAll(ctx context.Context) error {
	applied, err := a.ListApplied(ctx)
	if err != nil {
		return err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, n := range applied {
		appliedSet[n] = true
	}

	all, err := a.allMigrations()
	if err != nil {
		return err
	}
	for _, name := range all {
		if appliedSet[name] {
			continue
		}
		if err := a.applyOne(ctx, name); err != nil {
			return newMigrationError(name, "apply", err)
		}
	}
	return nil
}

func (a *Applier) applyOne(ctx context.Context, name string) error {
	sqlText, err := os.ReadFile(filepath.Join(a.migrationsDir(), name, "up.sql"))
	if err != nil {
		return fmt.Errorf("read up.sql: %w", err)
	}
	if err := a.execScript(ctx, string(sqlText)); err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `INSERT INTO `+trackingTable+` (MigrationName, AppliedAt) VALUES (@p1, @p2);`, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	a.log.Info("migration applied", F("migration", name))
	return nil
}

// Rollback executes down.sql for name and removes its tracking row
// (§4.6 rollback). Fails with ErrDownScriptMissing if there is no
// down.sql.
func (a *Applier) Rollback(ctx context.Context, name string) error {
	path := filepath.Join(a.migrationsDir(), name, "down.sql")
	sqlText, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newMigrationError(name, "rollback", ErrDownScriptMissing)
		}
		return fmt.Errorf("read down.sql: %w", err)
	}
	if err := a.execScript(ctx, string(sqlText)); err != nil {
		return newMigrationError(name, "rollback", err)
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM `+trackingTable+` WHERE MigrationName = @p1;`, name); err != nil {
		return newMigrationError(name, "rollback", fmt.Errorf("unrecord migration: %w", err))
	}
	a.log.Info("migration rolled back", F("migration", name))
	return nil
}

// GotoPlan is the symmetric-difference plan computed by Goto: the
// migrations to roll back (newest first) and the migrations to apply
// (oldest first).
type GotoPlan struct {
	Rollbacks []string
	Applies   []string
}

// Goto computes the symmetric difference between the applied set and
// the prefix of all-on-disk migrations ending at name, and (unless
// dryRun) rolls back the extras in reverse then applies the missing in
// order (§4.6 goto).
func (a *Applier) Goto(ctx context.Context, name string, dryRun bool) (*GotoPlan, error) {
	all, err := a.allMigrations()
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, n := range all {
		if n == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrMigrationNotFound
	}
	desired := make(map[string]bool, idx+1)
	for _, n := range all[:idx+1] {
		desired[n] = true
	}

	applied, err := a.ListApplied(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[string]bool, len(applied))
	for _, n := range applied {
		appliedSet[n] = true
	}

	plan := &GotoPlan{}
	for i := len(applied) - 1; i >= 0; i-- {
		if !desired[applied[i]] {
			plan.Rollbacks = append(plan.Rollbacks, applied[i])
		}
	}
	for _, n := range all[:idx+1] {
		if !appliedSet[n] {
			plan.Applies = append(plan.Applies, n)
		}
	}

	if dryRun {
		return plan, nil
	}
	for _, n := range plan.Rollbacks {
		if err := a.Rollback(ctx, n); err != nil {
			return plan, err
		}
	}
	for _, n := range plan.Applies {
		if err := a.applyOne(ctx, n); err != nil {
			return plan, newMigrationError(n, "apply", err)
		}
	}
	return plan, nil
}

// Claim marks name (and every earlier on-disk migration) as applied
// and every later one as not applied, used to adopt a pre-existing
// database (§4.6 claim). It asserts the live schema equals name's
// snapshot first, via differ, unless force is set.
func (a *Applier) Claim(ctx context.Context, name string, force bool, live *Schema, store *SnapshotStore, differ *Differ) error {
	all, err := a.allMigrations()
	if err != nil {
		return err
	}
	idx := -1
	for i, n := range all {
		if n == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrMigrationNotFound
	}

	if !force {
		snap, err := store.Load(name)
		if err != nil {
			return err
		}
		d := differ.Diff(live, snap.Schema)
		if len(d.NewTables) > 0 || len(d.DroppedTableNames) > 0 || len(d.ModifiedTables) > 0 ||
			len(d.NewSequences) > 0 || len(d.DroppedSequences) > 0 || len(d.SequenceChanges) > 0 ||
			len(d.NewProcedures) > 0 || len(d.DroppedProcedures) > 0 || len(d.ProcedureChanges) > 0 {
			return &SchemaMismatchError{MigrationName: name, Diff: d}
		}
	}

	if err := a.ensureTrackingTable(ctx); err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, `DELETE FROM `+trackingTable+`;`); err != nil {
		return fmt.Errorf("claim: reset tracking table: %w", err)
	}
	now := time.Now().UTC()
	for i, n := range all[:idx+1] {
		ts := now.Add(time.Duration(i) * time.Millisecond)
		if _, err := a.db.ExecContext(ctx, `INSERT INTO `+trackingTable+` (MigrationName, AppliedAt) VALUES (@p1, @p2);`, n, ts); err != nil {
			return fmt.Errorf("claim: record %s: %w", n, err)
		}
	}
	a.log.Info("claimed migration state", F("migration", name), F("force", force))
	return nil
}

// execScript splits sqlText on stand-alone GO separators and runs the
// resulting batches, in order, inside a single connection and a single
// transaction (§4.6, §5 "suspension points"). XACT_ABORT is set so any
// batch error aborts the whole transaction server-side as well as
// client-side.
func (a *Applier) execScript(ctx context.Context, sqlText string) error {
	conn, err := a.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET XACT_ABORT ON;"); err != nil {
		return fmt.Errorf("set xact_abort: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for i, batch := range splitBatches(sqlText) {
		if _, err := tx.ExecContext(ctx, batch); err != nil {
			_ = tx.Rollback()
			return &ScriptExecutionError{Batch: i, SQL: batch, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// splitBatches splits on stand-alone GO lines and drops empty batches
// after trimming, per §8 invariant 6.
func splitBatches(sqlText string) []string {
	parts := goSeparator.Split(sqlText, -1)
	var out []string
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}
