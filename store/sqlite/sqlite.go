/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists policy versions, employee records, leave balances, and the audit
  rows of every computation (settlements, arrears runs, carry-forward runs).
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

INTERFACES IMPLEMENTED:
  engine.PolicyStore: Append-only policy version persistence

APPEND-ONLY ENFORCEMENT:
  policy_versions has no DELETE path and a single permitted UPDATE: closing
  an open effective_to when a version is superseded. The statement guards
  with `effective_to IS NULL`, so a closed range can never be reopened or
  moved. Settlements, arrears runs, and carry-forward runs are insert-only
  audit rows.

KEY TABLES:
  policy_versions:    Effective-dated rule sets (the registry's backing)
  employees:          Service records (joining date, basic pay)
  leave_balances:     Leave balance snapshots per employee/type/date
  settlements:        Gratuity computations with every intermediate
  arrears_runs:       Arrears recalculations with per-period lines
  carryforward_runs:  Year-end batch runs with per-employee projections

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

SEE ALSO:
  - engine/registry.go: Interface definition and non-overlap invariant
  - engine/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/entitlement-engine/arrears"
	"github.com/warp/entitlement-engine/carryforward"
	"github.com/warp/entitlement-engine/engine"
	"github.com/warp/entitlement-engine/factory"
	"github.com/warp/entitlement-engine/gratuity"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: SQLite allows one writer, and :memory: databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Policy versions (append-only; effective_to closed once on supersede)
	CREATE TABLE IF NOT EXISTS policy_versions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		jurisdiction TEXT NOT NULL DEFAULT '',
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_policy_versions_kind
		ON policy_versions(kind, jurisdiction, effective_from);

	-- Employees (service records)
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		date_of_joining TEXT NOT NULL,
		last_working_day TEXT,
		last_drawn_basic TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Leave balances (one row per employee/type/as-of date)
	CREATE TABLE IF NOT EXISTS leave_balances (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_code TEXT NOT NULL,
		balance_days TEXT NOT NULL,
		as_of_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(employee_id, leave_type_code, as_of_date)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_balances_as_of
		ON leave_balances(as_of_date);

	-- Settlements (insert-only audit rows with every intermediate)
	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		as_of TEXT NOT NULL,
		eligible BOOLEAN NOT NULL,
		completed_years INTEGER NOT NULL,
		fractional_years TEXT NOT NULL,
		daily_rate TEXT NOT NULL,
		tier_rate TEXT NOT NULL,
		gross TEXT NOT NULL,
		exemption TEXT NOT NULL,
		taxable TEXT NOT NULL,
		tax TEXT NOT NULL,
		net TEXT NOT NULL,
		tier_policy_id TEXT NOT NULL,
		tax_policy_id TEXT NOT NULL,
		finalized BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_employee
		ON settlements(employee_id);

	-- Arrears runs (insert-only; per-period lines as JSON)
	CREATE TABLE IF NOT EXISTS arrears_runs (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		total_gross_diff TEXT NOT NULL,
		total_tax_impact TEXT NOT NULL,
		total_net_diff TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_arrears_runs_employee
		ON arrears_runs(employee_id);

	-- Carry-forward runs (year-end batch executions)
	CREATE TABLE IF NOT EXISTS carryforward_runs (
		id TEXT PRIMARY KEY,
		year_end TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		employees INTEGER DEFAULT 0,
		total_carry TEXT NOT NULL DEFAULT '0',
		total_lapse TEXT NOT NULL DEFAULT '0',
		projections_json TEXT,
		error TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_carryforward_runs_status
		ON carryforward_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// =============================================================================
// POLICY VERSIONS (engine.PolicyStore interface)
// =============================================================================

// AppendVersion persists a new policy version. Insert-only.
func (s *Store) AppendVersion(ctx context.Context, v engine.PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(factory.ToJSON(v))
	if err != nil {
		return fmt.Errorf("failed to marshal policy payload: %w", err)
	}

	var effectiveTo any
	if v.EffectiveTo != nil {
		effectiveTo = v.EffectiveTo.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policy_versions (id, kind, jurisdiction, effective_from, effective_to, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Kind, v.Jurisdiction, v.EffectiveFrom.String(), effectiveTo, string(payload), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to append policy version: %w", err)
	}
	return nil
}

// CloseOpen sets effective_to on an open-ended version. The WHERE guard
// means a closed range can never be reopened or moved.
func (s *Store) CloseOpen(ctx context.Context, id engine.PolicyVersionID, effectiveTo engine.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE policy_versions SET effective_to = ?
		WHERE id = ? AND effective_to IS NULL`,
		effectiveTo.String(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to close policy version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("version %s not found or already closed", id)
	}
	return nil
}

// LoadVersions returns all policy versions in insertion order.
func (s *Store) LoadVersions(ctx context.Context) ([]engine.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT payload_json, effective_to FROM policy_versions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policy versions: %w", err)
	}
	defer rows.Close()

	f := factory.NewPolicyFactory()
	var versions []engine.PolicyVersion
	for rows.Next() {
		var payload string
		var effectiveTo sql.NullString
		if err := rows.Scan(&payload, &effectiveTo); err != nil {
			return nil, fmt.Errorf("failed to scan policy version: %w", err)
		}
		v, err := f.ParseVersion(payload)
		if err != nil {
			return nil, fmt.Errorf("corrupt policy payload: %w", err)
		}
		// effective_to may have been closed after the payload was written;
		// the column is authoritative.
		if effectiveTo.Valid {
			to, err := engine.ParseDate(effectiveTo.String)
			if err != nil {
				return nil, fmt.Errorf("corrupt effective_to: %w", err)
			}
			v.EffectiveTo = &to
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// Employee is the persisted service record plus display fields.
type Employee struct {
	ID             string
	Name           string
	Email          string
	DateOfJoining  time.Time
	LastWorkingDay *time.Time
	LastDrawnBasic decimal.Decimal
	CreatedAt      time.Time
}

// ServiceRecord converts the row into the engine's input type.
func (e Employee) ServiceRecord() engine.ServiceRecord {
	rec := engine.ServiceRecord{
		EmployeeID:     engine.EmployeeID(e.ID),
		DateOfJoining:  engine.NewDate(e.DateOfJoining.Year(), e.DateOfJoining.Month(), e.DateOfJoining.Day()),
		LastDrawnBasic: e.LastDrawnBasic,
	}
	if e.LastWorkingDay != nil {
		d := engine.NewDate(e.LastWorkingDay.Year(), e.LastWorkingDay.Month(), e.LastWorkingDay.Day())
		rec.LastWorkingDay = &d
	}
	return rec
}

// SaveEmployee inserts or corrects a service record. Corrections are
// rejected once a finalized settlement exists for the employee.
func (s *Store) SaveEmployee(ctx context.Context, e Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finalized int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM settlements WHERE employee_id = ? AND finalized", e.ID,
	).Scan(&finalized)
	if err != nil {
		return err
	}
	if finalized > 0 {
		return fmt.Errorf("employee %s has a finalized settlement; service record is immutable", e.ID)
	}

	var lwd any
	if e.LastWorkingDay != nil {
		lwd = e.LastWorkingDay.Format("2006-01-02")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, date_of_joining, last_working_day, last_drawn_basic, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			date_of_joining = excluded.date_of_joining,
			last_working_day = excluded.last_working_day,
			last_drawn_basic = excluded.last_drawn_basic`,
		e.ID, e.Name, e.Email, e.DateOfJoining.Format("2006-01-02"), lwd, e.LastDrawnBasic.String(), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee returns an employee by ID, or nil if not found.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, date_of_joining, last_working_day, last_drawn_basic, created_at
		FROM employees WHERE id = ?`, id)

	e, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, date_of_joining, last_working_day, last_drawn_basic, created_at
		FROM employees ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, *e)
	}
	return employees, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*Employee, error) {
	var (
		e         Employee
		email     sql.NullString
		doj       string
		lwd       sql.NullString
		basic     string
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Name, &email, &doj, &lwd, &basic, &createdAt); err != nil {
		return nil, err
	}
	e.Email = email.String
	t, err := time.Parse("2006-01-02", doj)
	if err != nil {
		return nil, fmt.Errorf("corrupt date_of_joining: %w", err)
	}
	e.DateOfJoining = t
	if lwd.Valid {
		t, err := time.Parse("2006-01-02", lwd.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_working_day: %w", err)
		}
		e.LastWorkingDay = &t
	}
	d, err := decimal.NewFromString(basic)
	if err != nil {
		return nil, fmt.Errorf("corrupt last_drawn_basic: %w", err)
	}
	e.LastDrawnBasic = d
	if c, err := time.Parse(time.RFC3339, createdAt); err == nil {
		e.CreatedAt = c
	}
	return &e, nil
}

// =============================================================================
// LEAVE BALANCES
// =============================================================================

// SaveLeaveBalance records a balance snapshot. Re-posting the same
// employee/type/date replaces the snapshot (it is a fact, not an audit row).
func (s *Store) SaveLeaveBalance(ctx context.Context, id string, bal engine.LeaveTypeBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_balances (id, employee_id, leave_type_code, balance_days, as_of_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(employee_id, leave_type_code, as_of_date) DO UPDATE SET
			balance_days = excluded.balance_days`,
		id, bal.EmployeeID, bal.LeaveTypeCode, bal.BalanceDays.String(), bal.AsOfDate.String(), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save leave balance: %w", err)
	}
	return nil
}

// ListLeaveBalances returns all balances snapshotted on the given date.
func (s *Store) ListLeaveBalances(ctx context.Context, asOf engine.Date) ([]engine.LeaveTypeBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, leave_type_code, balance_days, as_of_date
		FROM leave_balances WHERE as_of_date = ?
		ORDER BY employee_id ASC, leave_type_code ASC`, asOf.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query leave balances: %w", err)
	}
	defer rows.Close()

	var balances []engine.LeaveTypeBalance
	for rows.Next() {
		var (
			bal     engine.LeaveTypeBalance
			days    string
			asOfStr string
		)
		if err := rows.Scan(&bal.EmployeeID, &bal.LeaveTypeCode, &days, &asOfStr); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(days)
		if err != nil {
			return nil, fmt.Errorf("corrupt balance_days: %w", err)
		}
		bal.BalanceDays = d
		date, err := engine.ParseDate(asOfStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt as_of_date: %w", err)
		}
		bal.AsOfDate = date
		balances = append(balances, bal)
	}
	return balances, rows.Err()
}

// =============================================================================
// SETTLEMENTS - Insert-only audit rows
// =============================================================================

// SaveSettlement records a computed settlement. Insert-only: recomputation
// creates a new row, it never edits an old one.
func (s *Store) SaveSettlement(ctx context.Context, id string, st gratuity.Settlement, finalized bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlements
		(id, employee_id, as_of, eligible, completed_years, fractional_years, daily_rate,
		 tier_rate, gross, exemption, taxable, tax, net, tier_policy_id, tax_policy_id, finalized, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, st.EmployeeID, st.AsOf.String(), st.Eligible, st.CompletedYears,
		st.FractionalYears.String(), st.DailyRate.String(), st.AppliedTierRate.String(),
		st.GrossGratuity.String(), st.Exemption.String(), st.TaxableAmount.String(),
		st.Tax.String(), st.NetGratuity.String(), st.TierPolicyID, st.TaxPolicyID,
		finalized, now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save settlement: %w", err)
	}
	return nil
}

// =============================================================================
// ARREARS RUNS - Insert-only audit rows
// =============================================================================

// SaveArrearsRun records an arrears recalculation with its per-period lines.
func (s *Store) SaveArrearsRun(ctx context.Context, id string, res arrears.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := json.Marshal(res.Periods)
	if err != nil {
		return fmt.Errorf("failed to marshal arrears lines: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO arrears_runs (id, employee_id, total_gross_diff, total_tax_impact, total_net_diff, lines_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, res.EmployeeID, res.TotalGrossDiff.String(), res.TotalTaxImpact.String(),
		res.TotalNetDiff.String(), string(lines), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save arrears run: %w", err)
	}
	return nil
}

// =============================================================================
// CARRY-FORWARD RUNS - Year-end batch executions
// =============================================================================

// CarryForwardRun is one year-end batch execution.
type CarryForwardRun struct {
	ID          string
	YearEnd     string
	Status      string // pending, completed, failed
	Employees   int
	TotalCarry  decimal.Decimal
	TotalLapse  decimal.Decimal
	Error       string
	StartedAt   string
	CompletedAt string
}

// CreateCarryForwardRun opens a pending run row.
func (s *Store) CreateCarryForwardRun(ctx context.Context, id string, yearEnd engine.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carryforward_runs (id, year_end, status, started_at, created_at)
		VALUES (?, ?, 'pending', ?, ?)`,
		id, yearEnd.String(), now(), now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create carry-forward run: %w", err)
	}
	return nil
}

// CompleteCarryForwardRun stores the outcome of a successful run.
func (s *Store) CompleteCarryForwardRun(ctx context.Context, id string, projections []carryforward.Projection, agg carryforward.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pj, err := json.Marshal(projections)
	if err != nil {
		return fmt.Errorf("failed to marshal projections: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE carryforward_runs
		SET status = 'completed', employees = ?, total_carry = ?, total_lapse = ?,
		    projections_json = ?, completed_at = ?
		WHERE id = ?`,
		agg.Employees, agg.TotalCarry.String(), agg.TotalLapse.String(), string(pj), now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete carry-forward run: %w", err)
	}
	return nil
}

// FailCarryForwardRun marks a run as failed with its error message.
func (s *Store) FailCarryForwardRun(ctx context.Context, id string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE carryforward_runs
		SET status = 'failed', error = ?, completed_at = ?
		WHERE id = ?`,
		runErr.Error(), now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark carry-forward run failed: %w", err)
	}
	return nil
}

// ListCarryForwardRuns returns runs, most recent first.
func (s *Store) ListCarryForwardRuns(ctx context.Context) ([]CarryForwardRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, year_end, status, employees, total_carry, total_lapse,
		       COALESCE(error, ''), COALESCE(started_at, ''), COALESCE(completed_at, '')
		FROM carryforward_runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query carry-forward runs: %w", err)
	}
	defer rows.Close()

	var runs []CarryForwardRun
	for rows.Next() {
		var (
			r          CarryForwardRun
			carry, lapse string
		)
		if err := rows.Scan(&r.ID, &r.YearEnd, &r.Status, &r.Employees, &carry, &lapse, &r.Error, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		if d, err := decimal.NewFromString(carry); err == nil {
			r.TotalCarry = d
		}
		if d, err := decimal.NewFromString(lapse); err == nil {
			r.TotalLapse = d
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
