package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	apperrors "trade-reflector/internal/errors"
	"trade-reflector/internal/models"
)

// timeLayout is fixed-width UTC so that text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// canonicalPattern is the LIKE pattern matched by every timeLayout value.
const canonicalPattern = "____-__-__T__:__:__.______Z"

// legacyLayouts are accepted when reading rows written by other tools.
// Values without a zone are read as UTC. EnsureSchema rewrites them into
// timeLayout so queries can compare timestamps as text.
var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

const pendingPredicate = "(reflection_timestamp IS NULL OR reflection_timestamp = '')"

const analyzedPredicate = "(reflection_timestamp IS NOT NULL AND reflection_timestamp <> '')"

const decisionColumns = `id, timestamp, decision, confidence_score, reason, coin_name, coin_krw_price,
	reflection_timestamp, result_type, result_description, reflection, profit_loss`

// Config selects and locates the backing database.
type Config struct {
	Driver string // "sqlite" or "postgres"
	Path   string // SQLite file
	DSN    string // Postgres connection string
}

// SQLStore implements DecisionStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open opens the store described by cfg. The schema is not touched; call
// EnsureSchema before issuing queries.
func Open(cfg Config) (*SQLStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStore(cfg.Path)
	case "postgres", "postgresql", "pgx":
		return NewPostgresStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", apperrors.ErrConfigInvalid, cfg.Driver)
	}
}

// NewSQLiteStore opens a SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", apperrors.ErrConfigInvalid)
	}
	db, err := sql.Open(sqliteDialect.driver, dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", apperrors.ErrStoreUnavailable, err)
	}
	// Runs are sequential; one writer avoids SQLITE_BUSY between the
	// pipeline and the candle cache.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, sqliteDialect)
}

// NewPostgresStore opens a Postgres-backed store through pgx.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty postgres dsn", apperrors.ErrConfigInvalid)
	}
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", apperrors.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	return newSQLStore(db, postgresDialect)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", apperrors.ErrStoreUnavailable, err)
	}
	return &SQLStore{db: db, dialect: d, now: time.Now}, nil
}

// SetClock overrides the clock used for eligibility cutoffs.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

// Driver returns the dialect name.
func (s *SQLStore) Driver() string {
	return s.dialect.name
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and adds the analysis columns to a
// decisions table created before reflections existed. It is idempotent.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	existing, err := s.columns(ctx, "trading_decisions")
	if err != nil {
		return err
	}
	for _, col := range s.dialect.analysisColumns() {
		if existing[col[0]] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE trading_decisions ADD COLUMN %s %s", col[0], col[1])
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col[0], err)
		}
	}

	for _, column := range []string{"timestamp", "reflection_timestamp"} {
		if err := s.normalizeTimestamps(ctx, column); err != nil {
			return err
		}
	}

	for _, stmt := range s.dialect.indexes() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// normalizeTimestamps rewrites decision timestamps stored in a legacy
// layout into timeLayout. Values that cannot be parsed are left alone.
func (s *SQLStore) normalizeTimestamps(ctx context.Context, column string) error {
	query := fmt.Sprintf(`SELECT id, %[1]s FROM trading_decisions
		WHERE %[1]s IS NOT NULL AND %[1]s <> '' AND %[1]s NOT LIKE '%[2]s'`, column, canonicalPattern)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to scan %s values: %w", column, err)
	}

	type fix struct {
		id    int64
		value string
	}
	var fixes []fix
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan %s value: %w", column, err)
		}
		t, err := parseTime(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		fixes = append(fixes, fix{id: id, value: formatTime(t)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("error iterating %s values: %w", column, err)
	}
	rows.Close()

	if len(fixes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(fmt.Sprintf("UPDATE trading_decisions SET %s = ? WHERE id = ?", column)))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, f := range fixes {
		if _, err := stmt.ExecContext(ctx, f.value, f.id); err != nil {
			return apperrors.Wrapf(err, "failed to rewrite %s of decision %d", column, f.id)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(s.dialect.columnsQuery), table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// ============================================================================
// Decisions
// ============================================================================

// Record inserts a new decision and returns its identifier. Analysis
// fields are always written empty.
func (s *SQLStore) Record(ctx context.Context, d *models.Decision) (int64, error) {
	if d == nil || strings.TrimSpace(d.Symbol) == "" {
		return 0, apperrors.Preconditionf("decision requires a symbol")
	}
	kind, err := models.ParseDecisionKind(string(d.Kind))
	if err != nil {
		return 0, apperrors.Preconditionf("%v", err)
	}
	ts := d.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	var id int64
	err = s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO trading_decisions (timestamp, decision, confidence_score, reason, coin_name, coin_krw_price)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), formatTime(ts), string(kind), d.Confidence, d.Reason, normalizeSymbol(d.Symbol), d.Price).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record decision: %w", err)
	}

	d.ID = id
	d.Kind = kind
	d.Timestamp = ts.UTC()
	d.Symbol = normalizeSymbol(d.Symbol)
	return id, nil
}

// Get returns a single decision.
func (s *SQLStore) Get(ctx context.Context, id int64) (*models.Decision, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT "+decisionColumns+" FROM trading_decisions WHERE id = ?"), id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewPersistenceError(id, "get", apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError(id, "get", err)
	}
	return d, nil
}

// Pending returns decisions at least MinAgeHours old whose reflection
// fields are empty, oldest first with ties broken by id.
func (s *SQLStore) Pending(ctx context.Context, filter PendingFilter) ([]models.Decision, error) {
	minAge := filter.MinAgeHours
	if minAge <= 0 {
		minAge = DefaultMinAgeHours
	}
	cutoff := s.now().Add(-time.Duration(minAge) * time.Hour)

	query := "SELECT " + decisionColumns + " FROM trading_decisions WHERE " + pendingPredicate + " AND timestamp <= ?"
	args := []interface{}{formatTime(cutoff)}

	if filter.Symbol != "" {
		query += " AND coin_name = ?"
		args = append(args, normalizeSymbol(filter.Symbol))
	}
	query += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	decisions, err := s.queryDecisions(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: pending query: %v", apperrors.ErrStoreUnavailable, err)
	}
	return decisions, nil
}

// Commit writes all analysis fields of a pending decision in one
// statement. It fails with ErrNotFound for an unknown id and with
// ErrAlreadyAnalyzed when the decision was committed before.
func (s *SQLStore) Commit(ctx context.Context, id int64, a models.Analysis) error {
	if a.ReflectedAt.IsZero() {
		return apperrors.Preconditionf("commit of decision %d without reflection timestamp", id)
	}
	if strings.TrimSpace(a.Reflection) == "" {
		return apperrors.Preconditionf("commit of decision %d without reflection text", id)
	}
	switch a.Classification {
	case models.Gain, models.Loss, models.Neutral:
	default:
		return apperrors.Preconditionf("commit of decision %d with classification %q", id, a.Classification)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError(id, "commit", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.dialect.rebind(`
		UPDATE trading_decisions
		SET reflection_timestamp = ?,
			result_type = ?,
			result_description = ?,
			reflection = ?,
			profit_loss = ?
		WHERE id = ? AND `+pendingPredicate),
		formatTime(a.ReflectedAt), string(a.Classification), a.Summary, a.Reflection, a.ProfitLoss, id)
	if err != nil {
		return apperrors.NewPersistenceError(id, "commit", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewPersistenceError(id, "commit", err)
	}

	if affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, s.dialect.rebind("SELECT COUNT(*) FROM trading_decisions WHERE id = ?"), id).Scan(&exists)
		if err != nil {
			return apperrors.NewPersistenceError(id, "commit", err)
		}
		if exists == 0 {
			return apperrors.NewPersistenceError(id, "commit", apperrors.ErrNotFound)
		}
		return apperrors.NewPersistenceError(id, "commit", apperrors.ErrAlreadyAnalyzed)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError(id, "commit", err)
	}
	return nil
}

// Reflections returns analyzed decisions, most recent reflection first.
func (s *SQLStore) Reflections(ctx context.Context, filter ReflectionFilter) ([]models.Decision, error) {
	query := "SELECT " + decisionColumns + " FROM trading_decisions WHERE " + analyzedPredicate
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND coin_name = ?"
		args = append(args, normalizeSymbol(filter.Symbol))
	}
	query += " ORDER BY reflection_timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	decisions, err := s.queryDecisions(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reflections: %w", err)
	}
	return decisions, nil
}

// OutcomeStats aggregates analyzed decisions, optionally for one symbol.
func (s *SQLStore) OutcomeStats(ctx context.Context, symbol string) (*models.OutcomeStats, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN ` + analyzedPredicate + ` THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ` + pendingPredicate + ` THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ` + analyzedPredicate + ` AND result_type = 'gain' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ` + analyzedPredicate + ` AND result_type = 'loss' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN ` + analyzedPredicate + ` AND result_type = 'neutral' THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN ` + analyzedPredicate + ` THEN profit_loss END)
		FROM trading_decisions`
	args := []interface{}{}
	if symbol != "" {
		query += " WHERE coin_name = ?"
		args = append(args, normalizeSymbol(symbol))
	}

	var (
		stats models.OutcomeStats
		avg   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...).Scan(
		&stats.Analyzed, &stats.Pending, &stats.Gains, &stats.Losses, &stats.Neutral, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome stats: %w", err)
	}
	if avg.Valid {
		stats.AvgProfitLoss = avg.Float64
	}
	if stats.Analyzed > 0 {
		stats.WinRate = float64(stats.Gains) / float64(stats.Analyzed) * 100
	}
	return &stats, nil
}

func (s *SQLStore) queryDecisions(ctx context.Context, query string, args ...interface{}) ([]models.Decision, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return decisions, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDecision(row rowScanner) (*models.Decision, error) {
	var (
		d           models.Decision
		ts, kind    string
		confidence  sql.NullFloat64
		reason      sql.NullString
		price       sql.NullFloat64
		reflectedAt sql.NullString
		resultType  sql.NullString
		resultDesc  sql.NullString
		reflection  sql.NullString
		profitLoss  sql.NullFloat64
	)
	if err := row.Scan(&d.ID, &ts, &kind, &confidence, &reason, &d.Symbol, &price,
		&reflectedAt, &resultType, &resultDesc, &reflection, &profitLoss); err != nil {
		return nil, err
	}

	t, err := parseTime(ts)
	if err != nil {
		return nil, fmt.Errorf("decision %d: %w", d.ID, err)
	}
	d.Timestamp = t

	// Unknown kinds are kept verbatim; the analyzer rejects them per decision.
	if k, err := models.ParseDecisionKind(kind); err == nil {
		d.Kind = k
	} else {
		d.Kind = models.DecisionKind(strings.ToUpper(kind))
	}
	d.Confidence = confidence.Float64
	d.Reason = reason.String
	d.Price = price.Float64

	if reflectedAt.Valid && reflectedAt.String != "" {
		at, err := parseTime(reflectedAt.String)
		if err != nil {
			return nil, fmt.Errorf("decision %d reflection: %w", d.ID, err)
		}
		d.Analysis = &models.Analysis{
			ProfitLoss:     profitLoss.Float64,
			Classification: models.Classification(resultType.String),
			Summary:        resultDesc.String,
			Reflection:     reflection.String,
			ReflectedAt:    at,
		}
	}
	return &d, nil
}

// ============================================================================
// Run history
// ============================================================================

// RecordRun stores the summary of a finished run.
func (s *SQLStore) RecordRun(ctx context.Context, run *models.RunSummary) (int64, error) {
	dryRun := 0
	if run.DryRun {
		dryRun = 1
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO reflection_runs (started_at, finished_at, considered, succeeded, failed, gains, losses, neutral, avg_profit_loss, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), formatTime(run.StartedAt), formatTime(run.FinishedAt), run.Considered, run.Succeeded, run.Failed,
		run.Gains, run.Losses, run.Neutral, run.AvgProfitLoss, dryRun).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to record run: %w", err)
	}
	run.ID = id
	return id, nil
}

// RecentRuns returns the latest runs, newest first.
func (s *SQLStore) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT id, started_at, finished_at, considered, succeeded, failed, gains, losses, neutral, avg_profit_loss, dry_run
		FROM reflection_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var (
			r                 models.RunSummary
			started, finished string
			dryRun            int
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Considered, &r.Succeeded, &r.Failed,
			&r.Gains, &r.Losses, &r.Neutral, &r.AvgProfitLoss, &dryRun); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		r.DryRun = dryRun == 1
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ============================================================================
// Candle cache
// ============================================================================

// SaveCandles upserts candles for a symbol and timeframe.
func (s *SQLStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`
		INSERT INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timeframe, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, timeframe, formatTime(c.Timestamp), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("failed to insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCandles retrieves candles with from <= timestamp <= to.
func (s *SQLStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`), symbol, timeframe, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var (
			c  models.Candle
			ts string
		)
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return candles, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range legacyLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
