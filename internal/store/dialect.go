package store

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between SQLite and Postgres.
type dialect struct {
	name         string
	driver       string
	idColumn     string
	realType     string
	columnsQuery string
}

var (
	sqliteDialect = dialect{
		name:         "sqlite",
		driver:       "sqlite3",
		idColumn:     "id INTEGER PRIMARY KEY AUTOINCREMENT",
		realType:     "REAL",
		columnsQuery: "SELECT name FROM pragma_table_info(?)",
	}
	postgresDialect = dialect{
		name:         "postgres",
		driver:       "pgx",
		idColumn:     "id BIGSERIAL PRIMARY KEY",
		realType:     "DOUBLE PRECISION",
		columnsQuery: "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?",
	}
)

// rebind rewrites ? placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if d.name != postgresDialect.name {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema returns the idempotent DDL statements.
func (d dialect) schema() []string {
	num := d.realType
	return []string{
		`CREATE TABLE IF NOT EXISTS trading_decisions (
		` + d.idColumn + `,
		timestamp TEXT NOT NULL,
		decision TEXT NOT NULL,
		confidence_score ` + num + `,
		reason TEXT,
		coin_name TEXT NOT NULL,
		coin_krw_price ` + num + `,
		reflection_timestamp TEXT,
		result_type TEXT,
		result_description TEXT,
		reflection TEXT,
		profit_loss ` + num + `
	)`,
		`CREATE TABLE IF NOT EXISTS candles (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		open ` + num + ` NOT NULL,
		high ` + num + ` NOT NULL,
		low ` + num + ` NOT NULL,
		close ` + num + ` NOT NULL,
		volume ` + num + ` NOT NULL,
		PRIMARY KEY (symbol, timeframe, timestamp)
	)`,
		`CREATE TABLE IF NOT EXISTS reflection_runs (
		` + d.idColumn + `,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		considered INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		gains INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		neutral INTEGER NOT NULL,
		avg_profit_loss ` + num + ` NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0
	)`,
	}
}

// indexes are created after migration so they can reference added columns.
func (d dialect) indexes() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON trading_decisions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_coin ON trading_decisions(coin_name)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_reflection ON trading_decisions(reflection_timestamp)`,
	}
}

// analysisColumns are added to tables created before reflections existed.
func (d dialect) analysisColumns() [][2]string {
	return [][2]string{
		{"reflection_timestamp", "TEXT"},
		{"result_type", "TEXT"},
		{"result_description", "TEXT"},
		{"reflection", "TEXT"},
		{"profit_loss", d.realType},
	}
}
