package store

import ragadmin "github.com/tedhappy/ragflow-admin"

// dialect captures the few places where MySQL and SQLite disagree.
type dialect struct {
	driver           string
	intType          string
	versionQuery     string
	tableExistsQuery string
}

var (
	mysqlDialect = dialect{
		driver:       "mysql",
		intType:      "SIGNED",
		versionQuery: "SELECT VERSION()",
		tableExistsQuery: `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = ? AND table_name = ?`,
	}
	sqliteDialect = dialect{
		driver:           "sqlite3",
		intType:          "INTEGER",
		versionQuery:     "SELECT sqlite_version()",
		tableExistsQuery: "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?",
	}
)

func dialectFor(driver string) dialect {
	if driver == "sqlite3" {
		return sqliteDialect
	}
	return mysqlDialect
}

// castInt normalizes a column that RAGFlow stores as either a string or an
// integer.
func (d dialect) castInt(col string) string {
	return "CAST(" + col + " AS " + d.intType + ")"
}

func (d dialect) tableExistsArgs(cfg ragadmin.MySQLConfig, table string) []any {
	if d.driver == "sqlite3" {
		return []any{table}
	}
	return []any{cfg.Database, table}
}
