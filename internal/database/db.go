package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect はバックエンドのSQL方言を表す。
type Dialect string

const (
	// DialectPostgres はPostgreSQL（lib/pq）。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（modernc.org/sqlite）。単体起動と開発用。
	DialectSQLite Dialect = "sqlite"
)

// sqliteBusyTimeoutMs はSQLiteのロック待ち時間（ミリ秒）。
const sqliteBusyTimeoutMs = 5000

// ParseURL はDATABASE_URLのスキームから方言とドライバ用DSNを決定する。
//   - postgres:// または postgresql:// はそのままlib/pqに渡す
//   - sqlite://<path> はファイルパスにpragmaを付与してmodernc.org/sqliteに渡す
func ParseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" || strings.HasPrefix(path, "?") {
			return "", "", fmt.Errorf("sqlite database path is empty: %q", databaseURL)
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn := fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", path, sep, sqliteBusyTimeoutMs)
		return DialectSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL scheme: %q", RedactURL(databaseURL))
	}
}

// Open はDATABASE_URLに対応するデータベース接続を開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
// SQLiteは書き込みの競合を避けるため接続数を1に制限する。
func Open(databaseURL string) (*sql.DB, Dialect, error) {
	dialect, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	return db, dialect, nil
}

// RedactURL はログやエラーメッセージに資格情報が出ないようスキーム部分のみを返す。
func RedactURL(databaseURL string) string {
	if i := strings.Index(databaseURL, "://"); i >= 0 {
		return databaseURL[:i] + "://..."
	}
	return "..."
}
