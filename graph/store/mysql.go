package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; load the DSN from configuration
// (QUESTFORGE_MYSQL_DSN).
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	sqlLog[S]
}

// NewMySQLStore connects to MySQL, verifies the connection and creates the
// schema if needed.
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore[S]{sqlLog: sqlLog[S]{db: db, dialect: mysqlDialect}}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

var mysqlDialect = dialect{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(64) NOT NULL,
			seq INT NOT NULL,
			checkpoint_id CHAR(36) NOT NULL,
			node_id VARCHAR(128) NOT NULL,
			state JSON NOT NULL,
			interrupted BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (thread_id, seq),
			INDEX idx_checkpoints_id (thread_id, checkpoint_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS threads_meta (
			thread_id VARCHAR(64) NOT NULL PRIMARY KEY,
			is_archived BOOLEAN NOT NULL DEFAULT FALSE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	setArchived: `INSERT INTO threads_meta (thread_id, is_archived) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE is_archived = VALUES(is_archived)`,
	isDuplicate: func(err error) bool {
		var me *mysql.MySQLError
		return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
	},
}
