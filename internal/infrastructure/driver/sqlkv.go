package driver

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLKV KeyValueDB on top of a single two-column table
type SQLKV struct {
	Conn  ITransactionalDB
	Table string
}

var _ KeyValueDB = &SQLKV{}

// NewSQLKV create the table if needed and return the store
func NewSQLKV(ctx context.Context, conn ITransactionalDB, table string) (*SQLKV, error) {
	if table == "" {
		table = "kv_store"
	}
	kv := &SQLKV{Conn: conn, Table: table}
	if err := kv.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate kv table: %w", err)
	}
	return kv, nil
}

func (kv *SQLKV) migrate(ctx context.Context) error {
	_, err := kv.Conn.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    kv_key VARCHAR(255) NOT NULL PRIMARY KEY,
    kv_value TEXT NOT NULL
)`, kv.Table))
	return err
}

// Get implement KeyValueDB
func (kv *SQLKV) Get(ctx context.Context, key string) (string, error) {
	rows, err := kv.Conn.QueryContext(ctx, fmt.Sprintf(`
SELECT
    kv_value
FROM
    %s
WHERE
    kv_key = $1`, kv.Table), key)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", ErrKeyNotFound
	}
	var value string
	if err := rows.Scan(&value); err != nil {
		return "", err
	}
	return value, nil
}

// Set implement KeyValueDB
//
// delete + insert inside one transaction keeps the statement portable across dialects
func (kv *SQLKV) Set(ctx context.Context, key string, value string) (err error) {
	tx, err := kv.Conn.BeginTx(ctx, &TxOptions{
		Isolation:  sql.LevelDefault,
		AccessMode: AccessReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE kv_key = $1`, kv.Table), key); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (kv_key, kv_value) VALUES ($1, $2)`, kv.Table), key, value); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Remove implement KeyValueDB
func (kv *SQLKV) Remove(ctx context.Context, key string) error {
	_, err := kv.Conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE kv_key = $1`, kv.Table), key)
	return err
}

// Ping implement KeyValueDB
func (kv *SQLKV) Ping(ctx context.Context) error {
	return kv.Conn.Ping(ctx)
}
