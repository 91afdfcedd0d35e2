/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/banklink/banklink/config"
)

var (
	instance *Datasource
	once     sync.Once
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Datasource is the Postgres implementation of IDataSource. Inside
// WithTransaction every call goes through the open transaction.
type Datasource struct {
	Conn *sql.DB
	tx   *sql.Tx
}

func (d Datasource) db() querier {
	if d.tx != nil {
		return d.tx
	}
	return d.Conn
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection opens the shared connection pool on first use.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		con.SetMaxOpenConns(configuration.DataSource.MaxOpenConns)
		con.SetMaxIdleConns(configuration.DataSource.MaxIdleConns)
		con.SetConnMaxLifetime(time.Duration(configuration.DataSource.ConnMaxLifetimeSec) * time.Second)
		instance = &Datasource{Conn: con}
	})
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, errors.New("database connection was not initialized")
	}
	return instance, nil
}

// ConnectDB opens and verifies a Postgres connection and makes sure the
// sync_logs table exists, so scheduler bookkeeping works before migrations run.
func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.Ping(); err != nil {
		logrus.Errorf("database connection error: %v", err)
		return nil, errors.Wrap(err, "pinging database")
	}
	if err := ensureSyncLogTable(context.Background(), db); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSyncLogTable(ctx context.Context, db querier) error {
	_, err := db.ExecContext(ctx, `
		CREATE SCHEMA IF NOT EXISTS banklink;
		CREATE TABLE IF NOT EXISTS banklink.sync_logs (
			id TEXT PRIMARY KEY,
			account_id TEXT,
			status TEXT NOT NULL CHECK (status IN ('success', 'failure', 'rate_limited')),
			operation_type TEXT NOT NULL,
			accounts_synced INTEGER NOT NULL DEFAULT 0,
			transactions_synced INTEGER NOT NULL DEFAULT 0,
			balances_synced INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 1,
			error_message TEXT,
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sync_logs_created_at ON banklink.sync_logs (created_at DESC);
	`)
	return errors.Wrap(err, "creating sync_logs table")
}

// WithTransaction runs fn against a datasource bound to a single database
// transaction. The transaction commits when fn returns nil and rolls back
// otherwise. Nested calls reuse the outer transaction.
func (d Datasource) WithTransaction(ctx context.Context, fn func(IDataSource) error) error {
	if d.tx != nil {
		return fn(d)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(Datasource{Conn: d.Conn, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.Errorf("rolling back transaction: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
