// Package repository is the L3 relational store: Postgres via sqlx, one
// file per aggregate, following the teacher's plain-SQL-over-sqlx style
// rather than a query builder or ORM.
package repository

import (
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/factoryops/core/internal/config"
)

func Connect() (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", config.DBDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	return db, nil
}
