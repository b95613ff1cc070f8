package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx, so repositories run the same statements in and out of a transaction.
	DBExecutor interface {
		sqlx.ExtContext
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

// WithTx runs fn inside a transaction.
// The transaction is committed when fn returns nil and rolled back otherwise, including on panic.
func WithTx(ctx context.Context, db DB, fn func(exec DBExecutor) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	return runTx(tx, fn)
}

func runTx(tx DBTransactor, fn func(exec DBExecutor) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(err, fmt.Sprintf("rolling back transaction: %v", rbErr))
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Pagination selects one page of a listing. Page is 1-based.
type Pagination struct {
	Page    int `query:"page" json:"page" validate:"omitempty,min=1"`
	PerPage int `query:"per_page" json:"per_page" validate:"omitempty,min=1"`
}

// Normalize fills in defaults and caps PerPage at max.
func (p Pagination) Normalize(defaultPerPage, max int) Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = defaultPerPage
	}
	if max > 0 && p.PerPage > max {
		p.PerPage = max
	}
	return p
}

func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// PageMeta describes a page of results.
type PageMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	From        int `json:"from"`
	To          int `json:"to"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

func NewPageMeta(p Pagination, count, total int) PageMeta {
	meta := PageMeta{
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		Total:       total,
		LastPage:    1,
	}
	if p.PerPage > 0 && total > 0 {
		meta.LastPage = (total + p.PerPage - 1) / p.PerPage
	}
	if count > 0 {
		meta.From = p.Offset() + 1
		meta.To = p.Offset() + count
	}
	return meta
}
