// README: Postgres ledger; capacity reservation, slot claim and assignment insert in one transaction.
package assignment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"riderdispatch/internal/modules/delivery"
	"riderdispatch/internal/modules/rider"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

type PGLedger struct {
	db         *pgxpool.Pool
	riders     *rider.Store
	deliveries *delivery.Store
}

func NewPGLedger(db *pgxpool.Pool, riders *rider.Store, deliveries *delivery.Store) *PGLedger {
	return &PGLedger{db: db, riders: riders, deliveries: deliveries}
}

func (l *PGLedger) Commit(ctx context.Context, req delivery.CommitRequest) error {
	a := req.Assignment
	err := pgx.BeginTxFunc(ctx, l.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ok, err := l.riders.ReserveCapacity(ctx, tx, a.RiderID, req.RiderVersion)
		if err != nil {
			return err
		}
		if !ok {
			return delivery.ErrVersionConflict
		}

		ok, err = l.deliveries.ClaimSlot(ctx, tx, a.DeliveryID, a.RiderID, req.DeliveryVersion)
		if err != nil {
			return err
		}
		if !ok {
			return delivery.ErrVersionConflict
		}

		return l.deliveries.RecordAssignment(ctx, tx, a)
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgUniqueViolation || pgErr.Code == pgCheckViolation) {
		return delivery.ErrVersionConflict
	}
	return err
}
