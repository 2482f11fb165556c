package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/shopcore/internal/domain"
)

// TxManager исполняет единицу работы в одной транзакции PostgreSQL.
// Репозитории внутри Stores привязаны к транзакции, поэтому резерв
// остатков, запись заказа и outbox-событие фиксируются вместе либо
// не фиксируются вовсе.
type TxManager struct {
	db *sql.DB
}

// NewTxManager создаёт transaction manager поверх подключения к PostgreSQL.
func NewTxManager(store *Store) *TxManager {
	return &TxManager{db: store.DB()}
}

func (m *TxManager) RunInTransaction(ctx context.Context, fn func(stores domain.Stores) error) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stores := domain.Stores{
		Orders:   newOrderRepositoryTx(tx),
		Products: newProductRepositoryTx(tx),
		Outbox:   newOutboxRepositoryTx(tx),
	}

	if err = fn(stores); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

var _ domain.TxManager = (*TxManager)(nil)
