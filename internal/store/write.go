package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
)

// Update runs fn inside one SQLite transaction. The transaction commits only
// if fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(ledger.NewTx(&sqlStorage{ctx: ctx, tx: tx})); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update: commit: %w", err)
	}
	return nil
}

// sqlStorage implements ledger.Storage over one sql.Tx.
type sqlStorage struct {
	ctx context.Context
	tx  *sql.Tx
}

func (s *sqlStorage) Load(addr pubkey.Key) (ledger.Account, bool, error) {
	var (
		lamports int64
		space    int
		data     []byte
	)
	err := s.tx.QueryRowContext(s.ctx, `
		SELECT lamports, space, data FROM accounts WHERE address = ?
	`, addr.String()).Scan(&lamports, &space, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{Address: addr}, false, nil
	}
	if err != nil {
		return ledger.Account{}, false, fmt.Errorf("load account %s: %w", addr, err)
	}
	return ledger.Account{
		Address:  addr,
		Lamports: uint64(lamports),
		Space:    space,
		Data:     data,
	}, true, nil
}

func (s *sqlStorage) Store(acct ledger.Account) error {
	if acct.Lamports > math.MaxInt64 {
		return fmt.Errorf("store account %s: %w", acct.Address, ledger.ErrOverflow)
	}
	_, err := s.tx.ExecContext(s.ctx, `
		INSERT INTO accounts (address, lamports, space, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			lamports = excluded.lamports,
			space = excluded.space,
			data = excluded.data
	`,
		acct.Address.String(),
		int64(acct.Lamports),
		acct.Space,
		acct.Data,
	)
	if err != nil {
		return fmt.Errorf("store account %s: %w", acct.Address, err)
	}
	return nil
}

func (s *sqlStorage) Delete(addr pubkey.Key) error {
	if _, err := s.tx.ExecContext(s.ctx, `DELETE FROM accounts WHERE address = ?`, addr.String()); err != nil {
		return fmt.Errorf("delete account %s: %w", addr, err)
	}
	return nil
}

func (s *sqlStorage) LastSeq() (int64, error) {
	var seq sql.NullInt64
	if err := s.tx.QueryRowContext(s.ctx, `SELECT MAX(seq) FROM entries`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// Append inserts a log entry. A reused ID violates the UNIQUE constraint
// and is reported as ledger.ErrDuplicateEntry.
func (s *sqlStorage) Append(e ledger.Entry) error {
	payload := e.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.tx.ExecContext(s.ctx, `
		INSERT INTO entries
		(seq, id, kind, signer, subject, payload, signature, error_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Seq,
		e.ID,
		e.Kind,
		e.Signer.String(),
		e.Subject.String(),
		payload,
		e.Signature,
		e.Error,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateEntry, e.ID)
		}
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}
