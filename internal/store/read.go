package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
)

// View runs fn in a read transaction. The reader's transaction is always
// rolled back, so stray writes never persist.
func (s *Store) View(ctx context.Context, fn func(r ledger.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("view: begin tx: %w", err)
	}
	defer tx.Rollback()

	return fn(ledger.NewTx(&sqlStorage{ctx: ctx, tx: tx}))
}

// Entries returns log entries with seq > afterSeq.
// Ordered by seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if there are none.
func (s *Store) Entries(ctx context.Context, afterSeq int64) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, signer, subject, payload, signature, error_code
		FROM entries
		WHERE seq > ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// SubjectEntries returns the log entries for one record address, in order.
func (s *Store) SubjectEntries(ctx context.Context, subject pubkey.Key) ([]ledger.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, kind, signer, subject, payload, signature, error_code
		FROM entries
		WHERE subject = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, subject.String())
	if err != nil {
		return nil, fmt.Errorf("query subject entries: %w", err)
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subject entries: %w", err)
	}
	return entries, nil
}

// Accounts returns every account ordered by address.
func (s *Store) Accounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, lamports, space, data
		FROM accounts
		ORDER BY address COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		var (
			addr     string
			lamports int64
			acct     ledger.Account
		)
		if err := rows.Scan(&addr, &lamports, &acct.Space, &acct.Data); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if acct.Address, err = pubkey.Parse(addr); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		acct.Lamports = uint64(lamports)
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e       ledger.Entry
		signer  string
		subject string
	)
	if err := rows.Scan(&e.Seq, &e.ID, &e.Kind, &signer, &subject, &e.Payload, &e.Signature, &e.Error); err != nil {
		return ledger.Entry{}, fmt.Errorf("scan entry: %w", err)
	}

	var err error
	if e.Signer, err = pubkey.Parse(signer); err != nil {
		return ledger.Entry{}, fmt.Errorf("scan entry %s signer: %w", e.ID, err)
	}
	if e.Subject, err = pubkey.Parse(subject); err != nil {
		return ledger.Entry{}, fmt.Errorf("scan entry %s subject: %w", e.ID, err)
	}
	return e, nil
}
