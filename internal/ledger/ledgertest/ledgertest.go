// Package ledgertest holds the behavioral suite every ledger.Ledger backend
// must pass.
package ledgertest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
)

// Factory opens a fresh, empty ledger for one subtest.
type Factory func(t *testing.T) ledger.Ledger

var errAbort = errors.New("abort")

// Run executes the suite against ledgers produced by open.
func Run(t *testing.T, open Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, l ledger.Ledger)
	}{
		{"CreditAndBalance", testCreditAndBalance},
		{"CreateDebitsPayer", testCreateDebitsPayer},
		{"CreateIfAbsent", testCreateIfAbsent},
		{"CreateKeepsPrefundedLamports", testCreateKeepsPrefunded},
		{"CreateInsufficientFunds", testCreateInsufficientFunds},
		{"WriteBoundedBySpace", testWriteBoundedBySpace},
		{"Transfer", testTransfer},
		{"CloseSweepsBalance", testCloseSweeps},
		{"RollbackOnError", testRollback},
		{"AppendUniqueIDs", testAppendUnique},
		{"EntriesOrdered", testEntriesOrdered},
		{"AccountsSorted", testAccountsSorted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

var (
	alice  = pubkey.FromSeed("alice").Key()
	bob    = pubkey.FromSeed("bob").Key()
	record = pubkey.Derive([]byte("record"))
)

func update(t *testing.T, l ledger.Ledger, fn func(tx ledger.Tx) error) {
	t.Helper()
	require.NoError(t, l.Update(context.Background(), fn))
}

func balance(t *testing.T, l ledger.Ledger, addr pubkey.Key) uint64 {
	t.Helper()
	var got uint64
	require.NoError(t, l.View(context.Background(), func(r ledger.Reader) error {
		var err error
		got, err = r.Balance(addr)
		return err
	}))
	return got
}

func testCreditAndBalance(t *testing.T, l ledger.Ledger) {
	assert.Zero(t, balance(t, l, alice))
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 100) })
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 50) })
	assert.Equal(t, uint64(150), balance(t, l, alice))
}

func testCreateDebitsPayer(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 1000) })
	update(t, l, func(tx ledger.Tx) error { return tx.Create(record, alice, 16, 400) })

	assert.Equal(t, uint64(600), balance(t, l, alice))
	assert.Equal(t, uint64(400), balance(t, l, record))

	require.NoError(t, l.View(context.Background(), func(r ledger.Reader) error {
		acct, err := r.Get(record)
		require.NoError(t, err)
		assert.Equal(t, 16, acct.Space)
		assert.Len(t, acct.Data, 16)
		return nil
	}))
}

func testCreateIfAbsent(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 1000) })
	update(t, l, func(tx ledger.Tx) error { return tx.Create(record, alice, 16, 100) })

	err := l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Create(record, alice, 16, 100)
	})
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
	assert.Equal(t, uint64(900), balance(t, l, alice))
}

func testCreateKeepsPrefunded(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 1000) })
	update(t, l, func(tx ledger.Tx) error { return tx.Transfer(alice, record, 5) })
	update(t, l, func(tx ledger.Tx) error { return tx.Create(record, alice, 8, 100) })
	assert.Equal(t, uint64(105), balance(t, l, record))
}

func testCreateInsufficientFunds(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 10) })
	err := l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Create(record, alice, 8, 11)
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	require.NoError(t, l.View(context.Background(), func(r ledger.Reader) error {
		_, err := r.Get(record)
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
		return nil
	}))
}

func testWriteBoundedBySpace(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 10) })
	update(t, l, func(tx ledger.Tx) error { return tx.Create(record, alice, 4, 1) })

	update(t, l, func(tx ledger.Tx) error { return tx.Write(record, []byte{1, 2}) })
	require.NoError(t, l.View(context.Background(), func(r ledger.Reader) error {
		acct, err := r.Get(record)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 0, 0}, acct.Data)
		return nil
	}))

	err := l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Write(record, []byte{1, 2, 3, 4, 5})
	})
	assert.ErrorIs(t, err, ledger.ErrDataTooLarge)

	err = l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Write(bob, []byte{1})
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func testTransfer(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 100) })
	update(t, l, func(tx ledger.Tx) error { return tx.Transfer(alice, bob, 30) })
	assert.Equal(t, uint64(70), balance(t, l, alice))
	assert.Equal(t, uint64(30), balance(t, l, bob))

	err := l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Transfer(bob, alice, 31)
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, uint64(30), balance(t, l, bob))
}

func testCloseSweeps(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 100) })
	update(t, l, func(tx ledger.Tx) error { return tx.Create(record, alice, 8, 60) })

	var swept uint64
	update(t, l, func(tx ledger.Tx) error {
		var err error
		swept, err = tx.Close(record, bob)
		return err
	})
	assert.Equal(t, uint64(60), swept)
	assert.Equal(t, uint64(60), balance(t, l, bob))
	assert.Zero(t, balance(t, l, record))

	require.NoError(t, l.View(context.Background(), func(r ledger.Reader) error {
		_, err := r.Get(record)
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
		return nil
	}))
}

func testRollback(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error { return tx.Credit(alice, 100) })

	err := l.Update(context.Background(), func(tx ledger.Tx) error {
		if err := tx.Transfer(alice, bob, 40); err != nil {
			return err
		}
		if err := tx.Create(record, alice, 8, 10); err != nil {
			return err
		}
		if err := tx.Append(ledger.Entry{Seq: 1, ID: "rolled-back", Kind: "test"}); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	assert.Equal(t, uint64(100), balance(t, l, alice))
	assert.Zero(t, balance(t, l, bob))
	entries, err := l.Entries(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testAppendUnique(t *testing.T, l ledger.Ledger) {
	entry := ledger.Entry{Seq: 1, ID: "tx-1", Kind: "test", Signer: alice, Subject: record, Payload: []byte(`{}`)}
	update(t, l, func(tx ledger.Tx) error { return tx.Append(entry) })

	entry.Seq = 2
	err := l.Update(context.Background(), func(tx ledger.Tx) error { return tx.Append(entry) })
	assert.ErrorIs(t, err, ledger.ErrDuplicateEntry)

	require.NoError(t, l.View(context.Background(), func(r ledger.Reader) error {
		last, err := r.LastSeq()
		require.NoError(t, err)
		assert.Equal(t, int64(1), last)
		return nil
	}))
}

func testEntriesOrdered(t *testing.T, l ledger.Ledger) {
	for _, seq := range []int64{3, 1, 2} {
		e := ledger.Entry{
			Seq:       seq,
			ID:        "tx-" + string(rune('a'+seq)),
			Kind:      "test",
			Signer:    alice,
			Subject:   record,
			Payload:   []byte(`{"n":1}`),
			Signature: []byte{1, 2, 3},
		}
		update(t, l, func(tx ledger.Tx) error { return tx.Append(e) })
	}
	update(t, l, func(tx ledger.Tx) error {
		return tx.Append(ledger.Entry{Seq: 4, ID: "tx-failed", Kind: "test", Payload: []byte(`{}`), Error: "INVALID_STATE"})
	})

	entries, err := l.Entries(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{entries[0].Seq, entries[1].Seq, entries[2].Seq})
	assert.Equal(t, alice, entries[0].Signer)
	assert.Equal(t, record, entries[0].Subject)
	assert.Equal(t, []byte(`{"n":1}`), entries[0].Payload)
	assert.Equal(t, []byte{1, 2, 3}, entries[0].Signature)
	assert.Equal(t, "INVALID_STATE", entries[2].Error)
}

func testAccountsSorted(t *testing.T, l ledger.Ledger) {
	update(t, l, func(tx ledger.Tx) error {
		if err := tx.Credit(alice, 1); err != nil {
			return err
		}
		return tx.Credit(bob, 2)
	})

	accounts, err := l.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Negative(t, compareKeys(accounts[0].Address, accounts[1].Address))
}

func compareKeys(a, b pubkey.Key) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
