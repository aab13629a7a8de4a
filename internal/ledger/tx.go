package ledger

import (
	"fmt"

	"github.com/roach88/escrow/internal/pubkey"
)

// Storage is the raw keyed storage a backend exposes inside one
// transaction. NewTx builds the full Tx semantics on top of it, so every
// backend moves lamports the same way.
type Storage interface {
	// Load returns the account at addr and whether it exists.
	Load(addr pubkey.Key) (Account, bool, error)
	Store(acct Account) error
	Delete(addr pubkey.Key) error
	LastSeq() (int64, error)
	// Append adds a log entry, failing with ErrDuplicateEntry on a reused ID.
	Append(e Entry) error
}

// NewTx wraps backend storage in the Tx contract.
func NewTx(s Storage) Tx {
	return &storageTx{s: s}
}

type storageTx struct {
	s Storage
}

func (t *storageTx) load(addr pubkey.Key) (Account, bool, error) {
	acct, ok, err := t.s.Load(addr)
	if err != nil {
		return Account{}, false, err
	}
	acct.Address = addr
	return acct, ok, nil
}

func (t *storageTx) Get(addr pubkey.Key) (Account, error) {
	acct, ok, err := t.load(addr)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return acct, nil
}

func (t *storageTx) Balance(addr pubkey.Key) (uint64, error) {
	acct, _, err := t.load(addr)
	if err != nil {
		return 0, err
	}
	return acct.Lamports, nil
}

func (t *storageTx) LastSeq() (int64, error) {
	return t.s.LastSeq()
}

func (t *storageTx) Create(addr, payer pubkey.Key, space int, lamports uint64) error {
	existing, _, err := t.load(addr)
	if err != nil {
		return err
	}
	if existing.Space > 0 {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}

	from, _, err := t.load(payer)
	if err != nil {
		return err
	}
	if from.Lamports < lamports {
		return fmt.Errorf("%w: payer %s has %d, needs %d", ErrInsufficientFunds, payer, from.Lamports, lamports)
	}

	// Lamports already sent to the address stay with the new account.
	total, err := AddLamports(existing.Lamports, lamports)
	if err != nil {
		return err
	}

	from.Lamports -= lamports
	if err := t.s.Store(from); err != nil {
		return err
	}
	return t.s.Store(Account{
		Address:  addr,
		Lamports: total,
		Space:    space,
		Data:     make([]byte, space),
	})
}

func (t *storageTx) Write(addr pubkey.Key, data []byte) error {
	acct, err := t.Get(addr)
	if err != nil {
		return err
	}
	if len(data) > acct.Space {
		return fmt.Errorf("%w: %d > %d", ErrDataTooLarge, len(data), acct.Space)
	}
	acct.Data = make([]byte, acct.Space)
	copy(acct.Data, data)
	return t.s.Store(acct)
}

func (t *storageTx) Transfer(from, to pubkey.Key, amount uint64) error {
	src, _, err := t.load(from)
	if err != nil {
		return err
	}
	if src.Lamports < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, src.Lamports, amount)
	}
	if from == to {
		return nil
	}

	dst, _, err := t.load(to)
	if err != nil {
		return err
	}
	total, err := AddLamports(dst.Lamports, amount)
	if err != nil {
		return err
	}

	src.Lamports -= amount
	dst.Lamports = total
	if err := t.s.Store(src); err != nil {
		return err
	}
	return t.s.Store(dst)
}

func (t *storageTx) Close(addr, recipient pubkey.Key) (uint64, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return 0, err
	}
	if addr == recipient {
		return 0, fmt.Errorf("close %s: recipient is the closed account", addr)
	}

	dst, _, err := t.load(recipient)
	if err != nil {
		return 0, err
	}
	total, err := AddLamports(dst.Lamports, acct.Lamports)
	if err != nil {
		return 0, err
	}
	dst.Lamports = total
	if err := t.s.Store(dst); err != nil {
		return 0, err
	}
	if err := t.s.Delete(addr); err != nil {
		return 0, err
	}
	return acct.Lamports, nil
}

func (t *storageTx) Credit(addr pubkey.Key, amount uint64) error {
	acct, _, err := t.load(addr)
	if err != nil {
		return err
	}
	total, err := AddLamports(acct.Lamports, amount)
	if err != nil {
		return err
	}
	acct.Lamports = total
	return t.s.Store(acct)
}

func (t *storageTx) Append(e Entry) error {
	return t.s.Append(e)
}
