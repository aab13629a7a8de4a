package ledger

import (
	"context"
	"errors"
	"math"

	"github.com/roach88/escrow/internal/pubkey"
)

var (
	ErrAccountNotFound   = errors.New("ledger: account not found")
	ErrAccountExists     = errors.New("ledger: account already exists")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrDataTooLarge      = errors.New("ledger: data exceeds account space")
	ErrOverflow          = errors.New("ledger: lamport overflow")
	ErrDuplicateEntry    = errors.New("ledger: duplicate log entry")
	ErrClosed            = errors.New("ledger: closed")
)

// Account is a keyed balance with optional fixed-size data.
// Space is zero for plain party accounts.
type Account struct {
	Address  pubkey.Key `json:"address"`
	Lamports uint64     `json:"lamports"`
	Space    int        `json:"space"`
	Data     []byte     `json:"data,omitempty"`
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}

// Entry is one record of the transaction log.
// Error is empty for committed operations and holds the error code of a
// rejected one.
type Entry struct {
	Seq       int64      `json:"seq"`
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Signer    pubkey.Key `json:"signer"`
	Subject   pubkey.Key `json:"subject"`
	Payload   []byte     `json:"payload"`
	Signature []byte     `json:"signature,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Reader is the read side of a transaction.
type Reader interface {
	// Get returns the account at addr or ErrAccountNotFound.
	Get(addr pubkey.Key) (Account, error)

	// Balance returns the lamports at addr; absent accounts hold zero.
	Balance(addr pubkey.Key) (uint64, error)

	// LastSeq returns the highest logged sequence number, or 0.
	LastSeq() (int64, error)
}

// Tx is a read-write transaction.
type Tx interface {
	Reader

	// Create allocates a new account of the given space at addr, funded with
	// lamports debited from payer. Fails with ErrAccountExists if addr holds
	// an account with data, and ErrInsufficientFunds if payer cannot cover it.
	Create(addr, payer pubkey.Key, space int, lamports uint64) error

	// Write replaces the account data. len(data) must not exceed its space.
	Write(addr pubkey.Key, data []byte) error

	// Transfer moves lamports between accounts, creating the recipient if
	// needed.
	Transfer(from, to pubkey.Key, amount uint64) error

	// Close deletes the account at addr and credits its entire balance to
	// recipient. Returns the swept amount.
	Close(addr, recipient pubkey.Key) (uint64, error)

	// Credit mints lamports into addr. Used by the host faucet only.
	Credit(addr pubkey.Key, amount uint64) error

	// Append adds an entry to the transaction log. Entry IDs are unique.
	Append(e Entry) error
}

// Ledger is the host ledger.
type Ledger interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error

	// Entries returns log entries with Seq > afterSeq in seq order.
	Entries(ctx context.Context, afterSeq int64) ([]Entry, error)

	// Accounts returns every account ordered by address.
	Accounts(ctx context.Context) ([]Account, error)

	Close() error
}

// Rent prices account storage. An account holding data must keep
// MinimumBalance(space) lamports as a deposit.
type Rent struct {
	LamportsPerByte uint64 `json:"lamports_per_byte"`
	Overhead        int    `json:"overhead"`
}

// DefaultRent mirrors a rent-exempt reserve of two years at 3480
// lamports per byte-year, with 128 bytes of per-account overhead.
var DefaultRent = Rent{LamportsPerByte: 6960, Overhead: 128}

// MinimumBalance returns the deposit required for an account of space bytes.
func (r Rent) MinimumBalance(space int) (uint64, error) {
	size := uint64(r.Overhead + space)
	if r.LamportsPerByte != 0 && size > math.MaxUint64/r.LamportsPerByte {
		return 0, ErrOverflow
	}
	return size * r.LamportsPerByte, nil
}

// AddLamports adds with overflow detection.
func AddLamports(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}
