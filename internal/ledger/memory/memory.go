// Package memory is an in-process ledger.Ledger.
//
// Updates hold a single mutex for their whole duration and write to an
// overlay that is merged into the table only when the update function
// succeeds. Safe for concurrent use.
package memory

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
)

var _ ledger.Ledger = (*Ledger)(nil)

// Ledger is an in-memory balance table and transaction log.
type Ledger struct {
	mu       sync.Mutex
	accounts map[pubkey.Key]ledger.Account
	entries  []ledger.Entry
	ids      map[string]struct{}
	closed   bool
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[pubkey.Key]ledger.Account),
		ids:      make(map[string]struct{}),
	}
}

// Update runs fn atomically.
func (l *Ledger) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(ctx); err != nil {
		return err
	}

	o := &overlay{l: l, dirty: make(map[pubkey.Key]*ledger.Account)}
	if err := fn(ledger.NewTx(o)); err != nil {
		return err
	}

	for addr, acct := range o.dirty {
		if acct == nil {
			delete(l.accounts, addr)
			continue
		}
		l.accounts[addr] = *acct
	}
	for _, e := range o.entries {
		l.entries = append(l.entries, e)
		l.ids[e.ID] = struct{}{}
	}
	return nil
}

// View runs fn against the committed state. Writes made through the
// reader's underlying transaction are discarded.
func (l *Ledger) View(ctx context.Context, fn func(r ledger.Reader) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.check(ctx); err != nil {
		return err
	}
	return fn(ledger.NewTx(&overlay{l: l, dirty: make(map[pubkey.Key]*ledger.Account)}))
}

func (l *Ledger) check(ctx context.Context) error {
	if l.closed {
		return ledger.ErrClosed
	}
	return ctx.Err()
}

// Entries returns log entries after afterSeq.
func (l *Ledger) Entries(ctx context.Context, afterSeq int64) ([]ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := []ledger.Entry{}
	for _, e := range l.entries {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b ledger.Entry) int {
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out, nil
}

// Accounts returns all accounts ordered by address.
func (l *Ledger) Accounts(ctx context.Context) ([]ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ledger.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a.Clone())
	}
	slices.SortFunc(out, func(a, b ledger.Account) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
	return out, nil
}

// Close marks the ledger closed. Further calls fail with ledger.ErrClosed.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// overlay holds pending writes over the committed table.
// A nil entry in dirty marks a deleted account.
type overlay struct {
	l       *Ledger
	dirty   map[pubkey.Key]*ledger.Account
	entries []ledger.Entry
}

func (o *overlay) Load(addr pubkey.Key) (ledger.Account, bool, error) {
	if acct, ok := o.dirty[addr]; ok {
		if acct == nil {
			return ledger.Account{}, false, nil
		}
		return acct.Clone(), true, nil
	}
	acct, ok := o.l.accounts[addr]
	if !ok {
		return ledger.Account{}, false, nil
	}
	return acct.Clone(), true, nil
}

func (o *overlay) Store(acct ledger.Account) error {
	acct = acct.Clone()
	o.dirty[acct.Address] = &acct
	return nil
}

func (o *overlay) Delete(addr pubkey.Key) error {
	o.dirty[addr] = nil
	return nil
}

func (o *overlay) LastSeq() (int64, error) {
	var last int64
	for _, e := range o.l.entries {
		last = max(last, e.Seq)
	}
	for _, e := range o.entries {
		last = max(last, e.Seq)
	}
	return last, nil
}

func (o *overlay) Append(e ledger.Entry) error {
	if _, ok := o.l.ids[e.ID]; ok {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicateEntry, e.ID)
	}
	for _, pending := range o.entries {
		if pending.ID == e.ID {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateEntry, e.ID)
		}
	}
	o.entries = append(o.entries, e)
	return nil
}
