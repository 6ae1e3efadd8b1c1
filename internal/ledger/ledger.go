// Package ledger is the domain state machine layered on top of the
// replicated log: a bank ledger of accounts and decimal balances, mutated
// only by the four commands the consensus layer has committed.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrUnknownAccount and ErrInsufficientFunds are the two domain failure
// modes a command can hit. They are wrapped in a LedgerError so callers
// can errors.As for the domain type while still errors.Is-ing the
// specific cause.
var (
	ErrUnknownAccount    = errors.New("unknown account")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// LedgerError is a domain-level failure: the command reached consensus
// and occupies a log slot, but applying it to the ledger failed. It
// propagates back to the caller verbatim rather than being retried or
// rolled back at the log level.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string { return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err) }
func (e *LedgerError) Unwrap() error { return e.Err }

// Account is a single ledger entry.
type Account struct {
	UID   int
	Funds decimal.Decimal
}

// Ledger is the in-memory bank state: accounts keyed by UID plus the
// counter handing out fresh UIDs. It has no notion of the replicated log
// above it; Apply is the only way its state changes.
type Ledger struct {
	mu       sync.Mutex
	accounts map[int]Account
	nextUID  int
}

// New builds an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[int]Account)}
}

// Account returns a copy of the account with uid, or ErrUnknownAccount.
func (l *Ledger) Account(uid int) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accountLocked(uid)
}

func (l *Ledger) accountLocked(uid int) (Account, error) {
	acct, ok := l.accounts[uid]
	if !ok {
		return Account{}, &LedgerError{Op: "account", Err: ErrUnknownAccount}
	}
	return acct, nil
}

// openAccount creates a fresh, zero-balance account and returns its UID.
// It cannot fail.
func (l *Ledger) openAccount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	uid := l.nextUID
	l.accounts[uid] = Account{UID: uid, Funds: decimal.Zero}
	l.nextUID++
	return uid
}

// deposit and withdraw mutate a single account; transfer mutates two.
// deposit and withdraw check every precondition before mutating; transfer
// snapshots both accounts first and restores them on error. Either way a
// failed command (e.g. insufficient funds on one leg of a transfer) leaves
// the ledger exactly as it found it.

func (l *Ledger) deposit(uid int, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, err := l.accountLocked(uid)
	if err != nil {
		return err
	}
	acct.Funds = acct.Funds.Add(amount)
	l.accounts[uid] = acct
	return nil
}

func (l *Ledger) withdraw(uid int, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.withdrawLocked(uid, amount)
}

func (l *Ledger) withdrawLocked(uid int, amount decimal.Decimal) error {
	acct, err := l.accountLocked(uid)
	if err != nil {
		return err
	}
	if acct.Funds.LessThan(amount) {
		return &LedgerError{Op: "withdraw", Err: ErrInsufficientFunds}
	}
	acct.Funds = acct.Funds.Sub(amount)
	l.accounts[uid] = acct
	return nil
}

func (l *Ledger) depositLocked(uid int, amount decimal.Decimal) error {
	acct, err := l.accountLocked(uid)
	if err != nil {
		return err
	}
	acct.Funds = acct.Funds.Add(amount)
	l.accounts[uid] = acct
	return nil
}

// transfer withdraws from one account and deposits into another. Both
// accounts are snapshotted first; if either leg fails, both are restored
// so no partial transfer is ever observable.
func (l *Ledger) transfer(from, to int, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := map[int]Account{}
	for _, uid := range []int{from, to} {
		if acct, ok := l.accounts[uid]; ok {
			before[uid] = acct
		}
	}
	restore := func() {
		for uid, acct := range before {
			l.accounts[uid] = acct
		}
	}

	if err := l.withdrawLocked(from, amount); err != nil {
		restore()
		return err
	}
	if err := l.depositLocked(to, amount); err != nil {
		restore()
		return err
	}
	return nil
}
