package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/senutpal/paxosledger/internal/statemachine"
)

// ReplicatedLedger is the ledger state machine: the domain command set
// (open/deposit/withdraw/transfer) layered over the generic replicated
// log.
type ReplicatedLedger struct {
	sm     *statemachine.StateMachine
	ledger *Ledger
}

// NewReplicatedLedger builds a ledger state machine over dict, identified
// by prefix (so multiple independent ledgers could share one dictionary).
func NewReplicatedLedger(dict statemachine.WriteOnceDict, prefix string) *ReplicatedLedger {
	l := New()
	return &ReplicatedLedger{
		sm:     statemachine.New(dict, prefix, l),
		ledger: l,
	}
}

func decodeUID(data []byte) (int, error) {
	var uid int
	if err := msgpack.Unmarshal(data, &uid); err != nil {
		return 0, fmt.Errorf("ledger: decode uid result: %w", err)
	}
	return uid, nil
}

// OpenAccount commits an OpenAccount command and returns the freshly
// assigned account UID.
func (r *ReplicatedLedger) OpenAccount(ctx context.Context) (int, error) {
	data, err := EncodeCommand(Command{Type: CmdOpenAccount})
	if err != nil {
		return 0, err
	}
	result, err := r.sm.Execute(ctx, data)
	if err != nil {
		return 0, err
	}
	return decodeUID(result)
}

// Deposit commits a Deposit command for uid.
func (r *ReplicatedLedger) Deposit(ctx context.Context, uid int, amount decimal.Decimal) error {
	data, err := EncodeCommand(Command{Type: CmdDeposit, UID: uid, Amount: amount})
	if err != nil {
		return err
	}
	_, err = r.sm.Execute(ctx, data)
	return err
}

// Withdraw commits a Withdraw command for uid.
func (r *ReplicatedLedger) Withdraw(ctx context.Context, uid int, amount decimal.Decimal) error {
	data, err := EncodeCommand(Command{Type: CmdWithdraw, UID: uid, Amount: amount})
	if err != nil {
		return err
	}
	_, err = r.sm.Execute(ctx, data)
	return err
}

// Transfer commits a Transfer command moving amount from `from` to `to`.
func (r *ReplicatedLedger) Transfer(ctx context.Context, from, to int, amount decimal.Decimal) error {
	data, err := EncodeCommand(Command{Type: CmdTransfer, From: from, To: to, Amount: amount})
	if err != nil {
		return err
	}
	_, err = r.sm.Execute(ctx, data)
	return err
}

// Account synchronizes the log up to the latest locally-visible commit
// and returns the account with uid.
func (r *ReplicatedLedger) Account(ctx context.Context, uid int) (Account, error) {
	if err := r.sm.Sync(ctx); err != nil {
		return Account{}, err
	}
	return r.ledger.Account(uid)
}
