package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// CmdType discriminates the four ledger commands carried as the opaque
// value inside each committed log slot.
type CmdType uint8

const (
	CmdOpenAccount CmdType = iota + 1
	CmdDeposit
	CmdWithdraw
	CmdTransfer
)

// Command is the single wire shape for every ledger command. Unused
// fields for a given Type are zero; msgpack encodes/decodes it as one
// compact map, which is what the Multi-Paxos dictionary carries as an
// Accept/Accepted value.
type Command struct {
	Type   CmdType
	UID    int
	From   int
	To     int
	Amount decimal.Decimal
}

// EncodeCommand serializes cmd for storage in a consensus slot.
func EncodeCommand(cmd Command) ([]byte, error) {
	b, err := msgpack.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode command: %w", err)
	}
	return b, nil
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := msgpack.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("ledger: decode command: %w", err)
	}
	return cmd, nil
}

// encodeResult builds the opaque msgpack-encoded value Apply returns for commands
// that produce one (currently only OpenAccount's fresh UID).
func encodeResult(v any) []byte {
	b, err := msgpack.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("ledger: encode result: %v", err))
	}
	return b
}

// Apply dispatches cmd to the ledger and implements statemachine.Applier.
// Domain errors (unknown account, insufficient funds) are returned
// verbatim: the command still occupies its log slot, only its effect on
// the ledger is an error.
func (l *Ledger) Apply(data []byte) ([]byte, error) {
	cmd, err := DecodeCommand(data)
	if err != nil {
		return nil, err
	}

	switch cmd.Type {
	case CmdOpenAccount:
		uid := l.openAccount()
		return encodeResult(uid), nil
	case CmdDeposit:
		if err := l.deposit(cmd.UID, cmd.Amount); err != nil {
			return nil, err
		}
		return nil, nil
	case CmdWithdraw:
		if err := l.withdraw(cmd.UID, cmd.Amount); err != nil {
			return nil, err
		}
		return nil, nil
	case CmdTransfer:
		if err := l.transfer(cmd.From, cmd.To, cmd.Amount); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("ledger: unknown command type %d", cmd.Type)
	}
}
