package command

import (
	"context"
	"sync"
)

// Command is one buffered mutation: it performs its effect against the
// underlying store and returns an undo closure that restores the
// pre-image, or an error if the effect could not be applied.
type Command func(ctx context.Context) (undo func(), err error)

// ErrTransactionClosed is returned by Buffer/Commit/Rollback once a
// transaction has already committed or rolled back.
var ErrTransactionClosed = New(KindValidationError, "transaction already closed")

// Transaction buffers commands locally and applies them atomically on
// Commit; Rollback restores pre-images from the undo log and discards the
// buffer (spec §4.9). Transactions offer per-entity OCC but no
// cross-entity serializability guarantee. The zero value is not usable;
// use NewTransaction.
type Transaction struct {
	mu      sync.Mutex
	cmds    []Command
	undoLog []func()
	closed  bool
}

// NewTransaction returns an empty, open transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// Buffer appends cmd to the transaction. Buffering after Commit/Rollback
// returns ErrTransactionClosed.
func (tx *Transaction) Buffer(cmd Command) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.cmds = append(tx.cmds, cmd)
	return nil
}

// Commit applies every buffered command in order. If a command fails,
// every command applied so far in this Commit is unwound via its undo
// closure (most recent first) before the error is returned, and the
// transaction is closed either way.
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true

	for _, cmd := range tx.cmds {
		undo, err := cmd(ctx)
		if err != nil {
			for i := len(tx.undoLog) - 1; i >= 0; i-- {
				tx.undoLog[i]()
			}
			return err
		}
		tx.undoLog = append(tx.undoLog, undo)
	}
	return nil
}

// Rollback discards every buffered, uncommitted command and unwinds any
// effects already applied (relevant only if Rollback is called after a
// partial Commit failure path reuses the transaction, which callers should
// not do — Commit already closes the transaction on any outcome).
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closed {
		return ErrTransactionClosed
	}
	tx.closed = true
	for i := len(tx.undoLog) - 1; i >= 0; i-- {
		tx.undoLog[i]()
	}
	tx.cmds = nil
	return nil
}

// Closed reports whether Commit or Rollback has already run.
func (tx *Transaction) Closed() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.closed
}
