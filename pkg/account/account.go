package account

import (
	"sort"

	"github.com/pkg/errors"
)

// Output is a spendable output owned by an account
type Output struct {
	ID    string
	Value uint64
}

// PendingChange is the change output expected back from an in-flight
// transfer, keyed by the transaction that produces it.
type PendingChange struct {
	TxID   string
	Output Output
}

// Account is a synthetic test account along with the exerciser's belief of
// its spendable state.
type Account struct {
	Key *Key

	Outputs []Output

	// Sequence is the number of transfers this account has initiated. It is
	// consumed on every submission, successful or not.
	Sequence uint64

	PendingChange []PendingChange
}

// New returns a new account with the provided spendable outputs
func New(key *Key, outputs ...Output) *Account {
	return &Account{
		Key:     key,
		Outputs: append([]Output(nil), outputs...),
	}
}

// Address returns the public address of the account
func (a *Account) Address() string {
	return a.Key.Address()
}

// Balance returns the sum of all spendable outputs
func (a *Account) Balance() uint64 {
	var total uint64
	for _, output := range a.Outputs {
		total += output.Value
	}
	return total
}

// PendingBalance returns the sum of all expected change outputs
func (a *Account) PendingBalance() uint64 {
	var total uint64
	for _, pending := range a.PendingChange {
		total += pending.Output.Value
	}
	return total
}

// NextSequence consumes and returns the next sequence number
func (a *Account) NextSequence() uint64 {
	a.Sequence++
	return a.Sequence
}

// HasOutput returns whether the output is in the spendable set
func (a *Account) HasOutput(id string) bool {
	for _, output := range a.Outputs {
		if output.ID == id {
			return true
		}
	}
	return false
}

// Credit adds an output to the spendable set. Crediting an output that's
// already spendable is a no-op.
func (a *Account) Credit(output Output) {
	if a.HasOutput(output.ID) {
		return
	}
	a.Outputs = append(a.Outputs, output)
}

// RemoveOutputs removes the provided outputs from the spendable set
func (a *Account) RemoveOutputs(outputs []Output) {
	removed := make(map[string]struct{}, len(outputs))
	for _, output := range outputs {
		removed[output.ID] = struct{}{}
	}

	kept := a.Outputs[:0]
	for _, output := range a.Outputs {
		if _, ok := removed[output.ID]; !ok {
			kept = append(kept, output)
		}
	}
	a.Outputs = kept
}

// SelectInputs selects outputs, largest first, until their sum covers the
// target. ErrInsufficientBalance is returned when the spendable set can't
// cover the target.
func (a *Account) SelectInputs(target uint64) ([]Output, uint64, error) {
	sorted := append([]Output(nil), a.Outputs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	var selected []Output
	var total uint64
	for _, output := range sorted {
		if total >= target {
			break
		}

		selected = append(selected, output)
		total += output.Value
	}

	if total < target {
		return nil, 0, errors.Wrapf(ErrInsufficientBalance, "have %d, need %d", total, target)
	}
	return selected, total, nil
}

// AddPendingChange records the change output expected from a transaction
func (a *Account) AddPendingChange(txID string, output Output) {
	a.PendingChange = append(a.PendingChange, PendingChange{
		TxID:   txID,
		Output: output,
	})
}

// SettleChange moves the pending change for a transaction into the spendable
// set. It returns whether any change was pending.
func (a *Account) SettleChange(txID string) bool {
	pending, ok := a.takePendingChange(txID)
	if ok {
		a.Credit(pending.Output)
	}
	return ok
}

// DropChange forgets the pending change for a transaction. It returns
// whether any change was pending.
func (a *Account) DropChange(txID string) bool {
	_, ok := a.takePendingChange(txID)
	return ok
}

func (a *Account) takePendingChange(txID string) (PendingChange, bool) {
	for i, pending := range a.PendingChange {
		if pending.TxID == txID {
			a.PendingChange = append(a.PendingChange[:i], a.PendingChange[i+1:]...)
			return pending, true
		}
	}
	return PendingChange{}, false
}

// Clone returns a deep copy of the account. The key is shared, since it's
// immutable.
func (a *Account) Clone() *Account {
	return &Account{
		Key:           a.Key,
		Outputs:       append([]Output(nil), a.Outputs...),
		Sequence:      a.Sequence,
		PendingChange: append([]PendingChange(nil), a.PendingChange...),
	}
}
