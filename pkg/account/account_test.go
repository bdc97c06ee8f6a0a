package account

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(name string, values ...uint64) *Account {
	var outputs []Output
	for i, value := range values {
		outputs = append(outputs, Output{
			ID:    name + "-output-" + string(rune('a'+i)),
			Value: value,
		})
	}
	return New(NewKeyFromSeed([]byte(name)), outputs...)
}

func TestAccount_Balance(t *testing.T) {
	a := newTestAccount("a", 10, 20, 30)
	assert.EqualValues(t, 60, a.Balance())

	a.Credit(Output{ID: "new", Value: 5})
	a.Credit(Output{ID: "new", Value: 5})
	assert.EqualValues(t, 65, a.Balance())
	assert.True(t, a.HasOutput("new"))
}

func TestAccount_SelectInputsLargestFirst(t *testing.T) {
	a := newTestAccount("a", 10, 50, 20, 40)

	selected, total, err := a.SelectInputs(60)
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.EqualValues(t, 50, selected[0].Value)
	assert.EqualValues(t, 40, selected[1].Value)
	assert.EqualValues(t, 90, total)

	selected, total, err = a.SelectInputs(120)
	require.NoError(t, err)
	assert.Len(t, selected, 4)
	assert.EqualValues(t, 120, total)

	_, _, err = a.SelectInputs(121)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	// Selection never mutates the spendable set
	assert.EqualValues(t, 120, a.Balance())
}

func TestAccount_RemoveOutputs(t *testing.T) {
	a := newTestAccount("a", 10, 20, 30)
	a.RemoveOutputs([]Output{a.Outputs[0], a.Outputs[2]})

	require.Len(t, a.Outputs, 1)
	assert.EqualValues(t, 20, a.Outputs[0].Value)
}

func TestAccount_PendingChange(t *testing.T) {
	a := newTestAccount("a", 100)
	a.AddPendingChange("tx1", Output{ID: "change1", Value: 7})
	a.AddPendingChange("tx2", Output{ID: "change2", Value: 3})
	assert.EqualValues(t, 10, a.PendingBalance())

	assert.True(t, a.SettleChange("tx1"))
	assert.False(t, a.SettleChange("tx1"))
	assert.EqualValues(t, 107, a.Balance())

	assert.True(t, a.DropChange("tx2"))
	assert.False(t, a.DropChange("tx2"))
	assert.EqualValues(t, 107, a.Balance())
	assert.Empty(t, a.PendingChange)
}

func TestAccount_CloneIsDeep(t *testing.T) {
	a := newTestAccount("a", 10, 20)
	a.AddPendingChange("tx", Output{ID: "change", Value: 1})

	cloned := a.Clone()
	cloned.Outputs[0].Value = 1000
	cloned.PendingChange[0].Output.Value = 1000
	cloned.NextSequence()

	assert.EqualValues(t, 30, a.Balance())
	assert.EqualValues(t, 1, a.PendingBalance())
	assert.EqualValues(t, 0, a.Sequence)
	assert.Equal(t, a.Address(), cloned.Address())
}

func TestAccount_NextSequence(t *testing.T) {
	a := newTestAccount("a")
	var last uint64
	for i := 0; i < 10; i++ {
		next := a.NextSequence()
		assert.True(t, next > last)
		last = next
	}
}
