package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xrate "golang.org/x/time/rate"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/rate"
	"github.com/code-payments/code-test-client/pkg/token"
)

const testFee = 10

type testEnv struct {
	ctx    context.Context
	clock  *clockwork.FakeClock
	ledger *Ledger
	source *account.Key
	dest   *account.Key
	funded account.Output
}

func setup(t *testing.T, opts ...Option) *testEnv {
	fees, err := token.NewFeeMap(map[token.TokenID]uint64{token.MOB: testFee})
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	l := New(append([]Option{WithClock(clock), WithFeeMap(fees), WithConfirmationDelay(time.Second)}, opts...)...)

	env := &testEnv{
		ctx:    context.Background(),
		clock:  clock,
		ledger: l,
		source: account.NewKeyFromSeed([]byte("source")),
		dest:   account.NewKeyFromSeed([]byte("dest")),
	}
	env.funded = l.Fund(env.source.Address(), token.MOB, 1000)
	return env
}

func (e *testEnv) request(amount uint64, sequence uint64) *ledger.TransferRequest {
	return &ledger.TransferRequest{
		Source:      e.source,
		Destination: e.dest.Address(),
		Inputs:      []account.Output{e.funded},
		Amount:      amount,
		Fee:         testFee,
		Change:      e.funded.Value - amount - testFee,
		TokenID:     token.MOB,
		Sequence:    sequence,
	}
}

func (e *testEnv) query(receipt *ledger.Receipt) *ledger.OutputQuery {
	return &ledger.OutputQuery{
		TxID:        receipt.TxID,
		Destination: receipt.Destination,
		AmountHint:  receipt.Amount,
		TokenID:     receipt.TokenID,
	}
}

func TestLedger_HappyPath(t *testing.T) {
	env := setup(t)

	unspent, err := env.ledger.ListUnspent(env.ctx, env.source.Address(), token.MOB)
	require.NoError(t, err)
	assert.Equal(t, []account.Output{env.funded}, unspent)

	receipt, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.TxID)
	assert.EqualValues(t, 100, receipt.Amount)
	require.NotNil(t, receipt.Change)
	assert.EqualValues(t, 890, receipt.Change.Value)

	// Not yet visible
	status, err := env.ledger.CheckForOutput(env.ctx, env.query(receipt))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusNotFound, status.Code)

	env.clock.Advance(time.Second)

	status, err = env.ledger.CheckForOutput(env.ctx, env.query(receipt))
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFound, status.Code)
	require.Len(t, status.Outputs, 1)
	assert.EqualValues(t, 100, status.Outputs[0].Value)

	assert.EqualValues(t, 100, env.ledger.Balance(env.dest.Address(), token.MOB))
	assert.EqualValues(t, 890, env.ledger.Balance(env.source.Address(), token.MOB))

	submissions, queries := env.ledger.Counts()
	assert.Equal(t, 1, submissions)
	assert.Equal(t, 2, queries)
}

func TestLedger_Validation(t *testing.T) {
	env := setup(t)

	for _, mutate := range []func(req *ledger.TransferRequest){
		func(req *ledger.TransferRequest) { req.Amount = 0; req.Change = 990 },
		func(req *ledger.TransferRequest) { req.Fee = testFee - 1; req.Change++ },
		func(req *ledger.TransferRequest) { req.TokenID = 5 },
		func(req *ledger.TransferRequest) { req.Inputs = nil },
		func(req *ledger.TransferRequest) { req.Inputs = append(req.Inputs, req.Inputs[0]) },
		func(req *ledger.TransferRequest) { req.Inputs = []account.Output{{ID: "unknown", Value: 1000}} },
		func(req *ledger.TransferRequest) { req.Inputs[0].Value = 2000 },
		func(req *ledger.TransferRequest) { req.Change = 0 },
		func(req *ledger.TransferRequest) { req.Destination = env.source.Address() },
		func(req *ledger.TransferRequest) { req.Source = env.dest },
	} {
		req := env.request(100, 1)
		mutate(req)

		_, err := env.ledger.BuildAndSubmit(env.ctx, req)
		assert.True(t, errors.Is(err, ledger.ErrTransactionRejected), err)
	}

	// Nothing was spent
	assert.EqualValues(t, 1000, env.ledger.Balance(env.source.Address(), token.MOB))
}

func TestLedger_DoubleSpend(t *testing.T) {
	env := setup(t)

	_, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
	require.NoError(t, err)

	_, err = env.ledger.BuildAndSubmit(env.ctx, env.request(100, 2))
	assert.True(t, errors.Is(err, ledger.ErrTransactionRejected))
}

func TestLedger_InjectedFaults(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		env := setup(t)
		env.ledger.InjectFaults(FaultReject)

		_, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		assert.True(t, errors.Is(err, ledger.ErrTransactionRejected))

		// Faults are only applied once
		_, err = env.ledger.BuildAndSubmit(env.ctx, env.request(100, 2))
		assert.NoError(t, err)
	})

	t.Run("transport error", func(t *testing.T) {
		env := setup(t)
		env.ledger.InjectFaults(FaultTransportError)

		_, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		assert.True(t, errors.Is(err, ledger.ErrUnavailable))
		assert.EqualValues(t, 1000, env.ledger.Balance(env.source.Address(), token.MOB))
	})

	t.Run("reject later", func(t *testing.T) {
		env := setup(t)
		env.ledger.InjectFaults(FaultRejectLater)

		receipt, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		require.NoError(t, err)

		status, err := env.ledger.CheckForOutput(env.ctx, env.query(receipt))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusDefinitivelyRejected, status.Code)
		assert.EqualValues(t, 1000, env.ledger.Balance(env.source.Address(), token.MOB))
	})

	t.Run("wrong amount", func(t *testing.T) {
		env := setup(t, WithConfirmationDelay(0))
		env.ledger.InjectFaults(FaultWrongAmount)

		receipt, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		require.NoError(t, err)

		status, err := env.ledger.CheckForOutput(env.ctx, env.query(receipt))
		require.NoError(t, err)
		require.Len(t, status.Outputs, 1)
		assert.EqualValues(t, 99, status.Outputs[0].Value)
	})

	t.Run("duplicate output", func(t *testing.T) {
		env := setup(t, WithConfirmationDelay(0))
		env.ledger.InjectFaults(FaultDuplicateOutput)

		receipt, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		require.NoError(t, err)

		status, err := env.ledger.CheckForOutput(env.ctx, env.query(receipt))
		require.NoError(t, err)
		assert.Len(t, status.Outputs, 2)
	})

	t.Run("never confirm", func(t *testing.T) {
		env := setup(t, WithConfirmationDelay(0))
		env.ledger.InjectFaults(FaultNeverConfirm)

		receipt, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		require.NoError(t, err)

		env.clock.Advance(time.Hour)
		status, err := env.ledger.CheckForOutput(env.ctx, env.query(receipt))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusNotFound, status.Code)
		assert.EqualValues(t, 0, env.ledger.Balance(env.source.Address(), token.MOB))
	})

	t.Run("view failures", func(t *testing.T) {
		env := setup(t, WithConfirmationDelay(0))
		env.ledger.FailViewQueries(2)

		receipt, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = env.ledger.CheckForOutput(env.ctx, env.query(receipt))
			assert.True(t, errors.Is(err, ledger.ErrUnavailable))
		}

		status, err := env.ledger.CheckForOutput(env.ctx, env.query(receipt))
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFound, status.Code)
	})
}

func TestLedger_RandomFaults(t *testing.T) {
	env := setup(t, WithRandomFaults(1, map[Fault]float64{FaultReject: 1}))

	_, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
	assert.True(t, errors.Is(err, ledger.ErrTransactionRejected))
}

func TestLedger_UnknownDestination(t *testing.T) {
	env := setup(t)

	status, err := env.ledger.CheckForOutput(env.ctx, &ledger.OutputQuery{
		TxID:        "unknown",
		Destination: account.NewKeyFromSeed([]byte("nobody")).Address(),
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusNotFound, status.Code)
}

func TestLedger_SubmissionRateLimit(t *testing.T) {
	env := setup(t, WithSubmissionRateLimit(rate.NewLocalRateLimiter(xrate.Limit(1))))
	env.ledger.InjectFaults(FaultReject)

	_, err := env.ledger.BuildAndSubmit(env.ctx, env.request(100, 1))
	assert.True(t, errors.Is(err, ledger.ErrTransactionRejected))

	_, err = env.ledger.BuildAndSubmit(env.ctx, env.request(100, 2))
	assert.True(t, errors.Is(err, ledger.ErrUnavailable))
}

func TestLedger_ContextCancelled(t *testing.T) {
	env := setup(t)

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()

	_, err := env.ledger.BuildAndSubmit(ctx, env.request(100, 1))
	assert.Equal(t, context.Canceled, err)

	_, err = env.ledger.CheckForOutput(ctx, &ledger.OutputQuery{})
	assert.Equal(t, context.Canceled, err)

	_, err = env.ledger.ListUnspent(ctx, env.source.Address(), token.MOB)
	assert.Equal(t, context.Canceled, err)
}

func TestParseFault(t *testing.T) {
	for _, fault := range []Fault{
		FaultReject,
		FaultTransportError,
		FaultRejectLater,
		FaultWrongAmount,
		FaultDuplicateOutput,
		FaultNeverConfirm,
	} {
		parsed, err := ParseFault(fault.String())
		require.NoError(t, err)
		assert.Equal(t, fault, parsed)
	}

	for _, name := range []string{"", "none", "unknown", "Reject"} {
		_, err := ParseFault(name)
		assert.Error(t, err, name)
	}
}
