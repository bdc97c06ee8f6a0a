package jsonrpc

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"
	"golang.org/x/crypto/blake2b"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/ledger"
	"github.com/code-payments/code-test-client/pkg/metrics"
	"github.com/code-payments/code-test-client/pkg/retry"
	"github.com/code-payments/code-test-client/pkg/retry/backoff"
	"github.com/code-payments/code-test-client/pkg/token"
)

const (
	metricsStructName = "ledger.jsonrpc.client"

	// RejectedCode is the JSON-RPC error code used by the gateway for
	// definitively rejected transactions
	RejectedCode = -32001

	rateLimitedCode = 429

	methodSubmitTransfer = "submit_transfer"
	methodCheckForOutput = "check_for_output"
	methodListUnspent    = "list_unspent"
)

var (
	errRateLimited  = errors.New("rate limited")
	errServiceError = errors.New("service error")
)

// Output is the wire representation of an account.Output
type Output struct {
	ID    string `json:"id"`
	Value uint64 `json:"value"`
}

// SubmitTransferRequest is the submit_transfer request
type SubmitTransferRequest struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Inputs      []Output `json:"inputs"`
	Amount      uint64   `json:"amount"`
	Fee         uint64   `json:"fee"`
	Change      uint64   `json:"change"`
	TokenID     uint32   `json:"token_id"`
	Sequence    uint64   `json:"sequence"`
	Signature   string   `json:"signature"`
}

// SubmitTransferResponse is the submit_transfer response
type SubmitTransferResponse struct {
	TxID   string  `json:"tx_id"`
	Change *Output `json:"change,omitempty"`
}

// CheckForOutputRequest is the check_for_output request
type CheckForOutputRequest struct {
	TxID        string `json:"tx_id"`
	Destination string `json:"destination"`
	AmountHint  uint64 `json:"amount_hint"`
	TokenID     uint32 `json:"token_id"`
}

// CheckForOutputResponse is the check_for_output response
type CheckForOutputResponse struct {
	Status  string   `json:"status"`
	Outputs []Output `json:"outputs,omitempty"`
}

// ListUnspentRequest is the list_unspent request
type ListUnspentRequest struct {
	Address string `json:"address"`
	TokenID uint32 `json:"token_id"`
}

// ListUnspentResponse is the list_unspent response
type ListUnspentResponse struct {
	Outputs []Output `json:"outputs"`
}

const (
	StatusNotFound = "not_found"
	StatusFound    = "found"
	StatusRejected = "rejected"
)

const (
	maxAttempts = 3
	baseBackoff = 250 * time.Millisecond
	maxBackoff  = 2 * time.Second
)

type client struct {
	log    *logrus.Entry
	client jsonrpc.RPCClient
	clock  clockwork.Clock
}

// Option configures a client
type Option func(c *client)

// WithClock sets the clock retry backoffs are measured on
func WithClock(clock clockwork.Clock) Option {
	return func(c *client) {
		c.clock = clock
	}
}

// New returns a ledger.Client against a JSON-RPC gateway. The timeout bounds
// every HTTP request, since the underlying RPC client isn't context aware.
func New(endpoint string, timeout time.Duration, opts ...Option) ledger.Client {
	return NewWithRPCOptions(endpoint, &jsonrpc.RPCClientOpts{
		HTTPClient: &http.Client{Timeout: timeout},
	}, opts...)
}

// NewWithRPCOptions returns a client configured with the specified RPC options.
func NewWithRPCOptions(endpoint string, rpcOpts *jsonrpc.RPCClientOpts, opts ...Option) ledger.Client {
	c := &client{
		log:    logrus.StandardLogger().WithField("type", "ledger/jsonrpc/client"),
		client: jsonrpc.NewClientWithOpts(endpoint, rpcOpts),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildAndSubmit implements ledger.TransactionBuilder.BuildAndSubmit
func (c *client) BuildAndSubmit(ctx context.Context, req *ledger.TransferRequest) (*ledger.Receipt, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "BuildAndSubmit")
	defer tracer.End()

	source := req.Source.Address()
	wireReq := &SubmitTransferRequest{
		Source:      source,
		Destination: req.Destination,
		Inputs:      toWireOutputs(req.Inputs),
		Amount:      req.Amount,
		Fee:         req.Fee,
		Change:      req.Change,
		TokenID:     uint32(req.TokenID),
		Sequence:    req.Sequence,
	}
	wireReq.Signature = hex.EncodeToString(req.Source.Sign(SigningPayload(wireReq)))

	var resp SubmitTransferResponse
	if err := c.call(ctx, &resp, methodSubmitTransfer, wireReq); err != nil {
		tracer.OnError(err)
		return nil, errors.Wrap(err, "submit_transfer failed")
	}

	if len(resp.TxID) == 0 {
		return nil, errors.Wrap(ledger.ErrUnavailable, "submit_transfer returned no tx id")
	}

	receipt := &ledger.Receipt{
		TxID:        resp.TxID,
		Source:      source,
		Destination: req.Destination,
		Amount:      req.Amount,
		Fee:         req.Fee,
		TokenID:     req.TokenID,
		Sequence:    req.Sequence,
		Inputs:      append([]account.Output(nil), req.Inputs...),
		SubmittedAt: time.Now(),
	}
	if resp.Change != nil {
		receipt.Change = &account.Output{ID: resp.Change.ID, Value: resp.Change.Value}
	}
	return receipt, nil
}

// CheckForOutput implements ledger.ViewClient.CheckForOutput
func (c *client) CheckForOutput(ctx context.Context, query *ledger.OutputQuery) (*ledger.OutputStatus, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "CheckForOutput")
	defer tracer.End()

	var resp CheckForOutputResponse
	err := c.call(ctx, &resp, methodCheckForOutput, &CheckForOutputRequest{
		TxID:        query.TxID,
		Destination: query.Destination,
		AmountHint:  query.AmountHint,
		TokenID:     uint32(query.TokenID),
	})
	if err != nil {
		tracer.OnError(err)
		return nil, errors.Wrap(err, "check_for_output failed")
	}

	switch resp.Status {
	case StatusNotFound:
		return &ledger.OutputStatus{Code: ledger.StatusNotFound}, nil
	case StatusFound:
		return &ledger.OutputStatus{Code: ledger.StatusFound, Outputs: fromWireOutputs(resp.Outputs)}, nil
	case StatusRejected:
		return &ledger.OutputStatus{Code: ledger.StatusDefinitivelyRejected}, nil
	default:
		return nil, errors.Errorf("unexpected output status %q", resp.Status)
	}
}

// ListUnspent implements ledger.OutputLister.ListUnspent
func (c *client) ListUnspent(ctx context.Context, address string, tokenID token.TokenID) ([]account.Output, error) {
	var resp ListUnspentResponse
	err := c.call(ctx, &resp, methodListUnspent, &ListUnspentRequest{
		Address: address,
		TokenID: uint32(tokenID),
	})
	if err != nil {
		return nil, errors.Wrap(err, "list_unspent failed")
	}
	return fromWireOutputs(resp.Outputs), nil
}

func (c *client) call(ctx context.Context, out interface{}, method string, params interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Backoffs are interrupted by ctx, so a poll deadline or shutdown isn't
	// held up by a rate limited gateway
	_, err := retry.RetryWithContext(
		ctx,
		func() error {
			err := c.client.CallFor(out, method, params)
			if err == nil {
				return nil
			}

			return c.handleRpcError(method, err)
		},
		retry.RetriableErrors(errRateLimited, errServiceError),
		retry.Limit(maxAttempts),
		retry.BackoffWithContext(ctx, c.clock, backoff.BinaryExponential(baseBackoff), maxBackoff),
	)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *client) handleRpcError(method string, err error) error {
	switch typed := err.(type) {
	case *jsonrpc.RPCError:
		if typed.Code == RejectedCode {
			return errors.Wrap(ledger.ErrTransactionRejected, typed.Message)
		}
		if typed.Code == rateLimitedCode {
			c.log.WithField("method", method).Warn("rate limited")
			return errRateLimited
		}
		if typed.Code >= 500 {
			return errServiceError
		}
		return errors.Wrap(ledger.ErrUnavailable, err.Error())
	case *jsonrpc.HTTPError:
		if typed.Code == http.StatusTooManyRequests {
			c.log.WithField("method", method).Warn("rate limited")
			return errRateLimited
		}
		if typed.Code >= 500 {
			return errServiceError
		}
		return errors.Wrap(ledger.ErrUnavailable, err.Error())
	default:
		return errors.Wrap(ledger.ErrUnavailable, err.Error())
	}
}

// SigningPayload returns the canonical bytes signed by the source account
func SigningPayload(req *SubmitTransferRequest) []byte {
	h, _ := blake2b.New256(nil)

	var buf [8]byte
	h.Write([]byte(req.Source))
	h.Write([]byte(req.Destination))
	for _, input := range req.Inputs {
		h.Write([]byte(input.ID))
		binary.LittleEndian.PutUint64(buf[:], input.Value)
		h.Write(buf[:])
	}
	for _, value := range []uint64{req.Amount, req.Fee, req.Change, uint64(req.TokenID), req.Sequence} {
		binary.LittleEndian.PutUint64(buf[:], value)
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

func toWireOutputs(outputs []account.Output) []Output {
	res := make([]Output, len(outputs))
	for i, output := range outputs {
		res[i] = Output{ID: output.ID, Value: output.Value}
	}
	return res
}

func fromWireOutputs(outputs []Output) []account.Output {
	var res []account.Output
	for _, output := range outputs {
		res = append(res, account.Output{ID: output.ID, Value: output.Value})
	}
	return res
}
