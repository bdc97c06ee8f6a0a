package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/code-test-client/pkg/account"
	"github.com/code-payments/code-test-client/pkg/token"
)

var (
	// ErrTransactionRejected marks a definitive refusal of a transaction, for
	// example a malformed transaction or a double spend. Resubmitting the
	// same transaction won't succeed.
	ErrTransactionRejected = errors.New("transaction rejected")

	// ErrUnavailable marks a transient failure reaching the ledger
	ErrUnavailable = errors.New("ledger unavailable")
)

// TransferRequest is everything needed to build and submit one transfer
type TransferRequest struct {
	Source      *account.Key
	Destination string

	Inputs  []account.Output
	Amount  uint64
	Fee     uint64
	Change  uint64
	TokenID token.TokenID

	// Sequence is the source account sequence number consumed by this
	// submission
	Sequence uint64
}

// Receipt is returned for a submitted transfer
type Receipt struct {
	TxID string

	Source      string
	Destination string
	Amount      uint64
	Fee         uint64
	TokenID     token.TokenID
	Sequence    uint64

	// Inputs are the outputs spent by the transfer
	Inputs []account.Output

	// Change is the change output returned to the source, if any
	Change *account.Output

	SubmittedAt time.Time
}

// TransactionBuilder builds, signs and submits transfers. Cryptographic
// construction is entirely its concern.
type TransactionBuilder interface {
	// BuildAndSubmit builds and submits the transfer.
	//
	// Returns an error wrapping ErrTransactionRejected when the ledger
	// definitively refuses the transaction. Any other error is a transport
	// error, where the transaction may or may not have been submitted.
	BuildAndSubmit(ctx context.Context, req *TransferRequest) (*Receipt, error)
}

// StatusCode is the status of an output query
type StatusCode uint8

const (
	StatusUnknown StatusCode = iota
	StatusNotFound
	StatusFound
	StatusDefinitivelyRejected
)

func (c StatusCode) String() string {
	switch c {
	case StatusNotFound:
		return "not_found"
	case StatusFound:
		return "found"
	case StatusDefinitivelyRejected:
		return "definitively_rejected"
	}
	return "unknown"
}

// OutputQuery asks for evidence that a transfer's output is visible to the
// destination
type OutputQuery struct {
	TxID        string
	Destination string
	AmountHint  uint64
	TokenID     token.TokenID
}

// OutputStatus is the view service's answer to an OutputQuery
type OutputStatus struct {
	Code StatusCode

	// Outputs are the outputs observed for the transfer at the destination.
	// Only set when Code is StatusFound.
	Outputs []account.Output
}

// ViewClient queries the eventually-consistent view service. It's polled,
// never pushed to.
type ViewClient interface {
	// CheckForOutput returns the current status of a transfer's output.
	// Errors are transport errors.
	CheckForOutput(ctx context.Context, query *OutputQuery) (*OutputStatus, error)
}

// OutputLister lists the spendable outputs of an address, used to seed the
// account pool at startup
type OutputLister interface {
	ListUnspent(ctx context.Context, address string, tokenID token.TokenID) ([]account.Output, error)
}

// Client is the complete set of ledger operations used by the exerciser
type Client interface {
	TransactionBuilder
	ViewClient
	OutputLister
}
