package bitmask

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/cambria"
	"github.com/diba-io/bitmask/carbonado"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/invoice"
	"github.com/diba-io/bitmask/issuer"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/marketplace"
	"github.com/diba-io/bitmask/network"
	"github.com/diba-io/bitmask/proxy"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/rgbpsbt"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/transfer"
	"github.com/diba-io/bitmask/watcher"
)

// ErrorKind buckets errors by how callers should react to them.
type ErrorKind uint8

const (
	// KindInternal covers bugs and contained panics.
	KindInternal ErrorKind = iota

	// KindUserInput errors are caused by the request and are never
	// retried.
	KindUserInput

	// KindStateConflict errors depend on the stored state and can be
	// acted on by the user.
	KindStateConflict

	// KindExternal errors come from the chain, the object store or the
	// relay. They are retryable.
	KindExternal

	// KindIntegrity errors are data that fails its own checks. They are
	// fatal to the operation.
	KindIntegrity
)

// String returns a human readable kind.
func (k ErrorKind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindStateConflict:
		return "state_conflict"
	case KindExternal:
		return "external"
	case KindIntegrity:
		return "integrity"
	default:
		return "internal"
	}
}

var (
	userInputErrs = []error{
		rgb.ErrWrongSeal, rgb.ErrSealMismatch, rgb.ErrUnknownIface,
		rgb.ErrInvalidAmount, rgb.ErrInvalidID, rgb.ErrWireFormat,
		rgb.ErrNoIface, rgb.ErrNoSeal,
		invoice.ErrWrongInvoice, invoice.ErrExpired,
		network.ErrUnknownNetwork, transfer.ErrWrongNetwork,
		transfer.ErrNoPay,
		stash.ErrNoClosedMethod,
		keys.ErrWrongTerminal, keys.ErrWrongDescriptor,
		keys.ErrInvalidMnemonic, keys.ErrInvalidSecret,
		keys.ErrNoSecretKey,
		issuer.ErrInvalidRequest, issuer.ErrNoMediaType,
		rgbpsbt.ErrNoInputs, rgbpsbt.ErrInvalidFee,
		rgbpsbt.ErrInsufficientFunds, rgbpsbt.ErrDustOutput,
		rgbpsbt.ErrWrongOutput, rgbpsbt.ErrScriptMismatch,
		rgbpsbt.ErrWrongPSBT, rgbpsbt.ErrMissingUtxo,
		rgbpsbt.ErrInvalidTapretHost, rgbpsbt.ErrInputOutOfRange,
		rgbpsbt.ErrOutputOutOfRange,
		proxy.ErrWrongConsig, proxy.ErrMediaNotFound,
		marketplace.ErrInvalidOrder,
	}

	stateConflictErrs = []error{
		stash.ErrNoContract, stash.ErrAlreadyExists,
		stash.ErrDoubleSpend,
		account.ErrNoWatcher,
		watcher.ErrXpubMismatch, watcher.ErrNoUtxo,
		marketplace.ErrOfferNotFound, marketplace.ErrOfferClosed,
		marketplace.ErrBidNotFound,
		ErrEmptyContracts,
	}

	externalErrs = []error{
		chain.ErrResolverUnavailable, stash.ErrInconclusive,
		carbonado.ErrAllEndpointsFailed,
		proxy.ErrNotStored, proxy.ErrParse,
		watcher.ErrShuttingDown,
		context.DeadlineExceeded,
	}

	integrityErrs = []error{
		carbonado.ErrCarbonado, cambria.ErrUnknownVersion,
		rgb.ErrArmorChecksum, rgb.ErrUnknownConsignmentVersion,
		commitment.ErrInvalidProof, rgbpsbt.ErrInvalidProof,
	}
)

// ErrEmptyContracts is returned when an operation needs at least one
// contract in the stash.
var ErrEmptyContracts = errors.New("bitmask: no contracts in stash")

// Error is the error every operation returns.
type Error struct {
	Kind ErrorKind

	// Op is the operation that failed.
	Op string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the operation may succeed when retried
// unchanged.
func (e *Error) Retryable() bool {
	return e.Kind == KindExternal
}

// HTTPStatus maps the error to the status code of an HTTP binding. Integrity
// errors are domain errors the UI shows, so they travel as 200 with the
// error in the body.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUserInput:
		return http.StatusBadRequest
	case KindStateConflict:
		return http.StatusConflict
	case KindIntegrity:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Messages returns the validation messages of an invalid consignment.
func (e *Error) Messages() []string {
	var invalid *stash.ErrInvalidConsig
	if errors.As(e.Err, &invalid) {
		return invalid.Messages
	}

	return nil
}

func isAny(err error, targets []error) bool {
	return fn.Any(targets, func(target error) bool {
		return errors.Is(err, target)
	})
}

// classify returns the kind of an error raised by the wallet packages.
func classify(err error) ErrorKind {
	var (
		invalid *stash.ErrInvalidConsig
		backoff *proxy.BackoffExecError
		rpcErr  *proxy.RPCError
	)

	switch {
	case fn.ErrorAs[*fn.CriticalError](err):
		return KindInternal

	case errors.As(err, &invalid):
		return KindStateConflict

	case errors.As(err, &backoff), errors.As(err, &rpcErr):
		return KindExternal

	// Integrity comes before the other buckets since a failed check may
	// be wrapped by an error of another kind.
	case isAny(err, integrityErrs):
		return KindIntegrity

	case isAny(err, userInputErrs):
		return KindUserInput

	case isAny(err, stateConflictErrs):
		return KindStateConflict

	case isAny(err, externalErrs):
		return KindExternal

	default:
		return KindInternal
	}
}

// wrapErr turns an error raised during op into an *Error.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	return &Error{Kind: classify(err), Op: op, Err: err}
}

// userInputf returns a user input error of op.
func userInputf(op, format string, args ...any) error {
	return &Error{
		Kind: KindUserInput,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}
