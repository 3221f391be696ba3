package pact

import (
	"errors"

	"pactflow/escrow"
	"pactflow/sigcodec"
)

var (
	// ErrNotFound is returned when no pact exists for the identifier.
	ErrNotFound = errors.New("pact: not found")
	// ErrInvalidTerms covers malformed creation input and malformed operation arguments.
	ErrInvalidTerms = errors.New("pact: invalid terms")
	// ErrUnauthorized is returned when the caller lacks the role the operation requires.
	ErrUnauthorized    = errors.New("pact: unauthorized")
	ErrAlreadySigned   = errors.New("pact: already signed")
	ErrAlreadyAccepted = errors.New("pact: arbitrators already accepted")
	ErrWrongState      = errors.New("pact: wrong state")
	ErrNotActive       = errors.New("pact: not active")
	ErrDisputed        = errors.New("pact: disputed")

	ErrInvalidSignature     = sigcodec.ErrInvalidSignature
	ErrInsufficientStake    = escrow.ErrInsufficientStake
	ErrInsufficientAmount   = escrow.ErrInsufficientAmount
	ErrDenominationMismatch = escrow.ErrDenominationMismatch
	ErrTransferFailed       = escrow.ErrTransferFailed
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidTerms, "invalid_terms"},
	{ErrUnauthorized, "unauthorized"},
	{ErrAlreadySigned, "already_signed"},
	{ErrAlreadyAccepted, "already_accepted"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrInsufficientStake, "insufficient_stake"},
	{ErrInsufficientAmount, "insufficient_amount"},
	{ErrDenominationMismatch, "denomination_mismatch"},
	{ErrDisputed, "disputed"},
	{ErrNotActive, "not_active"},
	{ErrWrongState, "wrong_state"},
	{ErrTransferFailed, "transfer_failed"},
}

// ErrorCode maps an operation error onto its stable taxonomy code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "internal"
}
