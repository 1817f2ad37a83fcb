package types

import (
	errorsmod "cosmossdk.io/errors"
)

const Codespace = "attestor"

const (
	codeConfiguration = uint32(iota) + 2
	codeUnsupportedAction
	codeInvalidRequest
	codeSourceUnavailable
	codeVerifierRejected
	codeVerifierUnreachable
	codeHubSubmissionFailed
	codeRecordingFailed
	codeRequestInFlight
)

var (
	// ErrConfiguration is returned when required setup is missing or invalid.
	ErrConfiguration = errorsmod.Register(Codespace, codeConfiguration, "configuration error")
	// ErrUnsupportedAction is returned for action types outside the enumeration.
	ErrUnsupportedAction = errorsmod.Register(Codespace, codeUnsupportedAction, "unsupported action type")
	// ErrInvalidRequest is returned when the inbound request is malformed.
	ErrInvalidRequest = errorsmod.Register(Codespace, codeInvalidRequest, "invalid request")
	// ErrSourceUnavailable is returned when the fact could not be fetched.
	ErrSourceUnavailable = errorsmod.Register(Codespace, codeSourceUnavailable, "fact source unavailable")
	// ErrVerifierRejected is returned when the verifier refuses the request.
	ErrVerifierRejected = errorsmod.Register(Codespace, codeVerifierRejected, "verifier rejected request")
	// ErrVerifierUnreachable is returned when the verifier cannot be reached.
	ErrVerifierUnreachable = errorsmod.Register(Codespace, codeVerifierUnreachable, "verifier unreachable")
	// ErrHubSubmissionFailed is returned when the hub transaction is not accepted.
	ErrHubSubmissionFailed = errorsmod.Register(Codespace, codeHubSubmissionFailed, "hub submission failed")
	// ErrRecordingFailed is returned when the ledger transaction is not accepted.
	ErrRecordingFailed = errorsmod.Register(Codespace, codeRecordingFailed, "action recording failed")
	// ErrRequestInFlight is returned when the same user and action are already being processed.
	ErrRequestInFlight = errorsmod.Register(Codespace, codeRequestInFlight, "request already in flight")
)

// FailureReason is the caller-visible tag of a failed orchestration.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonConfiguration       FailureReason = "ConfigurationError"
	ReasonUnsupportedAction   FailureReason = "UnsupportedAction"
	ReasonInvalidRequest      FailureReason = "InvalidRequest"
	ReasonSourceUnavailable   FailureReason = "SourceUnavailable"
	ReasonVerifierRejected    FailureReason = "VerifierRejected"
	ReasonVerifierUnreachable FailureReason = "VerifierUnreachable"
	ReasonHubSubmissionFailed FailureReason = "HubSubmissionFailed"
	ReasonRecordingFailed     FailureReason = "RecordingFailed"
	ReasonRequestInFlight     FailureReason = "RequestInFlight"
	ReasonInternal            FailureReason = "InternalError"
)

var reasonTable = []struct {
	err    *errorsmod.Error
	reason FailureReason
}{
	{ErrConfiguration, ReasonConfiguration},
	{ErrUnsupportedAction, ReasonUnsupportedAction},
	{ErrInvalidRequest, ReasonInvalidRequest},
	{ErrSourceUnavailable, ReasonSourceUnavailable},
	{ErrVerifierRejected, ReasonVerifierRejected},
	{ErrVerifierUnreachable, ReasonVerifierUnreachable},
	{ErrHubSubmissionFailed, ReasonHubSubmissionFailed},
	{ErrRecordingFailed, ReasonRecordingFailed},
	{ErrRequestInFlight, ReasonRequestInFlight},
}

// ReasonOf maps an error onto its failure tag. Unregistered errors are internal.
func ReasonOf(err error) FailureReason {
	if err == nil {
		return ReasonNone
	}
	for _, entry := range reasonTable {
		if errorsmod.IsOf(err, entry.err) {
			return entry.reason
		}
	}
	return ReasonInternal
}

// OutcomeOf maps a failure tag onto the SubmissionRecord outcome.
func OutcomeOf(reason FailureReason) Outcome {
	switch reason {
	case ReasonNone:
		return OutcomeSucceeded
	case ReasonSourceUnavailable:
		return OutcomeSourceFailed
	case ReasonVerifierRejected, ReasonVerifierUnreachable:
		return OutcomeVerifierFailed
	case ReasonHubSubmissionFailed, ReasonRecordingFailed:
		return OutcomeChainFailed
	default:
		return ""
	}
}
