package types

import (
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	ServiceName = "attestord"

	// redactedValue replaces secret query values whenever a URL is logged.
	redactedValue = "REDACTED"
)

// secretParams are query parameter names treated as credentials.
var secretParams = []string{"appid", "apikey", "api_key", "key", "token", "access_token"}

// ActionType is the content address of a verifiable claim class: keccak256 of its name.
type ActionType common.Hash

func NewActionType(name string) ActionType {
	return ActionType(crypto.Keccak256Hash([]byte(name)))
}

func (a ActionType) Hex() string {
	return common.Hash(a).Hex()
}

func (a ActionType) String() string {
	return a.Hex()
}

// FactQuery is a resolved description of what to fetch for one ActionType.
type FactQuery struct {
	SourceID       string
	URL            string
	Method         string
	ResponseFormat string
	// JQFilter is the verifier-facing extraction expression.
	JQFilter string
	// Path is the gjson path of the same scalar, used for the local fetch.
	Path string
	Unit string
}

// RedactedURL returns the query URL with every credential-like query value replaced.
func (q FactQuery) RedactedURL() string {
	return RedactURL(q.URL)
}

// RedactURL masks credential query values. Unparseable input is masked entirely.
func RedactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redactedValue
	}
	u.User = nil
	values := u.Query()
	changed := false
	for name := range values {
		for _, secret := range secretParams {
			if strings.EqualFold(name, secret) {
				values[name] = []string{redactedValue}
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = values.Encode()
	}
	return u.String()
}

// FetchFailure classifies why a fact could not be obtained.
type FetchFailure string

const (
	FetchOK           FetchFailure = ""
	FetchNetwork      FetchFailure = "network"
	FetchTimeout      FetchFailure = "timeout"
	FetchStatus       FetchFailure = "status"
	FetchShape        FetchFailure = "shape"
	FetchMissingField FetchFailure = "missing-field"
)

// FactResult is the ephemeral outcome of executing a FactQuery.
type FactResult struct {
	SourceID string
	Value    float64
	Raw      string
	Success  bool
	Reason   FetchFailure
	// Detail carries the internal cause for logging only.
	Detail string
}

func FactOK(sourceID string, value float64, raw string) FactResult {
	return FactResult{SourceID: sourceID, Value: value, Raw: raw, Success: true}
}

func FactFailed(sourceID string, reason FetchFailure, detail string) FactResult {
	return FactResult{SourceID: sourceID, Success: false, Reason: reason, Detail: detail}
}

// AttestationRequest is the verifier-ready request. A new one is built for every attempt.
type AttestationRequest struct {
	AttestationType string
	SourceID        string
	Query           FactQuery
	CreatedAt       time.Time
}

const StatusValid = "VALID"

// EncodedAttestation is the opaque verifier output forwarded to the hub.
type EncodedAttestation struct {
	Status            string
	ABIEncodedRequest []byte
}

func (e EncodedAttestation) Valid() bool {
	return e.Status == StatusValid && len(e.ABIEncodedRequest) > 0
}

type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeConditionNotMet Outcome = "condition-not-met"
	OutcomeSourceFailed    Outcome = "source-failed"
	OutcomeVerifierFailed  Outcome = "verifier-failed"
	OutcomeChainFailed     Outcome = "chain-failed"
)

// RecordMode tells consumers how a ledger record was produced.
type RecordMode string

const (
	ModeNone RecordMode = ""
	// ModeVerified records follow an accepted hub submission.
	ModeVerified RecordMode = "verified"
	// ModeUnverifiedDirect records were written by the relayer after the hub path failed.
	ModeUnverifiedDirect RecordMode = "unverified-direct"
)

// SubmissionRecord is the per-attempt result handed back to the caller.
type SubmissionRecord struct {
	User         common.Address
	ActionType   ActionType
	ActionName   string
	Timestamp    time.Time
	Value        float64
	HasValue     bool
	SourceID     string
	HubTxHash    common.Hash
	RecordTxHash common.Hash
	Fee          *big.Int
	State        State
	Outcome      Outcome
	Mode         RecordMode
	Reason       FailureReason
	// VerifierAttempts counts prepare calls made for this record.
	VerifierAttempts int
}

func (r SubmissionRecord) HasHubTx() bool {
	return r.HubTxHash != (common.Hash{})
}

func (r SubmissionRecord) HasRecordTx() bool {
	return r.RecordTxHash != (common.Hash{})
}
