// Package orchestrator drives one attestation from fact fetch to ledger record.
package orchestrator

import (
	"context"
	"math/big"
	"strconv"
	"time"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	metrics "github.com/hashicorp/go-metrics"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/submitter"
	"github.com/gurufinglobal/attestor/attestor/types"
)

type Options struct {
	SourceTimeout       time.Duration
	VerifierTimeout     time.Duration
	ChainTimeout        time.Duration
	ConfirmationTimeout time.Duration

	// MaxVerifierAttempts bounds Prepare calls when the verifier is unreachable.
	MaxVerifierAttempts int
	RetryDelay          time.Duration
	// MaxRetryDelay caps the exponential growth of RetryDelay.
	MaxRetryDelay time.Duration

	AttestationType  string
	VerifierSourceID string

	Fee *big.Int

	// AwaitConfirmation waits for the hub receipt before recording.
	AwaitConfirmation bool
	// DirectRecordFallback records the action without a hub transaction when the hub call fails.
	DirectRecordFallback bool
	InFlightPolicy       string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SourceTimeout:        cfg.Source.Timeout(),
		VerifierTimeout:      cfg.Verifier.Timeout(),
		ChainTimeout:         cfg.Chain.Timeout(),
		ConfirmationTimeout:  cfg.Chain.ConfirmationTimeout(),
		MaxVerifierAttempts:  cfg.Verifier.MaxAttempts,
		RetryDelay:           cfg.Verifier.RetryDelay(),
		MaxRetryDelay:        cfg.Verifier.MaxRetryDelay(),
		AttestationType:      cfg.Verifier.AttestationType,
		VerifierSourceID:     cfg.Verifier.SourceID,
		Fee:                  cfg.FeeWei(),
		AwaitConfirmation:    cfg.Chain.AwaitConfirmation,
		DirectRecordFallback: cfg.Orchestrator.DirectRecordFallback,
		InFlightPolicy:       cfg.Orchestrator.InFlightPolicy,
	}
}

func (o Options) validate() error {
	if o.SourceTimeout <= 0 || o.VerifierTimeout <= 0 || o.ChainTimeout <= 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "every external call needs a positive timeout")
	}
	if o.AwaitConfirmation && o.ConfirmationTimeout <= 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "confirmation timeout must be positive")
	}
	if o.MaxVerifierAttempts < 1 {
		return errorsmod.Wrap(types.ErrConfiguration, "verifier attempts must be >= 1")
	}
	if o.AttestationType == "" || o.VerifierSourceID == "" {
		return errorsmod.Wrap(types.ErrConfiguration, "attestation type and verifier source id are required")
	}
	if o.Fee == nil || o.Fee.Sign() < 0 {
		return errorsmod.Wrap(types.ErrConfiguration, "hub fee must be non-negative")
	}
	return nil
}

type Request struct {
	User   common.Address
	Action string
}

type Orchestrator struct {
	logger    log.Logger
	actions   Actions
	evaluator Evaluator
	encoder   Encoder
	chain     ChainSubmitter
	confirmer Confirmer
	inFlight  inFlight
	backoff   backoff
	opts      Options

	now func() time.Time
}

func New(logger log.Logger, actions Actions, evaluator Evaluator, encoder Encoder, chain ChainSubmitter, opts Options) (*Orchestrator, error) {
	if actions == nil || evaluator == nil || encoder == nil || chain == nil {
		return nil, errorsmod.Wrap(types.ErrConfiguration, "orchestrator dependencies are required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	guard, err := newInFlight(opts.InFlightPolicy)
	if err != nil {
		return nil, err
	}
	opts.Fee = new(big.Int).Set(opts.Fee)

	return &Orchestrator{
		logger:    logger.With("module", "orchestrator"),
		actions:   actions,
		evaluator: evaluator,
		encoder:   encoder,
		chain:     chain,
		inFlight:  guard,
		backoff:   newBackoff(opts.RetryDelay, opts.MaxRetryDelay),
		opts:      opts,
		now:       time.Now,
	}, nil
}

// SetConfirmer registers the follower for hashes that were not awaited. Call before serving.
func (o *Orchestrator) SetConfirmer(c Confirmer) {
	o.confirmer = c
}

// Run executes one orchestration and returns once it reaches a terminal state.
// The error is nil for Done and ConditionNotMet; otherwise it carries the failure and the
// record's Reason holds its tag. Cancelling ctx does not abort a started orchestration.
func (o *Orchestrator) Run(ctx context.Context, req Request) (types.SubmissionRecord, error) {
	def, ok := o.actions.Lookup(req.Action)
	if !ok {
		err := errorsmod.Wrapf(types.ErrUnsupportedAction, "%q", req.Action)
		return rejected(types.SubmissionRecord{User: req.User}, err)
	}
	if req.User == (common.Address{}) {
		err := errorsmod.Wrap(types.ErrInvalidRequest, "user address is zero")
		return rejected(o.newRecord(req.User, def), err)
	}

	key := req.User.Hex() + "|" + def.ActionType.Hex()
	runCtx := context.WithoutCancel(ctx)

	record, err := o.inFlight.Do(key, func() (types.SubmissionRecord, error) {
		start := time.Now()
		record, err := o.run(runCtx, req.User, def)
		observe(record, start)
		return record, err
	})
	if errorsmod.IsOf(err, types.ErrRequestInFlight) {
		o.logger.Info("request already in flight", "user", req.User.Hex(), "action", def.Name)
		return rejected(o.newRecord(req.User, def), err)
	}
	return record, err
}

func (o *Orchestrator) newRecord(user common.Address, def catalog.Definition) types.SubmissionRecord {
	return types.SubmissionRecord{
		User:       user,
		ActionType: def.ActionType,
		ActionName: def.Name,
		Timestamp:  o.now().UTC(),
		SourceID:   def.Query.SourceID,
		Fee:        new(big.Int).Set(o.opts.Fee),
		State:      types.StateIdle,
	}
}

// observe counts finished runs by action and terminal state, and times them.
func observe(record types.SubmissionRecord, start time.Time) {
	labels := []metrics.Label{
		{Name: "action", Value: record.ActionName},
		{Name: "state", Value: record.State.String()},
	}
	if record.Reason != types.ReasonNone {
		labels = append(labels, metrics.Label{Name: "reason", Value: string(record.Reason)})
	}
	if record.State == types.StateDone {
		labels = append(labels, metrics.Label{Name: "mode", Value: string(record.Mode)})
	}
	metrics.IncrCounterWithLabels([]string{"attestor", "run"}, 1, labels)
	metrics.MeasureSinceWithLabels([]string{"attestor", "run", "duration"}, start, labels[:1])
}

func rejected(record types.SubmissionRecord, err error) (types.SubmissionRecord, error) {
	record.State = types.StateFailed
	record.Reason = types.ReasonOf(err)
	record.Outcome = types.OutcomeOf(record.Reason)
	return record, err
}

func (o *Orchestrator) run(ctx context.Context, user common.Address, def catalog.Definition) (types.SubmissionRecord, error) {
	a := &attempt{
		logger: o.logger.With("user", user.Hex(), "action", def.Name),
		record: o.newRecord(user, def),
	}

	a.advance(types.StateFetchingFact)
	a.logger.Debug("fetching fact", "source", def.Source.ID(), "url", def.Query.RedactedURL())
	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.SourceTimeout)
	fact := def.Source.Fetch(fetchCtx, def.Query)
	cancel()
	if !fact.Success {
		a.logger.Warn("fact fetch failed", "source_id", fact.SourceID, "kind", fact.Reason, "detail", fact.Detail)
		return a.fail(errorsmod.Wrapf(types.ErrSourceUnavailable, "%s: %s", def.Query.SourceID, fact.Reason))
	}
	a.record.Value = fact.Value
	a.record.HasValue = true

	a.advance(types.StateEvaluatingPredicate)
	holds, err := o.evaluator.Evaluate(def.ActionType, fact.Value)
	if err != nil {
		return a.fail(err)
	}
	if !holds {
		a.advance(types.StateConditionNotMet)
		a.record.Outcome = types.OutcomeConditionNotMet
		a.logger.Info("condition not met", "value", fact.Value)
		return a.record, nil
	}

	a.advance(types.StatePreparingAttestation)
	encoded, err := o.prepare(ctx, a, def)
	if err != nil {
		return a.fail(err)
	}

	a.advance(types.StateSubmittingToHub)
	mode := types.ModeVerified
	err = o.submitToHub(ctx, a, encoded)
	if a.hubUnconfirmed && o.confirmer != nil {
		o.confirmer.Track(a.record.HubTxHash, "hub:"+def.Name)
	}
	switch {
	case err == nil:
	case o.opts.DirectRecordFallback:
		a.logger.Warn("hub submission failed; recording directly", "error", err, "hub_tx", hashOrEmpty(a.record.HubTxHash))
		mode = types.ModeUnverifiedDirect
		a.record.Reason = types.ReasonOf(err)
	default:
		return a.fail(err)
	}

	a.advance(types.StateRecordingAction)
	proof, err := submitter.Proof{
		HubTxHash: a.record.HubTxHash,
		SourceID:  def.Query.SourceID,
		Value:     strconv.FormatFloat(fact.Value, 'f', -1, 64),
	}.Encode()
	if err != nil {
		return a.fail(errorsmod.Wrapf(types.ErrRecordingFailed, "encode proof: %v", err))
	}

	recordCtx, cancel := context.WithTimeout(ctx, o.opts.ChainTimeout)
	recordHash, err := o.chain.RecordAction(recordCtx, user, def.ActionType, a.record.Timestamp, proof)
	cancel()
	if err != nil {
		// A hub transaction already sent is left standing.
		return a.fail(err)
	}
	a.record.RecordTxHash = recordHash
	a.record.Mode = mode

	a.advance(types.StateDone)
	a.record.Outcome = types.OutcomeSucceeded
	a.logger.Info("action recorded",
		"value", fact.Value,
		"mode", mode,
		"hub_tx", hashOrEmpty(a.record.HubTxHash),
		"record_tx", recordHash.Hex(),
	)

	if o.confirmer != nil {
		if a.record.HasHubTx() && !o.opts.AwaitConfirmation && !a.hubUnconfirmed {
			o.confirmer.Track(a.record.HubTxHash, "hub:"+def.Name)
		}
		o.confirmer.Track(recordHash, "ledger:"+def.Name)
	}
	return a.record, nil
}

// prepare calls the verifier, retrying only while it is unreachable. Every attempt sends a
// freshly built AttestationRequest.
func (o *Orchestrator) prepare(ctx context.Context, a *attempt, def catalog.Definition) (types.EncodedAttestation, error) {
	var lastErr error
	for n := 1; n <= o.opts.MaxVerifierAttempts; n++ {
		if n > 1 {
			timer := time.NewTimer(o.backoff.delay(n - 2))
			select {
			case <-ctx.Done():
				timer.Stop()
				return types.EncodedAttestation{}, errorsmod.Wrap(types.ErrVerifierUnreachable, ctx.Err().Error())
			case <-timer.C:
			}
		}

		req := types.AttestationRequest{
			AttestationType: o.opts.AttestationType,
			SourceID:        o.opts.VerifierSourceID,
			Query:           def.Query,
			CreatedAt:       o.now().UTC(),
		}

		callCtx, cancel := context.WithTimeout(ctx, o.opts.VerifierTimeout)
		encoded, err := o.encoder.Prepare(callCtx, req)
		cancel()
		a.record.VerifierAttempts = n

		if err == nil {
			if !encoded.Valid() {
				return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierRejected, "status %q", encoded.Status)
			}
			return encoded, nil
		}

		lastErr = err
		if !errorsmod.IsOf(err, types.ErrVerifierUnreachable) {
			return types.EncodedAttestation{}, err
		}
		metrics.IncrCounterWithLabels([]string{"attestor", "verifier", "unreachable"}, 1, []metrics.Label{{Name: "action", Value: a.record.ActionName}})
		a.logger.Warn("verifier unreachable", "attempt", n, "max_attempts", o.opts.MaxVerifierAttempts, "error", err)
	}
	return types.EncodedAttestation{}, lastErr
}

// submitToHub sends the hub transaction and, when configured, waits for its receipt. The hash
// stays on the record once the pool accepted the transaction, unless it was mined and reverted.
// A wait that timed out leaves the transaction pending and marks the attempt hubUnconfirmed.
func (o *Orchestrator) submitToHub(ctx context.Context, a *attempt, encoded types.EncodedAttestation) error {
	submitCtx, cancel := context.WithTimeout(ctx, o.opts.ChainTimeout)
	hash, err := o.chain.SubmitToHub(submitCtx, encoded.ABIEncodedRequest, o.opts.Fee)
	cancel()
	if err != nil {
		return err
	}
	a.record.HubTxHash = hash

	if !o.opts.AwaitConfirmation {
		return nil
	}

	a.logger.Debug("awaiting hub confirmation", "tx_hash", hash.Hex())
	_, err = o.chain.AwaitConfirmation(ctx, hash, o.opts.ConfirmationTimeout)
	switch {
	case err == nil:
		return nil
	case errorsmod.IsOf(err, submitter.ErrReverted):
		a.record.HubTxHash = common.Hash{}
	default:
		a.hubUnconfirmed = true
	}
	return errorsmod.Wrapf(types.ErrHubSubmissionFailed, "tx %s: %v", hash.Hex(), err)
}

// attempt is the mutable state of one run.
type attempt struct {
	logger log.Logger
	record types.SubmissionRecord
	// hubUnconfirmed is set when the hub transaction was sent but its receipt wait failed
	// without a revert.
	hubUnconfirmed bool
}

func (a *attempt) advance(next types.State) {
	if !a.record.State.CanTransition(next) {
		a.logger.Error("invalid state transition", "from", a.record.State.String(), "to", next.String())
	}
	a.logger.Debug("state", "from", a.record.State.String(), "to", next.String())
	a.record.State = next
}

func (a *attempt) fail(err error) (types.SubmissionRecord, error) {
	from := a.record.State
	a.advance(types.StateFailed)
	a.record.Reason = types.ReasonOf(err)
	a.record.Outcome = types.OutcomeOf(a.record.Reason)
	a.logger.Error("orchestration failed", "state", from.String(), "reason", a.record.Reason, "error", err)
	return a.record, err
}

func hashOrEmpty(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
