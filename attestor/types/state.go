package types

// State is a step of one orchestration.
type State uint8

const (
	StateIdle State = iota
	StateFetchingFact
	StateEvaluatingPredicate
	StateConditionNotMet
	StatePreparingAttestation
	StateSubmittingToHub
	StateRecordingAction
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:                 "idle",
	StateFetchingFact:         "fetching-fact",
	StateEvaluatingPredicate:  "evaluating-predicate",
	StateConditionNotMet:      "condition-not-met",
	StatePreparingAttestation: "preparing-attestation",
	StateSubmittingToHub:      "submitting-to-hub",
	StateRecordingAction:      "recording-action",
	StateDone:                 "done",
	StateFailed:               "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) IsTerminal() bool {
	return s == StateConditionNotMet || s == StateDone || s == StateFailed
}

// validTransitions lists the forward edges; every non-terminal state may also fail.
var validTransitions = map[State][]State{
	StateIdle:                 {StateFetchingFact},
	StateFetchingFact:         {StateEvaluatingPredicate},
	StateEvaluatingPredicate:  {StateConditionNotMet, StatePreparingAttestation},
	StatePreparingAttestation: {StateSubmittingToHub},
	StateSubmittingToHub:      {StateRecordingAction},
	StateRecordingAction:      {StateDone},
}

func (s State) CanTransition(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
