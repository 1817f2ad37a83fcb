// Package gateway exposes the orchestrator over HTTP. It maps terminal states onto status
// codes and never returns internal error detail.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/gurufinglobal/attestor/attestor/catalog"
	"github.com/gurufinglobal/attestor/attestor/config"
	"github.com/gurufinglobal/attestor/attestor/orchestrator"
	"github.com/gurufinglobal/attestor/attestor/types"
)

const maxRequestBody = 64 << 10

type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) (types.SubmissionRecord, error)
}

type ActionLister interface {
	Definitions() []catalog.Definition
}

type Options struct {
	CORSOrigins []string
	// RateLimit is the per-client request rate on /request-attestation. Zero disables it.
	RateLimit float64
	RateBurst int
	// Metrics, when set, is served at /metrics.
	Metrics MetricsSource
	// Health, when set, turns /healthz into 503 while it reports an error.
	Health HealthChecker
}

type HealthChecker interface {
	Healthy() error
}

// MetricsSource renders a metrics snapshot, as go-metrics' InmemSink does.
type MetricsSource interface {
	DisplayMetrics(w http.ResponseWriter, r *http.Request) (any, error)
}

func OptionsFromConfig(cfg config.GatewayConfig) Options {
	return Options{
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimitRPS,
		RateBurst:   cfg.RateLimitBurst,
	}
}

type Server struct {
	logger  log.Logger
	runner  Runner
	actions ActionLister
	metrics MetricsSource
	health  HealthChecker
	handler http.Handler
}

func New(logger log.Logger, runner Runner, actions ActionLister, opts Options) *Server {
	s := &Server{
		logger:  logger.With("module", "gateway"),
		runner:  runner,
		actions: actions,
		metrics: opts.Metrics,
		health:  opts.Health,
	}

	var attest http.Handler = http.HandlerFunc(s.handleRequestAttestation)
	if opts.RateLimit > 0 {
		attest = newRateLimiter(opts.RateLimit, max(1, opts.RateBurst)).middleware(attest)
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Handle("/request-attestation", attest).Methods(http.MethodPost)
	r.HandleFunc("/actions", s.handleActions).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	}

	s.handler = cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(r)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

type attestationRequest struct {
	UserAddress string `json:"userAddress"`
	ActionType  string `json:"actionType"`
}

type attestationResponse struct {
	Message      string   `json:"message"`
	TxHash       string   `json:"txHash,omitempty"`
	RecordTxHash string   `json:"recordTxHash,omitempty"`
	Value        *float64 `json:"value,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (s *Server) handleRequestAttestation(w http.ResponseWriter, r *http.Request) {
	var req attestationRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		s.logger.Debug("malformed request body", "error", err)
		writeFailure(w, types.ReasonInvalidRequest)
		return
	}
	if !common.IsHexAddress(req.UserAddress) {
		writeFailure(w, types.ReasonInvalidRequest)
		return
	}
	if strings.TrimSpace(req.ActionType) == "" {
		writeFailure(w, types.ReasonUnsupportedAction)
		return
	}

	record, err := s.runner.Run(r.Context(), orchestrator.Request{
		User:   common.HexToAddress(req.UserAddress),
		Action: req.ActionType,
	})
	if err != nil {
		reason := record.Reason
		if reason == types.ReasonNone {
			reason = types.ReasonOf(err)
		}
		resp := failureResponse(reason)
		fillRecord(&resp, record)
		writeJSON(w, statusFor(reason), resp)
		return
	}

	resp := attestationResponse{}
	fillRecord(&resp, record)
	switch record.State {
	case types.StateConditionNotMet:
		resp.Message = "verification did not meet criteria"
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case types.StateDone:
		resp.Mode = string(record.Mode)
		resp.Message = "action verified and recorded"
		if record.Mode == types.ModeUnverifiedDirect {
			resp.Message = "action recorded directly without hub verification"
			resp.Reason = string(record.Reason)
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		s.logger.Error("orchestration ended in a non-terminal state", "state", record.State.String())
		writeFailure(w, types.ReasonInternal)
	}
}

type actionView struct {
	Name       string  `json:"name"`
	ActionType string  `json:"actionType"`
	Source     string  `json:"source"`
	Comparison string  `json:"comparison"`
	Threshold  float64 `json:"threshold"`
	Unit       string  `json:"unit,omitempty"`
}

func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	defs := s.actions.Definitions()
	views := make([]actionView, 0, len(defs))
	for _, def := range defs {
		views = append(views, actionView{
			Name:       def.Name,
			ActionType: def.ActionType.Hex(),
			Source:     def.Query.SourceID,
			Comparison: string(def.Rule.Comparison),
			Threshold:  def.Rule.Threshold,
			Unit:       def.Rule.Unit,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		if err := s.health.Healthy(); err != nil {
			s.logger.Debug("reporting degraded health", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "ts": time.Now().UTC()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ts": time.Now().UTC()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.metrics.DisplayMetrics(w, r)
	if err != nil {
		s.logger.Error("render metrics", "error", err)
		writeFailure(w, types.ReasonInternal)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func fillRecord(resp *attestationResponse, record types.SubmissionRecord) {
	if record.HasHubTx() {
		resp.TxHash = record.HubTxHash.Hex()
	}
	if record.HasRecordTx() {
		resp.RecordTxHash = record.RecordTxHash.Hex()
	}
	if record.HasValue {
		v := record.Value
		resp.Value = &v
	}
}

var publicMessages = map[types.FailureReason]string{
	types.ReasonConfiguration:       "service is misconfigured",
	types.ReasonUnsupportedAction:   "unsupported action type",
	types.ReasonInvalidRequest:      "invalid request",
	types.ReasonSourceUnavailable:   "fact source unavailable",
	types.ReasonVerifierRejected:    "verifier rejected the request",
	types.ReasonVerifierUnreachable: "verifier unreachable",
	types.ReasonHubSubmissionFailed: "attestation hub submission failed",
	types.ReasonRecordingFailed:     "action recording failed",
	types.ReasonRequestInFlight:     "request already in flight",
}

func failureResponse(reason types.FailureReason) attestationResponse {
	msg, ok := publicMessages[reason]
	if !ok {
		reason = types.ReasonInternal
		msg = "internal error"
	}
	return attestationResponse{Message: msg, Error: msg, Reason: string(reason)}
}

func writeFailure(w http.ResponseWriter, reason types.FailureReason) {
	writeJSON(w, statusFor(reason), failureResponse(reason))
}

// statusFor maps a failure tag onto the HTTP status. Internal setup problems are 500,
// failing external dependencies are 502/503.
func statusFor(reason types.FailureReason) int {
	switch reason {
	case types.ReasonUnsupportedAction, types.ReasonInvalidRequest:
		return http.StatusBadRequest
	case types.ReasonRequestInFlight:
		return http.StatusConflict
	case types.ReasonVerifierRejected:
		return http.StatusBadGateway
	case types.ReasonSourceUnavailable, types.ReasonVerifierUnreachable,
		types.ReasonHubSubmissionFailed, types.ReasonRecordingFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve runs srv on ln until ctx is done, then shuts it down within timeout.
func Serve(ctx context.Context, logger log.Logger, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http gateway listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
