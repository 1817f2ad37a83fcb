// Package verifier asks the off-chain verifier service to turn a FactQuery into the
// ABI-encoded request the attestation hub accepts.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"cosmossdk.io/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gurufinglobal/attestor/attestor/types"
)

const (
	apiKeyHeader = "X-API-KEY"

	maxResponseSize     = 1 << 20
	maxErrorBodyPreview = 256
)

type Client struct {
	logger  log.Logger
	client  *http.Client
	baseURL string
	apiKey  string
}

func New(logger log.Logger, client *http.Client, baseURL, apiKey string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		logger:  logger.With("module", "verifier"),
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type prepareRequest struct {
	AttestationType string      `json:"attestationType"`
	SourceID        string      `json:"sourceId"`
	RequestBody     requestBody `json:"requestBody"`
}

type requestBody struct {
	URL            string `json:"url"`
	Method         string `json:"method"`
	ResponseFormat string `json:"responseFormat"`
	JQFilter       string `json:"jqFilter"`
}

type prepareResponse struct {
	Status            string `json:"status"`
	ABIEncodedRequest string `json:"abiEncodedRequest"`
}

// Prepare sends one request to the verifier. It never retries.
// Errors wrap ErrVerifierUnreachable when the call could not complete and ErrVerifierRejected
// when the verifier answered with anything but a VALID encoding.
func (c *Client) Prepare(ctx context.Context, req types.AttestationRequest) (types.EncodedAttestation, error) {
	endpoint, err := url.JoinPath(c.baseURL, "verifier", "web2", req.AttestationType, "prepareRequest")
	if err != nil {
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrConfiguration, "verifier url: %v", err)
	}

	payload, err := json.Marshal(prepareRequest{
		AttestationType: EncodeBytes32(req.AttestationType),
		SourceID:        EncodeBytes32(req.SourceID),
		RequestBody: requestBody{
			URL:            req.Query.URL,
			Method:         req.Query.Method,
			ResponseFormat: req.Query.ResponseFormat,
			JQFilter:       req.Query.JQFilter,
		},
	})
	if err != nil {
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierRejected, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrConfiguration, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierUnreachable, "post prepareRequest: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierUnreachable, "read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview := truncateForError(body, maxErrorBodyPreview)
		if transientStatus(resp.StatusCode) {
			return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierUnreachable, "HTTP %d: %s", resp.StatusCode, preview)
		}
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierRejected, "HTTP %d: %s", resp.StatusCode, preview)
	}
	if len(body) > maxResponseSize {
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierRejected, "response exceeded %d bytes", maxResponseSize)
	}

	var out prepareResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return types.EncodedAttestation{}, errorsmod.Wrapf(types.ErrVerifierRejected, "malformed response: %v", err)
	}
	if out.Status != types.StatusValid {
		return types.EncodedAttestation{Status: out.Status}, errorsmod.Wrapf(types.ErrVerifierRejected, "status %q", out.Status)
	}

	encoded, err := hexutil.Decode(out.ABIEncodedRequest)
	if err != nil {
		return types.EncodedAttestation{Status: out.Status}, errorsmod.Wrapf(types.ErrVerifierRejected, "abiEncodedRequest: %v", err)
	}
	if len(encoded) == 0 {
		return types.EncodedAttestation{Status: out.Status}, errorsmod.Wrap(types.ErrVerifierRejected, "abiEncodedRequest is empty")
	}

	c.logger.Debug("verifier accepted request",
		"attestation_type", req.AttestationType,
		"source_id", req.SourceID,
		"url", req.Query.RedactedURL(),
		"encoded_len", len(encoded),
	)

	return types.EncodedAttestation{Status: out.Status, ABIEncodedRequest: encoded}, nil
}

// EncodeBytes32 right-pads a UTF-8 name into a 0x-prefixed bytes32.
func EncodeBytes32(name string) string {
	return hexutil.Encode(common.RightPadBytes([]byte(name), common.HashLength))
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func truncateForError(body []byte, maxLen int) string {
	if len(body) == 0 {
		return "(empty response)"
	}
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + fmt.Sprintf("... (truncated, %d more bytes)", len(body)-maxLen)
}
