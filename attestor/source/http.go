package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"cosmossdk.io/log"
	"github.com/tidwall/gjson"

	"github.com/gurufinglobal/attestor/attestor/types"
)

const (
	// maxResponseSize limits the body read from a fact source.
	maxResponseSize = 1 << 20

	maxErrorBodyPreview = 256

	userAgent = "attestord/1.0"
)

// HTTPSource fetches a JSON document and reads one scalar from it with a gjson path.
type HTTPSource struct {
	id     string
	logger log.Logger
	client *http.Client
}

func NewHTTPSource(id string, logger log.Logger, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{id: id, logger: logger.With("module", "source", "source", id), client: client}
}

func (s *HTTPSource) ID() string {
	return s.id
}

func (s *HTTPSource) Fetch(ctx context.Context, query types.FactQuery) types.FactResult {
	sourceID := query.SourceID
	if sourceID == "" {
		sourceID = s.id
	}
	fail := func(reason types.FetchFailure, detail string) types.FactResult {
		s.logger.Warn("fact fetch failed", "url", query.RedactedURL(), "reason", reason, "detail", detail)
		return types.FactFailed(sourceID, reason, detail)
	}

	method := query.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, query.URL, nil)
	if err != nil {
		// The raw error embeds the URL, so only the redacted form is kept.
		return fail(types.FetchNetwork, "invalid request for "+query.RedactedURL())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return fail(classifyTransport(ctx, err), describeTransport(err, query))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := readBodySnippet(resp.Body, maxErrorBodyPreview)
		return fail(types.FetchStatus, fmt.Sprintf("unexpected status %d, body=%q", resp.StatusCode, snippet))
	}

	if resp.ContentLength > maxResponseSize {
		return fail(types.FetchShape, fmt.Sprintf("response too large: %d bytes", resp.ContentLength))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return fail(classifyTransport(ctx, err), "read body: "+err.Error())
	}
	if len(body) > maxResponseSize {
		return fail(types.FetchShape, fmt.Sprintf("response exceeded %d bytes", maxResponseSize))
	}

	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return fail(types.FetchShape, "response is not a JSON object")
	}

	field := gjson.GetBytes(body, query.Path)
	if !field.Exists() {
		return fail(types.FetchMissingField, fmt.Sprintf("path %q not found", query.Path))
	}

	value, raw, err := scalar(field)
	if err != nil {
		return fail(types.FetchShape, err.Error())
	}

	s.logger.Debug("fetched fact", "url", query.RedactedURL(), "path", query.Path, "value", raw)
	return types.FactOK(sourceID, value, raw)
}

// scalar accepts JSON numbers only; quoted numbers are a shape failure.
func scalar(field gjson.Result) (float64, string, error) {
	if field.Type != gjson.Number {
		return 0, "", fmt.Errorf("field has non-numeric type %s", field.Type)
	}
	return field.Float(), field.Raw, nil
}

func classifyTransport(ctx context.Context, err error) types.FetchFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.FetchTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return types.FetchTimeout
	}
	return types.FetchNetwork
}

// describeTransport drops the URL that net/http embeds in its errors.
func describeTransport(err error, query types.FactQuery) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Sprintf("%s %s: %v", urlErr.Op, query.RedactedURL(), urlErr.Err)
	}
	return err.Error()
}

func readBodySnippet(r io.Reader, limit int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return strings.ToValidUTF8(string(b), "?"), nil
	}
	return string(b), nil
}
