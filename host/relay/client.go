package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/host"
)

// maxResponseBytes caps how much of a relay answer is read.
const maxResponseBytes = 4 << 20

// Client forwards requests to a remote relay and normalizes the answers
// locally, so it is a drop-in host adapter.
type Client struct {
	baseURL    string
	http       *http.Client
	normalizer *compiler.Normalizer
}

var _ host.Adapter = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithNormalizer sets the normalizer used for results.
func WithNormalizer(n *compiler.Normalizer) ClientOption {
	return func(c *Client) { c.normalizer = n }
}

// NewClient creates a client for the relay at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 60 * time.Second},
		normalizer: compiler.NewNormalizer(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts req to the relay. The witness is validated locally first,
// so a malformed one fails here as it would in-process. A 503 from the
// relay is reported as a startup failure, a 500 carrying a relay error as
// an invocation failure, and anything else as a transport error.
func (c *Client) Submit(ctx context.Context, req compiler.Request) (*compiler.Result, error) {
	if _, err := compiler.ParseWitness(req.WitnessData); err != nil {
		return nil, err
	}
	body := CompileRequest{Code: req.Source}
	if req.WitnessData != "" {
		w, err := json.Marshal(req.WitnessData)
		if err != nil {
			return nil, errors.InvalidInput(errors.PhaseRelay, err.Error())
		}
		body.WitnessData = w
	}

	var wire CompileResponse
	status, err := c.post(ctx, PathCompile, body, &wire)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusServiceUnavailable:
		return nil, errors.New(errors.PhaseRelay, errors.KindInstantiationFailure).
			Detail("relay compiler unavailable: %s", deref(wire.Error)).Build()
	case status == http.StatusBadRequest:
		return nil, errors.InvalidInput(errors.PhaseRelay, deref(wire.Error))
	case status == http.StatusInternalServerError && wire.Error != nil:
		return nil, errors.Invocation("relay: "+*wire.Error, nil)
	case status != http.StatusOK:
		return nil, errors.Transport(fmt.Sprintf("relay answered %d: %s", status, deref(wire.Error)), nil)
	}

	resp, err := toResponse(wire)
	if err != nil {
		return nil, err
	}
	return c.normalizer.Normalize(resp, req), nil
}

// toResponse checks the relay answer with the same rules as module output.
func toResponse(wire CompileResponse) (*compiler.Response, error) {
	raw, err := json.Marshal(map[string]any{
		bridge.FieldCMR:     wire.CMR,
		bridge.FieldError:   wire.Error,
		bridge.FieldWitness: wire.WitnessData,
	})
	if err != nil {
		return nil, errors.ProtocolViolation("re-encode relay answer", "", err)
	}
	return compiler.DecodeResponse(string(raw))
}

// EncodeBase64 asks the relay to encode data.
func (c *Client) EncodeBase64(ctx context.Context, data string) (string, error) {
	var out struct {
		Encoded string `json:"encoded"`
		Error   string `json:"error"`
	}
	status, err := c.post(ctx, PathEncode, map[string]string{"data": data}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", errors.Transport(fmt.Sprintf("relay answered %d: %s", status, out.Error), nil)
	}
	return out.Encoded, nil
}

// Health fetches the relay's health document.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return nil, errors.Transport("build request", err)
	}
	var out HealthResponse
	status, err := c.do(req, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.Transport(fmt.Sprintf("relay answered %d", status), nil)
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, errors.Transport("encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, errors.Transport("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errors.Transport(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, errors.Transport("read response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			// error pages need not be JSON
			return resp.StatusCode, nil
		}
		return 0, errors.ProtocolViolation("relay answer is not JSON", string(data), err)
	}
	return resp.StatusCode, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
