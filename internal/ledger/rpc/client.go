package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docproof/internal/document/hashing"
	"docproof/internal/ledger"
	"docproof/pkg/platform/sentinel"
)

// maxResponseBytes bounds how much of a ledger response is read.
const maxResponseBytes = 1 << 20

// Client is a ledger.Backend that talks to ledgerd over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

func (c *Client) Bind(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", "", nil, nil)
}

func (c *Client) Lookup(ctx context.Context, hash [32]byte) (*ledger.Record, error) {
	var rec ledger.Record
	if err := c.do(ctx, http.MethodGet, "/v1/documents/"+encode(hash), "", nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Confirm(ctx context.Context, hash [32]byte, signer ledger.Signer) (*ledger.Confirmation, error) {
	documentHash := encode(hash)
	token, err := signer.Token(ctx, documentHash)
	if err != nil {
		return nil, ledger.NewError(ledger.CategoryAuthentication, ledger.OpConfirm, "sign confirm request", err)
	}
	var conf ledger.Confirmation
	if err := c.do(ctx, http.MethodPost, "/v1/documents/"+documentHash+"/confirm", token, nil, &conf); err != nil {
		return nil, err
	}
	return &conf, nil
}

// do issues a JSON request and decodes a 2xx body into out. Error statuses map
// onto sentinel errors so the gateway can classify them.
func (c *Client) do(ctx context.Context, method, path, bearer string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return fmt.Errorf("%s %s: %w: %w", method, path, sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s %s: %w: %w", method, path, sentinel.ErrUnavailable, err)
	}

	if resp.StatusCode >= 400 {
		return statusError(method, path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ledger.NewError(ledger.CategoryBadData, opFor(path), "unparseable ledger response", err)
	}
	return nil
}

func statusError(method, path string, status int, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	detail := fmt.Errorf("%s %s: status %d: %s %s", method, path, status, eb.Error, eb.Description)

	switch {
	case status == http.StatusNotFound && eb.Error == "not_found":
		return fmt.Errorf("%w: %w", sentinel.ErrNotFound, detail)
	case status == http.StatusNotFound:
		// A 404 without the ledger's error body means the route is wrong, not
		// that the document is missing.
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, detail)
	case status == http.StatusConflict && eb.Error == "conflict":
		return fmt.Errorf("%w: %w", sentinel.ErrConflict, detail)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %w", sentinel.ErrInvalidState, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %w", sentinel.ErrUnauthorized, detail)
	case status == http.StatusBadRequest:
		return ledger.NewError(ledger.CategoryBadData, opFor(path), "ledger rejected request", detail)
	case status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", sentinel.ErrTimeout, detail)
	default:
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, detail)
	}
}

func opFor(path string) string {
	switch {
	case strings.HasSuffix(path, "/confirm"):
		return ledger.OpConfirm
	case strings.HasPrefix(path, "/v1/documents/"):
		return ledger.OpVerify
	default:
		return ledger.OpInitialize
	}
}

func encode(hash [32]byte) string {
	return hashing.Prefix + hex.EncodeToString(hash[:])
}
