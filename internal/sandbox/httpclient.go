package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/droverhq/drover/pkg/schema"
)

const defaultRequestTimeout = 5 * time.Minute

// HTTPClient talks to a sandbox service over its HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a sandbox client for the given base URL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (c *HTTPClient) AcquireSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", schema.NewError(schema.ErrCodeSandbox, "sandbox returned empty session id")
	}
	return resp.SessionID, nil
}

func (c *HTTPClient) WriteFile(ctx context.Context, session, path string, content []byte) (string, error) {
	req := map[string]string{
		"path":    path,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	var resp struct {
		Path string `json:"path"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions/"+session+"/files", req, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

func (c *HTTPClient) RunCode(ctx context.Context, session, code string) (*Execution, error) {
	req := map[string]string{"code": code}
	var exec Execution
	if err := c.do(ctx, http.MethodPost, "/sessions/"+session+"/exec", req, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// do issues one JSON request. Non-2xx responses become sandbox errors,
// which the retry classifier treats as retryable.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeSandbox, "marshal request: %s", err.Error()).WithCause(err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSandbox, "build request: %s", err.Error()).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSandbox, "%s %s: %s", method, path, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return schema.NewErrorf(schema.ErrCodeSandbox, "%s %s: status %d: %s",
			method, path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return schema.NewErrorf(schema.ErrCodeSandbox, "decode response: %s", err.Error()).WithCause(err)
		}
	}
	return nil
}

var _ Sandbox = (*HTTPClient)(nil)

// String implements fmt.Stringer for logging.
func (c *HTTPClient) String() string {
	return fmt.Sprintf("sandbox(%s)", c.baseURL)
}
