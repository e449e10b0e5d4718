package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"parley/internal/logging"
)

// Do runs one authenticated request. On a 401 it drives the refresh
// protocol and retries exactly once with the renewed access token; every
// other status passes through untouched. Statuses >= 400 surface as
// *HTTPStatusError.
func (c *ChatClient) Do(ctx context.Context, spec RequestSpec) (*Response, error) {
	access, _ := c.creds.AccessToken()
	resp, err := c.dispatch(ctx, spec, access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return finishResponse(resp)
	}

	// Authorization failed. Without a refresh token the session is over:
	// clear it and reject with the original failure, zero refresh calls.
	if _, ok := c.creds.RefreshToken(); !ok {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		c.forceSignOut(fmt.Errorf("%w: %w", ErrNoSession, statusErr))
		return nil, statusErr
	}

	renewed, refreshErr := c.renewedAccessToken(ctx)
	if refreshErr != nil {
		return nil, refreshErr
	}

	c.logger.Debug("replaying request with renewed credential",
		logging.Field("method", spec.Method),
		logging.Field("path", spec.Path),
	)
	retried, err := c.dispatch(ctx, spec, renewed)
	if err != nil {
		return nil, err
	}
	// At most one retry per request; a second 401 surfaces as-is.
	return finishResponse(retried)
}

func (c *ChatClient) dispatch(ctx context.Context, spec RequestSpec, accessToken string) (*Response, error) {
	var body io.Reader
	if spec.Body != nil {
		payload, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, spec.Method, c.endpoints.BaseURL+spec.Path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.logger.Debugf("%s %s -> %s", spec.Method, spec.Path, resp.Status)

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return &Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: data}, nil
}

func finishResponse(resp *Response) (*Response, error) {
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

func decodeResponse(resp *Response, target any) error {
	if err := json.Unmarshal(resp.Body, target); err != nil {
		return fmt.Errorf("invalid response payload: %w", err)
	}
	return nil
}
