package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"parley/internal/credstore"
	"parley/internal/logging"
)

// refreshCoordinator enforces the single-flight property: at most one
// refresh call is outstanding at any time. Callers that fault while one is
// in flight enqueue a waiter and are resumed FIFO with the renewed access
// token. On failure waiters are resumed empty-handed and independently
// observe the cleared credential store.
//
// The inFlight flag is set under the mutex before the remote call starts,
// so no second caller can slip past between check and set.
type refreshCoordinator struct {
	mu       sync.Mutex
	inFlight bool
	waiters  []chan string
}

// renewedAccessToken returns a fresh access token, either by initiating the
// refresh call or by waiting on the one already in flight.
func (c *ChatClient) renewedAccessToken(ctx context.Context) (string, error) {
	c.refresh.mu.Lock()
	if c.refresh.inFlight {
		waiter := make(chan string, 1)
		c.refresh.waiters = append(c.refresh.waiters, waiter)
		c.refresh.mu.Unlock()
		return c.awaitRenewal(ctx, waiter)
	}
	c.refresh.inFlight = true
	c.refresh.mu.Unlock()

	pair, err := c.callRefreshEndpoint(ctx)

	c.refresh.mu.Lock()
	waiters := c.refresh.waiters
	c.refresh.waiters = nil
	c.refresh.inFlight = false
	c.refresh.mu.Unlock()

	if err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrRefreshFailed, err)
		c.forceSignOut(wrapped)
		// Waiters are not resolved with a token; each re-checks the store,
		// finds it cleared, and fails on its own.
		for _, waiter := range waiters {
			close(waiter)
		}
		return "", wrapped
	}

	// Store the pair before flushing so late 401s and the realtime channel
	// pick up the renewed credential immediately.
	if saveErr := c.creds.Save(pair); saveErr != nil {
		c.logger.Warn("failed to persist renewed credentials", logging.Field("error", saveErr))
	}
	c.logger.Info("access credential renewed", logging.Field("waiters", len(waiters)))
	for _, waiter := range waiters {
		waiter <- pair.AccessToken
	}
	return pair.AccessToken, nil
}

func (c *ChatClient) awaitRenewal(ctx context.Context, waiter <-chan string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case renewed, ok := <-waiter:
		if ok {
			return renewed, nil
		}
		// The shared refresh failed. The store is the source of truth: a
		// cleared store means the session is gone; anything else (say a
		// login that raced in) is usable.
		if access, stillThere := c.creds.AccessToken(); stillThere {
			return access, nil
		}
		return "", ErrNoSession
	}
}

func (c *ChatClient) callRefreshEndpoint(ctx context.Context) (credstore.Pair, error) {
	refreshToken, ok := c.creds.RefreshToken()
	if !ok {
		return credstore.Pair{}, ErrNoSession
	}

	c.logger.Debug("refreshing access credential")
	resp, err := c.dispatch(ctx, RequestSpec{
		Method: http.MethodPost,
		Path:   "/auth/refresh",
		Body:   refreshRequest{RefreshToken: refreshToken},
	}, "")
	if err != nil {
		return credstore.Pair{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("refresh rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(resp.Body)),
		)
		return credstore.Pair{}, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	payload := refreshResponse{}
	if decodeErr := decodeResponse(resp, &payload); decodeErr != nil {
		return credstore.Pair{}, decodeErr
	}
	if payload.AccessToken == "" || payload.RefreshToken == "" {
		return credstore.Pair{}, fmt.Errorf("refresh response missing credentials")
	}
	return credstore.Pair{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}, nil
}
