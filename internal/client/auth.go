package client

import (
	"context"
	"errors"
	"net/http"

	"parley/internal/credstore"
	"parley/internal/logging"
	"parley/internal/token"
)

// Login exchanges credentials for a token pair, stores the pair, and
// returns the signed-in user.
func (c *ChatClient) Login(ctx context.Context, email, password string) (User, error) {
	resp, err := c.dispatch(ctx, RequestSpec{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   loginRequest{Email: email, Password: password},
	}, "")
	if err != nil {
		return User{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("login rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(resp.Body)),
		)
		return User{}, &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	payload := loginResponse{}
	if decodeErr := decodeResponse(resp, &payload); decodeErr != nil {
		return User{}, decodeErr
	}
	if err := c.creds.Save(credstore.Pair{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}); err != nil {
		return User{}, err
	}
	c.logger.Info("signed in", logging.Field("email", payload.User.Email))
	return payload.User, nil
}

// Register creates an account. It does not sign the user in; the UI routes
// back to the login form afterwards, as the original flow did.
func (c *ChatClient) Register(ctx context.Context, email, password, name string) error {
	resp, err := c.dispatch(ctx, RequestSpec{
		Method: http.MethodPost,
		Path:   "/auth/register",
		Body:   registerRequest{Email: email, Password: password, Name: name},
	}, "")
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("registration rejected",
			logging.Field("status", resp.Status),
			logging.Field("response", logging.FormatHTTPPayload(resp.Body)),
		)
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	c.logger.Info("account registered", logging.Field("email", email))
	return nil
}

// Logout clears the stored pair. User-initiated, so the forced sign-out
// hook does not fire.
func (c *ChatClient) Logout() error {
	c.logger.Info("signing out")
	return c.creds.Clear()
}

// CurrentIdentity derives the session state from the stored pair. A missing
// pair means anonymous; a pair whose access token no longer decodes is
// cleared and also reads as anonymous.
func (c *ChatClient) CurrentIdentity() (token.Identity, bool) {
	pair, ok := c.creds.Load()
	if !ok {
		return token.Identity{}, false
	}
	identity, err := token.DecodeIdentity(pair.AccessToken)
	if err != nil {
		if errors.Is(err, token.ErrMalformedCredential) {
			c.logger.Warn("stored credential is malformed, clearing session", logging.Field("error", err))
			_ = c.creds.Clear()
		}
		return token.Identity{}, false
	}
	return identity, true
}

// RenewSession forces a refresh exchange regardless of the access token's
// remaining lifetime. Used when the server rejects a credential the client
// still believed valid, such as a websocket handshake 401.
func (c *ChatClient) RenewSession(ctx context.Context) error {
	_, err := c.renewedAccessToken(ctx)
	return err
}

// EnsureFreshSession renews the access token ahead of time when it is
// expired or within the renewal threshold. Used before opening the realtime
// channel so the handshake presents a live credential.
func (c *ChatClient) EnsureFreshSession(ctx context.Context) error {
	pair, ok := c.creds.Load()
	if !ok {
		return ErrNoSession
	}
	if !token.NeedsRenewal(pair.AccessToken, 0) {
		return nil
	}
	c.logger.Debug("access credential near expiry, renewing ahead of use")
	_, err := c.renewedAccessToken(ctx)
	return err
}
