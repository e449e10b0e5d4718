package client

import (
	"net/http"

	"parley/internal/config"
	"parley/internal/credstore"
	"parley/internal/logging"
)

// ChatClient is the authenticated request pipeline. It attaches the stored
// access token to outbound calls, absorbs one 401 per request through the
// refresh protocol, and owns the single-flight refresh state for its
// lifetime. Construct one per session; discard at sign-out.
type ChatClient struct {
	http      *http.Client
	endpoints config.APIEndpoints
	creds     *credstore.Keeper
	logger    *logging.Logger

	refresh refreshCoordinator

	// onSessionExpired fires when the session is terminated without the
	// user asking for it: refresh rejected, or a 401 with no refresh token.
	onSessionExpired func(error)
}

func New(httpClient *http.Client, endpoints config.APIEndpoints, creds *credstore.Keeper, logger *logging.Logger) *ChatClient {
	if creds == nil {
		panic("client.New: credential keeper must not be nil")
	}
	if logger == nil {
		panic("client.New: logger must not be nil")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ChatClient{http: httpClient, endpoints: endpoints, creds: creds, logger: logger}
}

// OnSessionExpired registers the forced sign-out hook. Call before the
// client is shared across goroutines.
func (c *ChatClient) OnSessionExpired(fn func(error)) {
	c.onSessionExpired = fn
}

// Endpoints exposes the resolved endpoint set, which the realtime session
// shares for its websocket dial.
func (c *ChatClient) Endpoints() config.APIEndpoints {
	return c.endpoints
}

// Credentials exposes the credential keeper shared with the realtime session.
func (c *ChatClient) Credentials() *credstore.Keeper {
	return c.creds
}

func (c *ChatClient) forceSignOut(cause error) {
	if err := c.creds.Clear(); err != nil {
		c.logger.Warn("failed to clear credentials during sign-out", logging.Field("error", err))
	}
	c.logger.Info("session terminated", logging.Field("cause", cause))
	if c.onSessionExpired != nil {
		c.onSessionExpired(cause)
	}
}
