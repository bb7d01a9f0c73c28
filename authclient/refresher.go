package authclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/go-authgate/flagctl/device"
	"github.com/go-authgate/flagctl/tokenstore"
)

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.TokenPair, error)
}

// IdentityRefresher calls the identity backend's refresh endpoint.
// It talks to the raw Doer: a refresh is plumbing, not an application
// request, so its failures never loop back into another refresh.
type IdentityRefresher struct {
	doer     Doer
	endpoint string
	device   *device.Provider
	log      *slog.Logger
}

// NewIdentityRefresher creates an IdentityRefresher posting to endpoint.
func NewIdentityRefresher(
	doer Doer,
	endpoint string,
	dev *device.Provider,
	logger *slog.Logger,
) *IdentityRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityRefresher{
		doer:     doer,
		endpoint: endpoint,
		device:   dev,
		log:      logger.With(slog.String("component", "refresher")),
	}
}

// Refresh presents refreshToken in the x-refresh-token header and reads the
// rotated pair from the response headers.
func (r *IdentityRefresher) Refresh(
	ctx context.Context,
	refreshToken string,
) (tokenstore.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, nil)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("failed to create request: %w", err)
	}
	setStandardHeaders(req.Header, r.device, r.log)
	req.Header.Set(HeaderRefreshToken, refreshToken)

	resp, err := r.doer.Do(req)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenstore.TokenPair{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenstore.TokenPair{}, fmt.Errorf(
			"%w: %w",
			ErrRefreshRejected,
			&oauth2.RetrieveError{Response: resp, Body: body},
		)
	}

	access := resp.Header.Get(HeaderAccessToken)
	if access == "" {
		return tokenstore.TokenPair{}, errors.New("refresh response carried no access token")
	}

	// Rotation mode returns a new refresh token; fixed mode omits it and the
	// presented one stays valid.
	newRefresh := resp.Header.Get(HeaderRefreshToken)
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	return tokenstore.TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}
