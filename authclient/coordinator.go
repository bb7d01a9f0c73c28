package authclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/go-authgate/flagctl/tokenstore"
)

const refreshTimeout = 10 * time.Second

// OutcomeKind says how a refresh request was satisfied.
type OutcomeKind int

const (
	// Refreshed means this call exchanged the refresh token.
	Refreshed OutcomeKind = iota + 1
	// AlreadyCurrent means another caller refreshed first; no network call.
	AlreadyCurrent
	// Failed means no usable pair could be obtained.
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Refreshed:
		return "refreshed"
	case AlreadyCurrent:
		return "already-current"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of Coordinator.Refresh. Pair is set unless Kind is
// Failed, in which case Err says why.
type Outcome struct {
	Kind OutcomeKind
	Pair tokenstore.TokenPair
	Err  error
}

// Coordinator repairs expired credentials with at most one refresh call in
// flight. Callers holding the same stale token share one execution; callers
// arriving later find the store already moved past their token and skip the
// network entirely.
type Coordinator struct {
	mu        sync.Mutex
	group     singleflight.Group
	tokens    *tokenstore.Store
	refresher Refresher
	obs       Observer
	log       *slog.Logger
}

// NewCoordinator creates a Coordinator. A nil observer or logger falls back to
// NoopObserver and slog.Default().
func NewCoordinator(
	tokens *tokenstore.Store,
	refresher Refresher,
	obs Observer,
	logger *slog.Logger,
) *Coordinator {
	if obs == nil {
		obs = NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		tokens:    tokens,
		refresher: refresher,
		obs:       obs,
		log:       logger.With(slog.String("component", "coordinator")),
	}
}

// Refresh repairs the session for a request that failed with staleAccessToken.
func (c *Coordinator) Refresh(ctx context.Context, staleAccessToken string) Outcome {
	v, _, _ := c.group.Do(staleAccessToken, func() (any, error) {
		// One caller's cancellation must not fail everyone who joined.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refreshExclusive(rctx, staleAccessToken), nil
	})
	return v.(Outcome)
}

func (c *Coordinator) refreshExclusive(ctx context.Context, stale string) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.tokens.Generation()
	pair, ok, err := c.tokens.Read()
	if err != nil {
		return c.fail(err)
	}
	if !ok {
		return c.fail(ErrNoRefreshToken)
	}
	if pair.AccessToken != stale {
		c.log.Debug("token already refreshed by another caller",
			slog.String("stale_preview", tokenstore.Preview(stale)),
			slog.String("current_preview", tokenstore.Preview(pair.AccessToken)))
		c.obs.RefreshReused()
		return Outcome{Kind: AlreadyCurrent, Pair: pair}
	}
	if pair.RefreshToken == "" {
		return c.fail(ErrNoRefreshToken)
	}

	c.obs.Refreshing()
	c.log.Info("refreshing access token",
		slog.String("stale_preview", tokenstore.Preview(stale)))

	fresh, err := c.refresher.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		return c.fail(err)
	}
	// A logout during the exchange wins over its result.
	if err := c.tokens.WriteIf(gen, fresh); err != nil {
		return c.fail(fmt.Errorf("failed to save refreshed tokens: %w", err))
	}

	c.log.Info("access token refreshed",
		slog.String("access_preview", tokenstore.Preview(fresh.AccessToken)))
	c.obs.Refreshed()
	return Outcome{Kind: Refreshed, Pair: fresh}
}

func (c *Coordinator) fail(err error) Outcome {
	c.log.Warn("token refresh failed", slog.String("error", err.Error()))
	c.obs.RefreshFailed(err)
	return Outcome{Kind: Failed, Err: err}
}
