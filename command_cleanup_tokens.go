package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// CleanupExpiredTokensMessage prunes refresh tokens past their expiry
type CleanupExpiredTokensMessage struct{}

func (e CleanupExpiredTokensMessage) Type() string { return "refresh_tokens.cleanup" }

type CleanupExpiredTokensHandler struct {
	ledger  RefreshLedger
	metrics *Metrics
	logger  Logger
}

func NewCleanupExpiredTokensHandler(ledger RefreshLedger) *CleanupExpiredTokensHandler {
	return &CleanupExpiredTokensHandler{
		ledger: ledger,
		logger: defaultLogger("token_cleanup"),
	}
}

// WithMetrics counts pruned tokens on m
func (h *CleanupExpiredTokensHandler) WithMetrics(m *Metrics) *CleanupExpiredTokensHandler {
	h.metrics = m
	return h
}

func (h *CleanupExpiredTokensHandler) WithLogger(logger Logger) *CleanupExpiredTokensHandler {
	h.logger = resolveLogger("token_cleanup", logger)
	return h
}

func (h *CleanupExpiredTokensHandler) Execute(ctx context.Context, _ CleanupExpiredTokensMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during refresh token cleanup",
		)
	default:
	}

	n, err := h.ledger.CleanupExpired(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "refresh token cleanup failed")
	}

	if h.metrics != nil {
		h.metrics.AddPrunedTokens(n)
	}
	return nil
}
