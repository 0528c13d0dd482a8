package messaging

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/messaging/solapi"
	"github.com/creatus-team/v3/pkg/logging"
)

const refreshBatch = 50

// StatusProvider reports provider-side delivery state.
type StatusProvider interface {
	GetStatus(ctx context.Context, groupID string) (*solapi.Status, error)
}

type refreshStore interface {
	ListRefreshable(ctx context.Context, ids []uuid.UUID, limit int) ([]SMSLog, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errMsg *string) error
}

// RefreshSummary counts the outcome of a refresh run.
type RefreshSummary struct {
	Total     int `json:"total"`
	Updated   int `json:"updated"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Refresher pulls delivery state for sent messages.
type Refresher struct {
	store    refreshStore
	provider StatusProvider
	logger   *logging.Logger
}

func NewRefresher(store refreshStore, provider StatusProvider, logger *logging.Logger) *Refresher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Refresher{store: store, provider: provider, logger: logger}
}

// Refresh updates the given rows, or the latest SENT rows when ids is empty.
func (r *Refresher) Refresh(ctx context.Context, ids []uuid.UUID) (RefreshSummary, error) {
	var summary RefreshSummary
	logs, err := r.store.ListRefreshable(ctx, ids, refreshBatch)
	if err != nil {
		return summary, err
	}
	summary.Total = len(logs)
	for _, rec := range logs {
		if rec.ProviderMessageID == nil {
			continue
		}
		st, err := r.provider.GetStatus(ctx, *rec.ProviderMessageID)
		if err != nil {
			r.logger.Warn("sms status lookup failed", "sms_log_id", rec.ID, "error", err)
			continue
		}
		next := LogSent
		var errMsg *string
		switch st.State {
		case solapi.StatusComplete:
			next = LogDelivered
		case solapi.StatusFailed:
			next = LogFailed
			msg := fmt.Sprintf("%s: %s", st.Code, st.Message)
			errMsg = &msg
		}
		if next == rec.Status {
			continue
		}
		if err := r.store.UpdateStatus(ctx, rec.ID, next, errMsg); err != nil {
			r.logger.Error("sms status update failed", "sms_log_id", rec.ID, "error", err)
			continue
		}
		summary.Updated++
		switch next {
		case LogDelivered:
			summary.Delivered++
		case LogFailed:
			summary.Failed++
		}
	}
	return summary, nil
}
