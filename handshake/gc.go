package handshake

import (
	"context"
	"time"

	"github.com/photon-storage/go-common/log"
)

const defaultGCInterval = 10 * time.Minute

// CollectExpired deletes every challenge past its expiry.
func (h *Handler) CollectExpired(ctx context.Context) (int64, error) {
	return h.store.DeleteExpiredQrChallenges(ctx, h.now().UnixMilli())
}

// RunCollector deletes expired challenges on an interval until ctx is
// done.
func (h *Handler) RunCollector(ctx context.Context) {
	interval := h.gc
	if interval <= 0 {
		interval = defaultGCInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
		}

		n, err := h.CollectExpired(ctx)
		if err != nil {
			log.Error("collect expired challenges failed", "error", err)
			continue
		}
		if n > 0 {
			log.Info("collected expired challenges", "count", n)
		}
	}
}
