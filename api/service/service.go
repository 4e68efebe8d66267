package service

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/peer-mapper/trust-indexer/database/store"
	"github.com/peer-mapper/trust-indexer/handshake"
	"github.com/peer-mapper/trust-indexer/overlap"
	"github.com/peer-mapper/trust-indexer/relay"
)

// Service defines an instance of service that handles third-party requests.
type Service struct {
	store     *store.Store
	overlaps  *overlap.Engine
	handshake *handshake.Handler
	relay     *relay.Service
	now       func() time.Time
}

// New creates a new service instance. relay may be nil, in which case
// the attest routes answer 503.
func New(
	s *store.Store,
	overlaps *overlap.Engine,
	hs *handshake.Handler,
	r *relay.Service,
) *Service {
	return &Service{
		store:     s,
		overlaps:  overlaps,
		handshake: hs,
		relay:     r,
		now:       time.Now,
	}
}

type healthResp struct {
	OK bool `json:"ok"`
}

// Healthz handles the /healthz request.
func (s *Service) Healthz(_ *gin.Context) (*healthResp, error) {
	return &healthResp{OK: true}, nil
}
