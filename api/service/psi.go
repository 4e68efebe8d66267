package service

import (
	"github.com/gin-gonic/gin"

	"github.com/peer-mapper/trust-indexer/overlap"
)

type intersectionReq struct {
	ViewerSubjectID string `json:"viewerSubjectId" binding:"required,max=256"`
	TargetSubjectID string `json:"targetSubjectId" binding:"required,max=256"`
}

type intersectionResp struct {
	Overlaps []overlap.Result `json:"overlaps"`
}

// Intersection handles the /psi/intersection request.
func (s *Service) Intersection(c *gin.Context, req *intersectionReq) (*intersectionResp, error) {
	overlaps, err := s.overlaps.Compute(c.Request.Context(), req.ViewerSubjectID, req.TargetSubjectID)
	if err != nil {
		return nil, err
	}

	return &intersectionResp{Overlaps: overlaps}, nil
}
