package service

import (
	"github.com/gin-gonic/gin"

	"github.com/peer-mapper/trust-indexer/handshake"
)

type challengeReq struct {
	IssuedFor      string `form:"issuedFor" binding:"required_without=IssuedForSnake,max=256"`
	IssuedForSnake string `form:"issued_for" binding:"max=256"`
}

// QrChallenge handles the /qr/challenge request.
func (s *Service) QrChallenge(c *gin.Context, req *challengeReq) (*handshake.Challenge, error) {
	issuedFor := req.IssuedFor
	if issuedFor == "" {
		issuedFor = req.IssuedForSnake
	}

	return s.handshake.Issue(c.Request.Context(), issuedFor)
}

// QrVerify handles the /qr/verify request.
func (s *Service) QrVerify(
	c *gin.Context,
	req *handshake.VerifyRequest,
) (*handshake.VerifyResult, error) {
	return s.handshake.Verify(c.Request.Context(), req)
}
