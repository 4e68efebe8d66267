package service

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/photon-storage/go-common/log"

	"github.com/peer-mapper/trust-indexer/api/middleware"
	"github.com/peer-mapper/trust-indexer/api/util"
	"github.com/peer-mapper/trust-indexer/relay"
)

type prepareReq struct {
	Issuer         string       `json:"issuer" binding:"required,eth_addr"`
	Recipient      string       `json:"recipient" binding:"required,eth_addr"`
	SubjectID      string       `json:"cubidId" binding:"required,max=256"`
	TrustLevel     *util.Number `json:"trustLevel" binding:"required"`
	Human          *bool        `json:"human" binding:"required"`
	Circle         string       `json:"circle" binding:"omitempty,bytes32"`
	RefUID         string       `json:"refUID" binding:"omitempty,bytes32"`
	Revocable      *bool        `json:"revocable"`
	ExpirationTime *util.Number `json:"expirationTime"`
	IssuedAt       *util.Number `json:"issuedAt"`
	Expiry         *util.Number `json:"expiry"`
}

// AttestPrepare handles the /attest/prepare request.
func (s *Service) AttestPrepare(c *gin.Context, req *prepareReq) (*relay.PrepareResult, error) {
	if s.relay == nil {
		return nil, errRelayUnavailable
	}

	in, err := req.input()
	if err != nil {
		return nil, err
	}

	return s.relay.Prepare(c.Request.Context(), in)
}

func (r *prepareReq) input() (*relay.PrepareInput, error) {
	subjectID, err := trimSubject(r.SubjectID)
	if err != nil {
		return nil, err
	}
	trustLevel, err := r.TrustLevel.Uint64(8)
	if err != nil {
		return nil, err
	}
	circle, err := relay.ParseBytes32(r.Circle)
	if err != nil {
		return nil, err
	}
	refUID, err := relay.ParseBytes32(r.RefUID)
	if err != nil {
		return nil, err
	}

	in := &relay.PrepareInput{
		Issuer:     common.HexToAddress(r.Issuer),
		Recipient:  common.HexToAddress(r.Recipient),
		SubjectID:  subjectID,
		TrustLevel: uint8(trustLevel),
		Human:      *r.Human,
		Circle:     circle,
		RefUID:     refUID,
		Revocable:  r.Revocable,
	}
	if in.ExpirationTime, err = optionalUint64(r.ExpirationTime); err != nil {
		return nil, err
	}
	if in.IssuedAt, err = optionalUint64(r.IssuedAt); err != nil {
		return nil, err
	}
	if in.Expiry, err = optionalUint64(r.Expiry); err != nil {
		return nil, err
	}

	return in, nil
}

type relayPayload struct {
	Recipient      string       `json:"recipient" binding:"required,eth_addr"`
	RefUID         string       `json:"refUID" binding:"omitempty,bytes32"`
	Revocable      *bool        `json:"revocable"`
	ExpirationTime *util.Number `json:"expirationTime"`
	SubjectID      string       `json:"cubidId" binding:"required,max=256"`
	TrustLevel     *util.Number `json:"trustLevel" binding:"required"`
	Human          *bool        `json:"human" binding:"required"`
	Circle         string       `json:"circle" binding:"omitempty,bytes32"`
	IssuedAt       *util.Number `json:"issuedAt" binding:"required"`
	Expiry         *util.Number `json:"expiry" binding:"required"`
	Nonce          *util.Number `json:"nonce" binding:"required"`
	Deadline       *util.Number `json:"deadline" binding:"required"`
}

type relayReq struct {
	Issuer    string       `json:"issuer" binding:"required,eth_addr"`
	Signature string       `json:"signature" binding:"required,eth_sig"`
	Value     *util.Number `json:"value"`
	Payload   relayPayload `json:"payload" binding:"required"`
}

type relayResp struct {
	*relay.RelayResult
}

// StatusCode answers 202: the relayed transaction was mined but the
// listener has yet to index it.
func (relayResp) StatusCode() int {
	return http.StatusAccepted
}

// AttestRelay handles the /attest/relay request.
func (s *Service) AttestRelay(c *gin.Context, req *relayReq) (*relayResp, error) {
	if s.relay == nil {
		return nil, errRelayUnavailable
	}

	in, err := req.input()
	if err != nil {
		return nil, err
	}

	res, err := s.relay.Relay(c.Request.Context(), in)
	if err != nil {
		return nil, err
	}

	userID, _ := middleware.UserID(c)
	log.Info("attestation relay finished",
		"user", userID,
		"issuer", in.Message.Issuer.Hex(),
		"tx", res.TxHash,
		"status", res.Status,
	)

	return &relayResp{RelayResult: res}, nil
}

func (r *relayReq) input() (*relay.RelayInput, error) {
	p := r.Payload

	subjectID, err := trimSubject(p.SubjectID)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(r.Signature)
	if err != nil {
		return nil, InvalidRequest(err)
	}
	trustLevel, err := p.TrustLevel.Uint64(8)
	if err != nil {
		return nil, err
	}
	refUID, err := relay.ParseBytes32(p.RefUID)
	if err != nil {
		return nil, err
	}
	circle, err := relay.ParseBytes32(p.Circle)
	if err != nil {
		return nil, err
	}

	m := relay.Message{
		Issuer:     common.HexToAddress(r.Issuer),
		Recipient:  common.HexToAddress(p.Recipient),
		RefUID:     refUID,
		Revocable:  true,
		SubjectID:  subjectID,
		TrustLevel: uint8(trustLevel),
		Human:      *p.Human,
		Circle:     circle,
		Nonce:      p.Nonce.Big(),
	}
	if p.Revocable != nil {
		m.Revocable = *p.Revocable
	}
	if p.ExpirationTime != nil {
		if m.ExpirationTime, err = p.ExpirationTime.Uint64(64); err != nil {
			return nil, err
		}
	}
	if m.IssuedAt, err = p.IssuedAt.Uint64(64); err != nil {
		return nil, err
	}
	if m.Expiry, err = p.Expiry.Uint64(64); err != nil {
		return nil, err
	}
	if m.Deadline, err = p.Deadline.Uint64(64); err != nil {
		return nil, err
	}

	in := &relay.RelayInput{Message: m, Signature: sig}
	if r.Value != nil {
		in.Value = r.Value.Big()
	}

	return in, nil
}

func trimSubject(subjectID string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", InvalidRequest(errors.New("cubidId is empty"))
	}

	return subjectID, nil
}

func optionalUint64(n *util.Number) (*uint64, error) {
	if n == nil {
		return nil, nil
	}

	v, err := n.Uint64(64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
