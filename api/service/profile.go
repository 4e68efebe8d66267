package service

import (
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/peer-mapper/trust-indexer/database/orm"
	"github.com/peer-mapper/trust-indexer/overlap"
)

type profileReq struct {
	SubjectID string `uri:"subjectId" binding:"required,max=256"`
	Issuer    string `form:"issuer" binding:"omitempty,eth_addr"`
}

type profileAttestation struct {
	Issuer           string  `json:"issuer"`
	SubjectID        string  `json:"subjectId"`
	TrustLevel       uint8   `json:"trustLevel"`
	Human            bool    `json:"human"`
	Circle           *string `json:"circle"`
	IssuedAt         uint64  `json:"issuedAt"`
	Expiry           uint64  `json:"expiry"`
	UID              string  `json:"uid"`
	BlockTime        uint64  `json:"blockTime"`
	FreshnessSeconds uint64  `json:"freshnessSeconds"`
}

type profileResp struct {
	SubjectID string                `json:"subjectId"`
	Inbound   []*profileAttestation `json:"inbound"`
	Outbound  []*profileAttestation `json:"outbound"`
}

// Profile handles the /profile/:subjectId request: the attestations
// about the subject and, when issuer is given, the ones it made.
func (s *Service) Profile(c *gin.Context, req *profileReq) (*profileResp, error) {
	ctx := c.Request.Context()
	now := uint64(s.now().Unix())

	inbound, err := s.store.ListAttestationsForSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}

	outbound := make([]*orm.Attestation, 0)
	if req.Issuer != "" {
		if outbound, err = s.store.ListAttestationsByIssuer(ctx, req.Issuer); err != nil {
			return nil, err
		}
	}

	return &profileResp{
		SubjectID: req.SubjectID,
		Inbound:   toProfileAttestations(inbound, now),
		Outbound:  toProfileAttestations(outbound, now),
	}, nil
}

// toProfileAttestations keeps the active attestations, freshest first.
func toProfileAttestations(as []*orm.Attestation, now uint64) []*profileAttestation {
	out := make([]*profileAttestation, 0, len(as))
	for _, a := range as {
		if !a.Active(now) {
			continue
		}

		out = append(out, &profileAttestation{
			Issuer:           a.Issuer,
			SubjectID:        a.SubjectID,
			TrustLevel:       a.TrustLevel,
			Human:            a.Human,
			Circle:           overlap.CircleHex(a.Circle),
			IssuedAt:         a.IssuedAt,
			Expiry:           a.Expiry,
			UID:              a.UID,
			BlockTime:        a.BlockTime,
			FreshnessSeconds: a.Freshness(now),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FreshnessSeconds != out[j].FreshnessSeconds {
			return out[i].FreshnessSeconds < out[j].FreshnessSeconds
		}
		if out[i].Issuer != out[j].Issuer {
			return out[i].Issuer < out[j].Issuer
		}
		return out[i].SubjectID < out[j].SubjectID
	})

	return out
}
