package attribution

import (
	"invite-sentinel/internal/host"
	"invite-sentinel/internal/snapshot"
)

type Reason string

const (
	ReasonExactMatch Reason = "exact_match"
	ReasonBurstReuse Reason = "burst_reuse"
	ReasonAmbiguous  Reason = "ambiguous_multi"
	ReasonUnknown    Reason = "unknown"
)

const (
	ConfidenceExactMatch = 1.0
	ConfidenceBurstReuse = 0.8
	ConfidenceAmbiguous  = 0.5
	// DefaultUnknownConfidence matches the stored column default.
	DefaultUnknownConfidence = 0.2
)

// Result is the outcome of diffing one join's invite listing.
type Result struct {
	InviteCode string
	InviterID  string
	Confidence float64
	Reason     Reason
	// Candidates is how many invites increased since the previous snapshot.
	Candidates int
}

func (r Result) Attributed() bool {
	return r.InviterID != "" || r.InviteCode != ""
}

func Unknown(confidence float64) Result {
	return Result{Confidence: confidence, Reason: ReasonUnknown}
}

type candidate struct {
	invite host.Invite
	prior  int
	delta  int
}

// Decide picks the invite a join came through by comparing the live listing
// with the previous snapshot. It is pure: no clock, no I/O.
//
// Without a previous snapshot nothing can be diffed and the result is unknown.
// Invites missing from the snapshot are treated as having had zero uses.
func Decide(prev snapshot.Snapshot, havePrev bool, live []host.Invite, unknownConfidence float64) Result {
	if !havePrev {
		return Unknown(unknownConfidence)
	}

	var increased []candidate
	for _, invite := range live {
		prior := prev[invite.Code].Uses
		if invite.Uses > prior {
			increased = append(increased, candidate{invite: invite, prior: prior, delta: invite.Uses - prior})
		}
	}

	switch len(increased) {
	case 0:
		return Unknown(unknownConfidence)
	case 1:
		c := increased[0]
		result := Result{InviteCode: c.invite.Code, InviterID: c.invite.InviterID, Candidates: 1}
		if c.delta == 1 {
			result.Confidence = ConfidenceExactMatch
			result.Reason = ReasonExactMatch
		} else {
			result.Confidence = ConfidenceBurstReuse
			result.Reason = ReasonBurstReuse
		}
		return result
	}

	best := increased[0]
	for _, c := range increased[1:] {
		if better(c, best) {
			best = c
		}
	}
	return Result{
		InviteCode: best.invite.Code,
		InviterID:  best.invite.InviterID,
		Confidence: ConfidenceAmbiguous,
		Reason:     ReasonAmbiguous,
		Candidates: len(increased),
	}
}

// better orders ambiguous candidates: larger delta, then fewer prior uses,
// then the smaller code so the choice never depends on listing order.
func better(a, b candidate) bool {
	if a.delta != b.delta {
		return a.delta > b.delta
	}
	if a.prior != b.prior {
		return a.prior < b.prior
	}
	return a.invite.Code < b.invite.Code
}
