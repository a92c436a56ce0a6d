package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommitteeSize is the fixed number of voting members on every case.
const CommitteeSize = 7

// Majority is the strict majority of CommitteeSize.
const Majority = CommitteeSize/2 + 1

// VoteDecision is an arbitrator's vote.
type VoteDecision string

const (
	VoteSupport VoteDecision = "SUPPORT"
	VoteOppose  VoteDecision = "OPPOSE"
	VotePending VoteDecision = "PENDING"
)

// Cast reports whether d is a final vote (not PENDING).
func (d VoteDecision) Cast() bool {
	return d == VoteSupport || d == VoteOppose
}

// CaseStatus is the status of an arbitration case.
type CaseStatus string

const (
	CaseVoting    CaseStatus = "voting"
	CaseCompleted CaseStatus = "completed"
)

// ResolutionPolicy decides when a case closes.
type ResolutionPolicy string

const (
	// PolicyMajority closes as soon as one side reaches Majority, or when
	// every vote is cast.
	PolicyMajority ResolutionPolicy = "majority"
	// PolicyAllVotes waits for all CommitteeSize votes.
	PolicyAllVotes ResolutionPolicy = "all_votes"
)

// Valid reports whether p is a known policy.
func (p ResolutionPolicy) Valid() bool {
	return p == PolicyMajority || p == PolicyAllVotes
}

// ArbitrationVote is one arbitrator's slot on a case.
type ArbitrationVote struct {
	ArbitratorID   string       `json:"arbitrator_id"`
	ArbitratorName string       `json:"arbitrator_name"`
	Decision       VoteDecision `json:"decision"`
	VotedAt        *time.Time   `json:"voted_at,omitempty"`
	Comment        string       `json:"comment,omitempty"`
}

// CaseSnapshot is the display copy of the originating refund request.
type CaseSnapshot struct {
	OrderNo      string          `json:"order_no"`
	GuestName    string          `json:"guest_name"`
	ActualPaid   decimal.Decimal `json:"actual_paid"`
	RefundRatio  int             `json:"refund_ratio"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	Reason       string          `json:"reason"`
}

// ArbitrationCase is the committee vote on one escalated refund request.
type ArbitrationCase struct {
	ID              string            `json:"id"`
	CaseNo          string            `json:"case_no"`
	RefundRequestID string            `json:"refund_request_id"`
	Snapshot        CaseSnapshot      `json:"snapshot"`
	HotelID         string            `json:"hotel_id"`
	HotelName       string            `json:"hotel_name"`
	Votes           []ArbitrationVote `json:"votes"`
	SupportCount    int               `json:"support_count"`
	OpposeCount     int               `json:"oppose_count"`
	PendingCount    int               `json:"pending_count"`
	Status          CaseStatus        `json:"status"`
	FinalResult     *FinalDecision    `json:"final_result,omitempty"`
	Policy          ResolutionPolicy  `json:"policy"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// Tally recomputes the counters from the votes. It is the only writer of
// SupportCount, OpposeCount and PendingCount.
func (c *ArbitrationCase) Tally() {
	c.SupportCount, c.OpposeCount, c.PendingCount = 0, 0, 0
	for _, v := range c.Votes {
		switch v.Decision {
		case VoteSupport:
			c.SupportCount++
		case VoteOppose:
			c.OpposeCount++
		default:
			c.PendingCount++
		}
	}
}

// Decide applies the resolution policy to the current counters. It returns the
// result and true once the case is decisive.
func (c *ArbitrationCase) Decide() (FinalDecision, bool) {
	decisive := c.PendingCount == 0
	if c.Policy != PolicyAllVotes && (c.SupportCount >= Majority || c.OpposeCount >= Majority) {
		decisive = true
	}
	if !decisive {
		return "", false
	}
	if c.SupportCount > c.OpposeCount {
		return DecisionApproved, true
	}
	return DecisionRejected, true
}

// VoteFor returns the slot assigned to arbitratorID, or nil.
func (c *ArbitrationCase) VoteFor(arbitratorID string) *ArbitrationVote {
	for i := range c.Votes {
		if c.Votes[i].ArbitratorID == arbitratorID {
			return &c.Votes[i]
		}
	}
	return nil
}

// CheckInvariants validates vote count and counter consistency.
func (c *ArbitrationCase) CheckInvariants() error {
	if len(c.Votes) != CommitteeSize {
		return Errorf(KindIncompleteRoster, "case %s has %d votes, need %d", c.ID, len(c.Votes), CommitteeSize)
	}
	seen := make(map[string]struct{}, len(c.Votes))
	support, oppose, pending := 0, 0, 0
	for _, v := range c.Votes {
		if _, dup := seen[v.ArbitratorID]; dup {
			return Errorf(KindInvalidArgument, "case %s assigns arbitrator %s twice", c.ID, v.ArbitratorID)
		}
		seen[v.ArbitratorID] = struct{}{}
		switch v.Decision {
		case VoteSupport:
			support++
		case VoteOppose:
			oppose++
		case VotePending:
			pending++
		default:
			return Errorf(KindInvalidArgument, "case %s has unknown vote %q", c.ID, v.Decision)
		}
	}
	if support != c.SupportCount || oppose != c.OpposeCount || pending != c.PendingCount {
		return Errorf(KindInvalidArgument, "case %s counters %d/%d/%d do not match votes %d/%d/%d",
			c.ID, c.SupportCount, c.OpposeCount, c.PendingCount, support, oppose, pending)
	}
	if (c.Status == CaseCompleted) != (c.FinalResult != nil) {
		return Errorf(KindInvalidArgument, "case %s final result does not match status %s", c.ID, c.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (c *ArbitrationCase) Clone() *ArbitrationCase {
	out := *c
	out.Votes = make([]ArbitrationVote, len(c.Votes))
	for i, v := range c.Votes {
		v.VotedAt = cloneTime(v.VotedAt)
		out.Votes[i] = v
	}
	if c.FinalResult != nil {
		r := *c.FinalResult
		out.FinalResult = &r
	}
	out.CompletedAt = cloneTime(c.CompletedAt)
	return &out
}
