package proposal

import "fmt"

// Conflict types.
const (
	ConflictSelfReview        = "self_review"
	ConflictSubjectOfProposal = "subject_of_proposal"
)

// Conflict records why a reviewer may not review a proposal.
type Conflict struct {
	ReviewerID   string `json:"reviewer_id"`
	ConflictType string `json:"conflict_type"`
	Description  string `json:"description"`
}

// DetectConflicts returns the conflicts of interest between p and each
// reviewer, in reviewer order. A reviewer who is the proposer gets a
// self_review record; a reviewer whose id equals payload["member_id"] gets
// a subject_of_proposal record. Both may apply to the same reviewer, in
// that order.
func DetectConflicts(p *Proposal, reviewerIDs []string) []Conflict {
	subject := memberSubject(p.Payload)

	var out []Conflict
	for _, id := range reviewerIDs {
		if id == p.ProposerID {
			out = append(out, Conflict{
				ReviewerID:   id,
				ConflictType: ConflictSelfReview,
				Description:  "Reviewer is the proposer",
			})
		}
		if subject != "" && id == subject {
			out = append(out, Conflict{
				ReviewerID:   id,
				ConflictType: ConflictSubjectOfProposal,
				Description:  "Reviewer is the subject of this proposal",
			})
		}
	}
	return out
}

// FilterConflicted drops reviewers that appear in conflicts, keeping order.
func FilterConflicted(reviewerIDs []string, conflicts []Conflict) []string {
	if len(conflicts) == 0 {
		return reviewerIDs
	}
	blocked := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		blocked[c.ReviewerID] = struct{}{}
	}
	out := make([]string, 0, len(reviewerIDs))
	for _, id := range reviewerIDs {
		if _, ok := blocked[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// SubjectMemberID is the member a proposal is about, taken from
// payload["member_id"]; empty when the proposal names none.
func (p *Proposal) SubjectMemberID() string { return memberSubject(p.Payload) }

func memberSubject(payload map[string]any) string {
	v, ok := payload["member_id"]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
