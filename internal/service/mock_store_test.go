package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/agent"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/audit"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/escalation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/evaluation"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/gardener"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/proposal"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/domain/zone"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/middleware"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/database"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/llm"
	"github.com/nintynick/openclaw-mission-control-sub001/internal/port/messagequeue"
)

const testOrg = "org-1"

// orgCtx returns a request context for testOrg acting as actorID.
func orgCtx(actorID string) context.Context {
	ctx := middleware.WithOrganizationID(context.Background(), testOrg)
	return middleware.WithActor(ctx, middleware.Actor{ID: actorID, Type: audit.ActorHuman})
}

// mockStore is an in-memory database.Store. It copies on read and write so
// services cannot mutate stored rows behind its back.
type mockStore struct {
	seq         int
	now         time.Time
	zones       map[string]zone.Zone
	zoneOrder   []string
	assignments []zone.Assignment
	reputations map[string]float64
	orgRoles    map[string]string
	proposals   map[string]proposal.Proposal
	escalations map[string]escalation.Escalation
	cosigners   map[string][]escalation.Cosigner
	feedback    []gardener.Feedback
	agents      map[string]agent.Agent
	gateways    map[string]agent.Gateway
	audits      []audit.Entry
	evaluations map[string]evaluation.Evaluation
	scores      []evaluation.Score
	signals     []evaluation.Signal

	// Error hooks.
	getAgentErr       error
	updateAgentErr    error
	listAssignmentErr error
	// beforeAgentUpdate runs ahead of every UpdateAgentLifecycle.
	beforeAgentUpdate func(m *mockStore)
}

var _ database.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		now:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		zones:       make(map[string]zone.Zone),
		reputations: make(map[string]float64),
		orgRoles:    make(map[string]string),
		evaluations: make(map[string]evaluation.Evaluation),
		proposals:   make(map[string]proposal.Proposal),
		escalations: make(map[string]escalation.Escalation),
		cosigners:   make(map[string][]escalation.Cosigner),
		agents:      make(map[string]agent.Agent),
		gateways:    make(map[string]agent.Gateway),
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func orgOf(ctx context.Context) string { return middleware.OrganizationIDFromContext(ctx) }

func (m *mockStore) audit(ctx context.Context, entries ...audit.Entry) {
	for _, e := range entries {
		if e.OrganizationID == "" {
			e.OrganizationID = orgOf(ctx)
		}
		e.ID = m.nextID("audit")
		e.CreatedAt = m.now
		m.audits = append(m.audits, e)
	}
}

// actions returns the audit actions recorded so far, in order.
func (m *mockStore) actions() []string {
	out := make([]string, len(m.audits))
	for i, e := range m.audits {
		out[i] = e.Action
	}
	return out
}

// --- Zones ---

// addZone seeds a zone for testOrg and returns its id.
func (m *mockStore) addZone(z zone.Zone) string {
	if z.ID == "" {
		z.ID = m.nextID("zone")
	}
	if z.OrganizationID == "" {
		z.OrganizationID = testOrg
	}
	if z.Status == "" {
		z.Status = zone.StatusActive
	}
	m.zones[z.ID] = z
	m.zoneOrder = append(m.zoneOrder, z.ID)
	return z.ID
}

func (m *mockStore) assign(zoneID, memberID string, role zone.Role) {
	m.assignments = append(m.assignments, zone.Assignment{
		ID:       m.nextID("asg"),
		ZoneID:   zoneID,
		MemberID: memberID,
		Role:     role,
	})
}

func (m *mockStore) CreateZone(ctx context.Context, z *zone.Zone, entry *audit.Entry) error {
	for _, id := range m.zoneOrder {
		if o := m.zones[id]; o.OrganizationID == orgOf(ctx) && o.Slug == z.Slug {
			return domain.Conflictf("zone slug %q already exists", z.Slug)
		}
	}
	z.ID = m.nextID("zone")
	z.OrganizationID = orgOf(ctx)
	z.CreatedAt, z.UpdatedAt = m.now, m.now
	m.zones[z.ID] = *z
	m.zoneOrder = append(m.zoneOrder, z.ID)
	if entry != nil {
		entry.ZoneID, entry.TargetID = z.ID, z.ID
		m.audit(ctx, *entry)
	}
	return nil
}

func (m *mockStore) GetZone(ctx context.Context, id string) (*zone.Zone, error) {
	z, ok := m.zones[id]
	if !ok || z.OrganizationID != orgOf(ctx) {
		return nil, fmt.Errorf("zone %s: %w", id, domain.ErrNotFound)
	}
	return &z, nil
}

func (m *mockStore) ListZones(ctx context.Context, filter zone.ListFilter) ([]zone.Zone, error) {
	out := []zone.Zone{}
	for _, id := range m.zoneOrder {
		z := m.zones[id]
		if z.OrganizationID != orgOf(ctx) {
			continue
		}
		if filter.ParentZoneID != "" && z.ParentZoneID != filter.ParentZoneID {
			continue
		}
		if filter.Status != "" && z.Status != filter.Status {
			continue
		}
		out = append(out, z)
	}
	return out, nil
}

func (m *mockStore) ListChildZoneIDs(ctx context.Context, parentID string) ([]string, error) {
	var out []string
	for _, id := range m.zoneOrder {
		if z := m.zones[id]; z.ParentZoneID == parentID && z.OrganizationID == orgOf(ctx) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateZone(ctx context.Context, z *zone.Zone, entry *audit.Entry) error {
	if _, err := m.GetZone(ctx, z.ID); err != nil {
		return err
	}
	z.UpdatedAt = m.now
	m.zones[z.ID] = *z
	if entry != nil {
		m.audit(ctx, *entry)
	}
	return nil
}

func (m *mockStore) TransitionZone(ctx context.Context, id string, target zone.Status, entry *audit.Entry) (*zone.Zone, []string, error) {
	z, err := m.GetZone(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := zone.ValidateStatusTransition(z.Status, target); err != nil {
		return nil, nil, err
	}
	previous := z.Status
	z.Status = target
	m.zones[id] = *z

	var cascaded []string
	if zone.CascadeApplies(target) {
		descendants, err := zone.CollectDescendants(id, func(parentID string) ([]string, error) {
			return m.ListChildZoneIDs(ctx, parentID)
		})
		if err != nil {
			return nil, nil, err
		}
		for _, d := range descendants {
			dz := m.zones[d]
			if !zone.NeedsCascade(dz.Status, target) {
				continue
			}
			dz.Status = target
			m.zones[d] = dz
			cascaded = append(cascaded, d)
		}
	}
	if entry != nil {
		if entry.Payload == nil {
			entry.Payload = map[string]any{}
		}
		entry.Payload["from"] = string(previous)
		entry.Payload["to"] = string(target)
		entry.Payload["cascaded_zone_ids"] = cascaded
		m.audit(ctx, *entry)
	}
	return z, cascaded, nil
}

func (m *mockStore) CreateAssignment(ctx context.Context, a *zone.Assignment) error {
	if _, err := m.GetZone(ctx, a.ZoneID); err != nil {
		return err
	}
	for _, o := range m.assignments {
		if o.ZoneID == a.ZoneID && o.MemberID == a.MemberID && o.Role == a.Role {
			return domain.Conflictf("member already holds role %s", a.Role)
		}
	}
	a.ID = m.nextID("asg")
	a.CreatedAt = m.now
	m.assignments = append(m.assignments, *a)
	return nil
}

func (m *mockStore) DeleteAssignment(_ context.Context, zoneID, id string) error {
	for i, a := range m.assignments {
		if a.ID == id && a.ZoneID == zoneID {
			m.assignments = slices.Delete(m.assignments, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("assignment %s: %w", id, domain.ErrNotFound)
}

func (m *mockStore) ListAssignments(_ context.Context, zoneID string) ([]zone.Assignment, error) {
	if m.listAssignmentErr != nil {
		return nil, m.listAssignmentErr
	}
	out := []zone.Assignment{}
	for _, a := range m.assignments {
		if a.ZoneID == zoneID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) ListMemberReputations(_ context.Context, memberIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(memberIDs))
	for _, id := range memberIDs {
		if r, ok := m.reputations[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (m *mockStore) GetMemberRole(_ context.Context, memberID string) (string, error) {
	role, ok := m.orgRoles[memberID]
	if !ok {
		return "", fmt.Errorf("member %s: %w", memberID, domain.ErrNotFound)
	}
	return role, nil
}

// --- Proposals ---

func copyProposal(p proposal.Proposal) *proposal.Proposal {
	p.ApprovalRequests = slices.Clone(p.ApprovalRequests)
	return &p
}

func (m *mockStore) insertProposal(ctx context.Context, p *proposal.Proposal) {
	p.ID = m.nextID("prop")
	if p.OrganizationID == "" {
		p.OrganizationID = orgOf(ctx)
	}
	p.CreatedAt, p.UpdatedAt = m.now, m.now
	for i := range p.ApprovalRequests {
		r := &p.ApprovalRequests[i]
		r.ID = m.nextID("req")
		r.ProposalID = p.ID
		r.CreatedAt = m.now
	}
	m.proposals[p.ID] = *copyProposal(*p)
}

func (m *mockStore) CreateProposal(ctx context.Context, p *proposal.Proposal, entry *audit.Entry) error {
	m.insertProposal(ctx, p)
	if entry != nil {
		entry.TargetID = p.ID
		m.audit(ctx, *entry)
	}
	return nil
}

func (m *mockStore) GetProposal(ctx context.Context, id string) (*proposal.Proposal, error) {
	p, ok := m.proposals[id]
	if !ok || p.OrganizationID != orgOf(ctx) {
		return nil, fmt.Errorf("proposal %s: %w", id, domain.ErrNotFound)
	}
	return copyProposal(p), nil
}

func (m *mockStore) DecideApproval(ctx context.Context, d database.Decision) (*proposal.Proposal, proposal.Outcome, error) {
	var none proposal.Outcome
	p, err := m.GetProposal(ctx, d.ProposalID)
	if err != nil {
		return nil, none, err
	}
	if p.Status != proposal.StatusPendingReview {
		return nil, none, domain.Conflictf("proposal is %s, not pending review", p.Status)
	}
	i := slices.IndexFunc(p.ApprovalRequests, func(r proposal.ApprovalRequest) bool { return r.ReviewerID == d.ReviewerID })
	if i < 0 {
		return nil, none, fmt.Errorf("%w: reviewer is not assigned to proposal %s", domain.ErrForbidden, d.ProposalID)
	}
	req := &p.ApprovalRequests[i]
	if req.Decided() {
		return nil, none, domain.Conflictf("reviewer already decided %s", req.Decision)
	}
	now := d.Now
	req.Decision, req.Rationale, req.DecidedAt = d.Request.Decision, d.Request.Rationale, &now

	outcome := none
	if d.Resolve != nil {
		outcome = d.Resolve(p)
	}
	entries := slices.Clone(d.Audit)
	if outcome.Resolved {
		p.Status = outcome.Status
		p.ResolvedAt = &now
		entries = append(entries, audit.Entry{
			ZoneID:     p.ZoneID,
			ActorID:    d.ReviewerID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionProposalResolve,
			TargetType: audit.TargetProposal,
			TargetID:   p.ID,
		})
	}
	m.proposals[p.ID] = *copyProposal(*p)
	m.audit(ctx, entries...)
	return p, outcome, nil
}

func (m *mockStore) ListPendingProposals(_ context.Context, createdBefore time.Time) ([]proposal.Proposal, error) {
	out := []proposal.Proposal{}
	for _, p := range m.proposals {
		if p.Status == proposal.StatusPendingReview && !p.CreatedAt.After(createdBefore) {
			out = append(out, *copyProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Escalations ---

func (m *mockStore) escalationCopy(id string) *escalation.Escalation {
	e := m.escalations[id]
	e.Cosigners = slices.Clone(m.cosigners[id])
	return &e
}

func (m *mockStore) addCosigner(id, userID string) bool {
	for _, c := range m.cosigners[id] {
		if c.UserID == userID {
			return false
		}
	}
	m.cosigners[id] = append(m.cosigners[id], escalation.Cosigner{
		ID:           m.nextID("cosign"),
		EscalationID: id,
		UserID:       userID,
		CreatedAt:    m.now,
	})
	return true
}

func (m *mockStore) CreateEscalation(ctx context.Context, n database.NewEscalation) error {
	e := n.Escalation
	if e.OrganizationID == "" {
		e.OrganizationID = orgOf(ctx)
	}
	now := n.Now
	if n.CheckRateLimit != nil {
		recent := 0
		for _, o := range m.escalations {
			if o.OrganizationID == e.OrganizationID && o.EscalatorID == e.EscalatorID &&
				o.SourceZoneID == e.SourceZoneID && o.CreatedAt.After(now.Add(-escalation.RateLimitWindow)) {
				recent++
			}
		}
		if err := n.CheckRateLimit(recent); err != nil {
			return err
		}
	}
	if e.SourceProposalID != "" {
		src, ok := m.proposals[e.SourceProposalID]
		if !ok || src.OrganizationID != e.OrganizationID {
			return fmt.Errorf("proposal %s: %w", e.SourceProposalID, domain.ErrNotFound)
		}
		if src.Status != proposal.StatusPendingReview {
			return domain.Conflictf("proposal is %s, only pending proposals can be escalated", src.Status)
		}
		src.Status = proposal.StatusEscalated
		m.proposals[src.ID] = src
	}
	if n.ResultingProposal != nil {
		m.insertProposal(ctx, n.ResultingProposal)
		e.ResultingProposalID = n.ResultingProposal.ID
	}
	e.ID = m.nextID("esc")
	e.CreatedAt, e.UpdatedAt = now, now
	m.escalations[e.ID] = *e
	if n.CosignAsEscalator {
		m.addCosigner(e.ID, e.EscalatorID)
	}
	e.Cosigners = slices.Clone(m.cosigners[e.ID])

	entries := slices.Clone(n.Audit)
	for i := range entries {
		if entries[i].TargetID == "" {
			entries[i].TargetType, entries[i].TargetID = audit.TargetEscalation, e.ID
		}
	}
	m.audit(ctx, entries...)
	return nil
}

func (m *mockStore) GetEscalation(ctx context.Context, id string) (*escalation.Escalation, error) {
	e, ok := m.escalations[id]
	if !ok || e.OrganizationID != orgOf(ctx) {
		return nil, fmt.Errorf("escalation %s: %w", id, domain.ErrNotFound)
	}
	return m.escalationCopy(id), nil
}

func (m *mockStore) ListEscalations(ctx context.Context, filter escalation.ListFilter) ([]escalation.Escalation, error) {
	out := []escalation.Escalation{}
	for id, e := range m.escalations {
		if e.OrganizationID != orgOf(ctx) {
			continue
		}
		if filter.EscalationType != "" && e.EscalationType != filter.EscalationType {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, *m.escalationCopy(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) Cosign(ctx context.Context, c database.CosignRequest) (*escalation.CosignResult, error) {
	e, err := m.GetEscalation(ctx, c.EscalationID)
	if err != nil {
		return nil, err
	}
	if err := escalation.CanCosign(e); err != nil {
		return nil, err
	}
	added := m.addCosigner(e.ID, c.UserID)
	count := len(m.cosigners[e.ID])
	if added {
		m.audit(ctx, audit.Entry{
			ZoneID:     e.SourceZoneID,
			ActorID:    c.UserID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionEscalationCosign,
			TargetType: audit.TargetEscalation,
			TargetID:   e.ID,
		})
	}
	res := &escalation.CosignResult{Escalation: e, CosignerCount: count, Threshold: c.Threshold, Added: added}
	if count >= c.Threshold {
		e.Status = escalation.StatusAccepted
		if c.Accept != nil {
			meta, err := c.Accept(ctx, e)
			if err != nil {
				return nil, err
			}
			if meta != nil {
				m.insertProposal(ctx, meta)
				e.ResultingProposalID = meta.ID
			}
		}
		m.audit(ctx, audit.Entry{
			ZoneID:     e.TargetZoneID,
			ActorID:    c.UserID,
			ActorType:  audit.ActorHuman,
			Action:     audit.ActionEscalationAccept,
			TargetType: audit.TargetEscalation,
			TargetID:   e.ID,
		})
		res.Activated = true
	}
	e.Cosigners = slices.Clone(m.cosigners[e.ID])
	stored := *e
	stored.Cosigners = nil
	m.escalations[e.ID] = stored
	return res, nil
}

func (m *mockStore) CloseEscalation(ctx context.Context, id string, status escalation.Status, resultingProposalID string, entry *audit.Entry) (*escalation.Escalation, error) {
	e, err := m.GetEscalation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := escalation.CanClose(e); err != nil {
		return nil, err
	}
	e.Status = status
	if resultingProposalID != "" {
		e.ResultingProposalID = resultingProposalID
	}
	stored := *e
	stored.Cosigners = nil
	m.escalations[id] = stored
	if entry != nil {
		entry.TargetType, entry.TargetID = audit.TargetEscalation, id
		m.audit(ctx, *entry)
	}
	return e, nil
}

// --- Gardener feedback ---

func (m *mockStore) CreateFeedback(_ context.Context, rows []gardener.Feedback) error {
	for _, f := range rows {
		f.ID = m.nextID("fb")
		m.feedback = append(m.feedback, f)
	}
	return nil
}

func (m *mockStore) ListFeedbackByProposal(_ context.Context, proposalID string) ([]gardener.Feedback, error) {
	var out []gardener.Feedback
	for _, f := range m.feedback {
		if f.ProposalID == proposalID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockStore) ListFeedbackByReviewers(_ context.Context, reviewerIDs []string) ([]gardener.Feedback, error) {
	var out []gardener.Feedback
	for _, f := range m.feedback {
		if slices.Contains(reviewerIDs, f.ReviewerID) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateFeedbackOutcome(_ context.Context, f *gardener.Feedback) error {
	for i := range m.feedback {
		if m.feedback[i].ID == f.ID {
			m.feedback[i] = *f
			return nil
		}
	}
	return fmt.Errorf("feedback %s: %w", f.ID, domain.ErrNotFound)
}

// --- Evaluations ---

func (m *mockStore) CreateEvaluation(ctx context.Context, e *evaluation.Evaluation, entry *audit.Entry) error {
	if _, err := m.GetZone(ctx, e.ZoneID); err != nil {
		return err
	}
	e.ID = m.nextID("eval")
	e.OrganizationID = orgOf(ctx)
	e.CreatedAt, e.UpdatedAt = m.now, m.now
	m.evaluations[e.ID] = *e
	if entry != nil {
		entry.TargetType, entry.TargetID = audit.TargetEvaluation, e.ID
		m.audit(ctx, *entry)
	}
	return nil
}

func (m *mockStore) evaluationRow(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	e, ok := m.evaluations[id]
	if !ok || e.OrganizationID != orgOf(ctx) {
		return nil, fmt.Errorf("evaluation %s: %w", id, domain.ErrNotFound)
	}
	e.Scores, e.IncentiveSignals = nil, nil
	return &e, nil
}

func (m *mockStore) scoresOf(id string) []evaluation.Score {
	out := []evaluation.Score{}
	for _, sc := range m.scores {
		if sc.EvaluationID == id {
			out = append(out, sc)
		}
	}
	return out
}

func (m *mockStore) signalsOf(id string) []evaluation.Signal {
	out := []evaluation.Signal{}
	for _, sig := range m.signals {
		if sig.EvaluationID == id {
			out = append(out, sig)
		}
	}
	return out
}

func (m *mockStore) GetEvaluation(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	e, err := m.evaluationRow(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Scores, e.IncentiveSignals = m.scoresOf(id), m.signalsOf(id)
	return e, nil
}

func (m *mockStore) ListEvaluations(ctx context.Context, filter evaluation.ListFilter) ([]evaluation.Evaluation, error) {
	out := []evaluation.Evaluation{}
	for id, e := range m.evaluations {
		if e.OrganizationID != orgOf(ctx) {
			continue
		}
		if filter.ZoneID != "" && e.ZoneID != filter.ZoneID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		row, _ := m.evaluationRow(ctx, id)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) AddScore(ctx context.Context, sc *evaluation.Score, entry *audit.Entry) (*evaluation.Evaluation, error) {
	e, err := m.evaluationRow(ctx, sc.EvaluationID)
	if err != nil {
		return nil, err
	}
	if err := evaluation.CanScore(e); err != nil {
		return nil, err
	}
	for _, o := range m.scores {
		if o.EvaluationID == sc.EvaluationID && o.EvaluatorID == sc.EvaluatorID && o.CriterionName == sc.CriterionName {
			return nil, domain.Conflictf("already scored criterion %q", sc.CriterionName)
		}
	}
	sc.ID = m.nextID("score")
	sc.CreatedAt = m.now
	m.scores = append(m.scores, *sc)
	if e.Status == evaluation.StatusPending {
		e.Status = evaluation.StatusInReview
		e.UpdatedAt = m.now
		m.evaluations[e.ID] = *e
	}
	if entry != nil {
		entry.ZoneID = e.ZoneID
		entry.TargetType, entry.TargetID = audit.TargetEvaluation, e.ID
		m.audit(ctx, *entry)
	}
	return e, nil
}

func (m *mockStore) FinalizeEvaluation(ctx context.Context, f database.FinalizeEvaluation) (*evaluation.Evaluation, error) {
	e, err := m.evaluationRow(ctx, f.EvaluationID)
	if err != nil {
		return nil, err
	}
	scores := m.scoresOf(e.ID)
	signals, err := evaluation.Finalize(e, scores, f.Feedback, f.Now)
	if err != nil {
		return nil, err
	}
	for i := range signals {
		signals[i].ID = m.nextID("signal")
	}
	m.signals = append(m.signals, signals...)
	m.evaluations[e.ID] = *e
	if f.Audit != nil {
		f.Audit.ZoneID = e.ZoneID
		f.Audit.TargetType, f.Audit.TargetID = audit.TargetEvaluation, e.ID
		f.Audit.Payload = e.AggregateResult.Payload()
		m.audit(ctx, *f.Audit)
	}
	e.Scores, e.IncentiveSignals = scores, signals
	return e, nil
}

func (m *mockStore) ApplySignals(ctx context.Context, evaluationID string) (int, error) {
	if _, err := m.evaluationRow(ctx, evaluationID); err != nil {
		return 0, err
	}
	applied := 0
	for i, sig := range m.signals {
		if sig.EvaluationID != evaluationID || sig.Applied {
			continue
		}
		rep, ok := m.reputations[sig.TargetID]
		if !ok {
			continue
		}
		m.reputations[sig.TargetID] = evaluation.ApplyReputation(rep, sig)
		m.signals[i].Applied = true
		applied++
	}
	return applied, nil
}

// --- Agents ---

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	if m.getAgentErr != nil {
		return nil, m.getAgentErr
	}
	a, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (m *mockStore) UpdateAgentLifecycle(_ context.Context, a *agent.Agent, expectedGeneration int64) error {
	if m.beforeAgentUpdate != nil {
		m.beforeAgentUpdate(m)
	}
	if m.updateAgentErr != nil {
		return m.updateAgentErr
	}
	cur, ok := m.agents[a.ID]
	if !ok {
		return fmt.Errorf("agent %s: %w", a.ID, domain.ErrNotFound)
	}
	if cur.LifecycleGeneration != expectedGeneration {
		return domain.Conflictf("agent %s lifecycle generation moved to %d", a.ID, cur.LifecycleGeneration)
	}
	m.agents[a.ID] = *a
	return nil
}

func (m *mockStore) GetGateway(_ context.Context, id string) (*agent.Gateway, error) {
	g, ok := m.gateways[id]
	if !ok {
		return nil, fmt.Errorf("gateway %s: %w", id, domain.ErrNotFound)
	}
	return &g, nil
}

// --- Audit ---

func (m *mockStore) CreateAuditEntry(ctx context.Context, e *audit.Entry) error {
	m.audit(ctx, *e)
	return nil
}

func (m *mockStore) ListAuditEntries(ctx context.Context, zoneID string, limit int) ([]audit.Entry, error) {
	out := []audit.Entry{}
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.audits[i]
		if e.OrganizationID == orgOf(ctx) && (zoneID == "" || e.ZoneID == zoneID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// memBackend is an in-memory taskqueue.Backend with delayed visibility.
type memBackend struct {
	mu      sync.Mutex
	now     func() time.Time
	items   map[string][]memItem
	pushErr error
	popErr  error
}

type memItem struct {
	data      []byte
	visibleAt time.Time
}

func newMemBackend(now func() time.Time) *memBackend {
	return &memBackend{now: now, items: make(map[string][]memItem)}
}

func (b *memBackend) Push(ctx context.Context, q string, data []byte) error {
	return b.PushDelayed(ctx, q, data, time.Time{})
}

func (b *memBackend) PushDelayed(_ context.Context, q string, data []byte, visibleAt time.Time) error {
	if b.pushErr != nil {
		return b.pushErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[q] = append(b.items[q], memItem{data: data, visibleAt: visibleAt})
	return nil
}

func (b *memBackend) Pop(_ context.Context, q string) ([]byte, bool, error) {
	if b.popErr != nil {
		return nil, false, b.popErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for i, it := range b.items[q] {
		if !it.visibleAt.After(now) {
			b.items[q] = slices.Delete(b.items[q], i, i+1)
			return it.data, true, nil
		}
	}
	return nil, false, nil
}

// len counts every item of q, visible or not.
func (b *memBackend) len(q string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items[q])
}

// all returns the stored items of q without removing them.
func (b *memBackend) all(q string) []memItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.items[q])
}

// mockPublisher records published governance events.
type mockPublisher struct {
	published []struct {
		subject string
		data    []byte
	}
	publishErr error
}

var _ messagequeue.Publisher = (*mockPublisher)(nil)

func (p *mockPublisher) Publish(_ context.Context, subject string, data []byte) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.published = append(p.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (p *mockPublisher) IsConnected() bool { return p.publishErr == nil }

// recordingHub records dashboard broadcasts.
type recordingHub struct {
	events []string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, _ string, eventType string, _ any) {
	h.events = append(h.events, eventType)
}

// mockWaker records wake calls and fails with err when set.
type mockWaker struct {
	calls []string
	err   error
}

func (w *mockWaker) Wake(_ context.Context, a *agent.Agent) error {
	w.calls = append(w.calls, a.ID)
	return w.err
}

// fakeCompleter returns a canned completion.
type fakeCompleter struct {
	text     string
	err      error
	block    bool
	requests []llm.CompletionRequest
}

func (c *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	c.requests = append(c.requests, req)
	if c.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return c.text, c.err
}
