package service

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"github.com/CQNKZX/otree-core/internal/game"
	"github.com/CQNKZX/otree-core/internal/models"
	"github.com/CQNKZX/otree-core/internal/repository"
	"github.com/CQNKZX/otree-core/internal/session"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory implementation of every store interface,
// with the same ordering and locking semantics the SQL layer provides,
// minus the concurrency.
type memStore struct {
	sequences    map[int64]*models.Sequence
	experiments  map[int64]*models.Experiment
	treatments   map[int64]*models.Treatment
	participants map[int64]*models.Participant
	eps          map[int64]*models.ExperimentParticipant
	matches      map[int64]*models.Match
	sessions     map[string]*session.Session
	lastID       int64
	tokenN       int
}

var errStubNotFound = errors.New("not found")

func newMemStore() *memStore {
	return &memStore{
		sequences:    map[int64]*models.Sequence{},
		experiments:  map[int64]*models.Experiment{},
		treatments:   map[int64]*models.Treatment{},
		participants: map[int64]*models.Participant{},
		eps:          map[int64]*models.ExperimentParticipant{},
		matches:      map[int64]*models.Match{},
		sessions:     map[string]*session.Session{},
	}
}

func (m *memStore) id() int64 {
	m.lastID++
	return m.lastID
}

// --- SequenceStore ---

func (m *memStore) Create(_ context.Context, seq *models.Sequence) error {
	seq.ID = m.id()
	seq.Code = fmt.Sprintf("seq%05d", seq.ID)
	seq.ExperimenterAccessCode = fmt.Sprintf("acc%05d", seq.ID)
	m.sequences[seq.ID] = seq
	return nil
}

func (m *memStore) GetByCode(_ context.Context, code string) (*models.Sequence, error) {
	for _, seq := range m.sequences {
		if seq.Code == code {
			cp := *seq
			return &cp, nil
		}
	}
	return nil, errStubNotFound
}

func (m *memStore) GetByAccessCode(_ context.Context, accessCode string) (*models.Sequence, error) {
	for _, seq := range m.sequences {
		if seq.ExperimenterAccessCode == accessCode {
			cp := *seq
			return &cp, nil
		}
	}
	return nil, errStubNotFound
}

func (m *memStore) MarkPaymentsSent(_ context.Context, sequenceID int64) (bool, error) {
	seq, ok := m.sequences[sequenceID]
	if !ok {
		return false, errStubNotFound
	}
	if seq.PaymentWasSent {
		return false, nil
	}
	seq.PaymentWasSent = true
	return true, nil
}

// --- ExperimentStore ---

func (m *memStore) Get(_ context.Context, id int64) (*models.Experiment, error) {
	exp, ok := m.experiments[id]
	if !ok {
		return nil, errStubNotFound
	}
	cp := *exp
	return &cp, nil
}

func (m *memStore) ListBySequence(_ context.Context, sequenceID int64) ([]models.Experiment, error) {
	var out []models.Experiment
	for _, exp := range m.experiments {
		if exp.SequenceID == sequenceID {
			out = append(out, *exp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) AddExperiments(_ context.Context, sequenceID int64, specs []repository.ExperimentSpec, numSlots int) ([]models.Experiment, error) {
	next := 0
	for _, exp := range m.experiments {
		if exp.SequenceID == sequenceID && exp.Position >= next {
			next = exp.Position + 1
		}
	}

	var out []models.Experiment
	for _, spec := range specs {
		exp := &models.Experiment{
			ID:         m.id(),
			SequenceID: sequenceID,
			Kind:       spec.Kind,
			Name:       spec.Name,
			Position:   next,
		}
		next++
		m.experiments[exp.ID] = exp

		for _, t := range spec.Treatments {
			treatment := &models.Treatment{
				ID:                   m.id(),
				ExperimentID:         exp.ID,
				Code:                 t.Code,
				ParticipantsPerMatch: t.ParticipantsPerMatch,
				BasePay:              t.BasePay,
			}
			m.treatments[treatment.ID] = treatment
		}
		for slot := 0; slot < numSlots; slot++ {
			ep := &models.ExperimentParticipant{
				ID:           m.id(),
				ExperimentID: exp.ID,
				Slot:         slot,
			}
			m.eps[ep.ID] = ep
		}
		out = append(out, *exp)
	}
	return out, nil
}

// --- ParticipantStore ---

func (m *memStore) CreateBatch(_ context.Context, sequenceID int64, count int, labels []string) ([]models.Participant, error) {
	var out []models.Participant
	for i := 0; i < count; i++ {
		p := &models.Participant{
			ID:         m.id(),
			SequenceID: sequenceID,
			Code:       fmt.Sprintf("p%05d", m.lastID),
		}
		if i < len(labels) {
			label := labels[i]
			p.Label = &label
		}
		m.participants[p.ID] = p
		out = append(out, *p)
	}
	return out, nil
}

func (m *memStore) listParticipants(sequenceID int64) []models.Participant {
	var out []models.Participant
	for _, p := range m.participants {
		if p.SequenceID == sequenceID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) GetByCodeP(_ context.Context, code string) (*models.Participant, error) {
	for _, p := range m.participants {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errStubNotFound
}

func (m *memStore) MarkVisited(_ context.Context, participantID int64, ip *netip.Addr, mturkAssignmentID, mturkWorkerID *string) error {
	p, ok := m.participants[participantID]
	if !ok {
		return errStubNotFound
	}
	p.Visited = true
	if ip != nil {
		p.IPAddress = ip
	}
	if mturkAssignmentID != nil {
		p.MTurkAssignmentID = mturkAssignmentID
	}
	if mturkWorkerID != nil {
		p.MTurkWorkerID = mturkWorkerID
	}
	return nil
}

func (m *memStore) Terminate(_ context.Context, participantID int64) error {
	p, ok := m.participants[participantID]
	if !ok {
		return errStubNotFound
	}
	p.WasTerminated = true
	return nil
}

func (m *memStore) ListExperimentParticipants(_ context.Context, experimentID int64) ([]models.ExperimentParticipant, error) {
	var out []models.ExperimentParticipant
	for _, ep := range m.eps {
		if ep.ExperimentID == experimentID {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (m *memStore) LinkAcrossExperiments(_ context.Context, assignments []repository.SlotAssignment) error {
	for _, a := range assignments {
		ep, ok := m.eps[a.ExperimentParticipantID]
		if !ok {
			return errStubNotFound
		}
		pid := a.ParticipantID
		ep.ParticipantID = &pid
	}
	return nil
}

func (m *memStore) ChainFor(_ context.Context, participantID int64) ([]repository.ChainEntry, error) {
	var out []repository.ChainEntry
	for _, ep := range m.eps {
		if ep.ParticipantID == nil || *ep.ParticipantID != participantID {
			continue
		}
		exp := m.experiments[ep.ExperimentID]
		out = append(out, repository.ChainEntry{
			ExperimentParticipant: *ep,
			ExperimentName:        exp.Name,
			ExperimentKind:        exp.Kind,
			Position:              exp.Position,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *memStore) GetExperimentParticipant(_ context.Context, id int64) (*models.ExperimentParticipant, error) {
	ep, ok := m.eps[id]
	if !ok {
		return nil, errStubNotFound
	}
	cp := *ep
	return &cp, nil
}

func (m *memStore) AssignTreatment(_ context.Context, experimentParticipantID, treatmentID int64) error {
	ep, ok := m.eps[experimentParticipantID]
	if !ok {
		return errStubNotFound
	}
	ep.TreatmentID = &treatmentID
	return nil
}

func (m *memStore) FinishPlaying(_ context.Context, experimentParticipantID int64, payoff decimal.Decimal) error {
	ep, ok := m.eps[experimentParticipantID]
	if !ok {
		return errStubNotFound
	}
	ep.IsFinished = true
	ep.Payoff = payoff
	return nil
}

func (m *memStore) TotalPay(_ context.Context, participantID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, ep := range m.eps {
		if ep.ParticipantID != nil && *ep.ParticipantID == participantID {
			total = total.Add(ep.Payoff)
		}
	}
	return total, nil
}

func (m *memStore) PaymentRows(_ context.Context, sequenceID int64) ([]repository.PaymentRow, error) {
	var out []repository.PaymentRow
	for _, p := range m.listParticipants(sequenceID) {
		total, _ := m.TotalPay(context.Background(), p.ID)
		out = append(out, repository.PaymentRow{
			ParticipantID: p.ID,
			Code:          p.Code,
			Label:         p.Label,
			MTurkWorkerID: p.MTurkWorkerID,
			Total:         total,
		})
	}
	return out, nil
}

// --- TreatmentStore ---

func (m *memStore) GetTreatment(_ context.Context, id int64) (*models.Treatment, error) {
	t, ok := m.treatments[id]
	if !ok {
		return nil, errStubNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) GetTreatmentByCode(_ context.Context, code string) (*models.Treatment, error) {
	for _, t := range m.treatments {
		if t.Code == code {
			cp := *t
			return &cp, nil
		}
	}
	return nil, errStubNotFound
}

func (m *memStore) ListByExperiment(_ context.Context, experimentID int64) ([]models.Treatment, error) {
	var out []models.Treatment
	for _, t := range m.treatments {
		if t.ExperimentID == experimentID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) PickBalanced(_ context.Context, experimentID int64) (*models.Treatment, error) {
	treatments, _ := m.ListByExperiment(context.Background(), experimentID)
	if len(treatments) == 0 {
		return nil, errStubNotFound
	}

	counts := map[int64]int{}
	for _, ep := range m.eps {
		if ep.TreatmentID != nil {
			counts[*ep.TreatmentID]++
		}
	}

	best := treatments[0]
	for _, t := range treatments[1:] {
		if counts[t.ID] < counts[best.ID] {
			best = t
		}
	}
	return &best, nil
}

// --- MatchStore ---

func (m *memStore) GetMatch(_ context.Context, id int64) (*models.Match, error) {
	match, ok := m.matches[id]
	if !ok {
		return nil, errStubNotFound
	}
	cp := *match
	return &cp, nil
}

func (m *memStore) ListMatchesByExperiment(_ context.Context, experimentID int64) ([]models.Match, error) {
	var out []models.Match
	for _, match := range m.matches {
		if match.ExperimentID == experimentID {
			out = append(out, *match)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) Members(_ context.Context, matchID int64) ([]models.ExperimentParticipant, error) {
	var out []models.ExperimentParticipant
	for _, ep := range m.eps {
		if ep.MatchID != nil && *ep.MatchID == matchID {
			out = append(out, *ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) seat(match *models.Match, epID int64, slot game.Slot) {
	ep := m.eps[epID]
	mid := match.ID
	ep.MatchID = &mid
	switch slot {
	case game.SlotParticipant1:
		match.Participant1ID = &epID
	case game.SlotParticipant2:
		match.Participant2ID = &epID
	}
}

func (m *memStore) CreateMatch(_ context.Context, match *models.Match, experimentParticipantID int64, slot game.Slot) error {
	match.ID = m.id()
	m.matches[match.ID] = match
	m.seat(match, experimentParticipantID, slot)
	return nil
}

func (m *memStore) AddMember(_ context.Context, match *models.Match, experimentParticipantID int64, slot game.Slot) error {
	stored, ok := m.matches[match.ID]
	if !ok {
		return errStubNotFound
	}
	m.seat(stored, experimentParticipantID, slot)
	return nil
}

func (m *memStore) SetOffer(_ context.Context, matchID, experimentParticipantID, amount int64) (bool, error) {
	match, ok := m.matches[matchID]
	if !ok {
		return false, errStubNotFound
	}
	if match.Participant1ID == nil || *match.Participant1ID != experimentParticipantID || match.AmountOffered != nil {
		return false, nil
	}
	match.AmountOffered = &amount
	return true, nil
}

func (m *memStore) stateOf(match *models.Match) game.State {
	treatment := m.treatments[match.TreatmentID]
	state := game.State{Capacity: treatment.ParticipantsPerMatch}
	for _, ep := range m.eps {
		if ep.MatchID != nil && *ep.MatchID == match.ID {
			state.Occupied++
		}
	}
	state.Participant1Set = match.Participant1ID != nil
	state.Participant2Set = match.Participant2ID != nil
	if match.Participant1ID != nil {
		state.Participant1Finished = m.eps[*match.Participant1ID].IsFinished
	}
	return state
}

func (m *memStore) ClaimNextOpenMatch(ctx context.Context, params repository.ClaimParams) (*models.Match, error) {
	matches, _ := m.ListMatchesByExperiment(ctx, params.ExperimentID)
	for i := range matches {
		match := m.matches[matches[i].ID]
		treatment := m.treatments[match.TreatmentID]
		if treatment.Code != params.TreatmentCode {
			continue
		}
		slot, ok := params.Decide(m.stateOf(match))
		if !ok {
			continue
		}
		m.seat(match, params.ExperimentParticipantID, slot)
		cp := *match
		return &cp, nil
	}
	return nil, repository.ErrNoOpenMatch
}

// --- SessionStore ---

func (m *memStore) CreateSession(_ context.Context, sess *session.Session) (string, error) {
	m.tokenN++
	token := fmt.Sprintf("token%d", m.tokenN)
	cp := *sess
	m.sessions[token] = &cp
	return token, nil
}

func (m *memStore) GetSession(_ context.Context, token string) (*session.Session, error) {
	sess, ok := m.sessions[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) UpdateSession(_ context.Context, token string, sess *session.Session) error {
	cp := *sess
	m.sessions[token] = &cp
	return nil
}

func (m *memStore) DeleteSession(_ context.Context, token string) error {
	delete(m.sessions, token)
	return nil
}

// Adapter types give memStore one face per interface where method
// names would otherwise collide. memStore itself already satisfies
// SequenceStore and ExperimentStore.

type participantStoreStub struct{ m *memStore }

func (s participantStoreStub) CreateBatch(ctx context.Context, sequenceID int64, count int, labels []string) ([]models.Participant, error) {
	return s.m.CreateBatch(ctx, sequenceID, count, labels)
}

func (s participantStoreStub) ListBySequence(_ context.Context, sequenceID int64) ([]models.Participant, error) {
	return s.m.listParticipants(sequenceID), nil
}

func (s participantStoreStub) GetByCode(ctx context.Context, code string) (*models.Participant, error) {
	return s.m.GetByCodeP(ctx, code)
}

func (s participantStoreStub) MarkVisited(ctx context.Context, participantID int64, ip *netip.Addr, mturkAssignmentID, mturkWorkerID *string) error {
	return s.m.MarkVisited(ctx, participantID, ip, mturkAssignmentID, mturkWorkerID)
}

func (s participantStoreStub) Terminate(ctx context.Context, participantID int64) error {
	return s.m.Terminate(ctx, participantID)
}

func (s participantStoreStub) ListExperimentParticipants(ctx context.Context, experimentID int64) ([]models.ExperimentParticipant, error) {
	return s.m.ListExperimentParticipants(ctx, experimentID)
}

func (s participantStoreStub) LinkAcrossExperiments(ctx context.Context, assignments []repository.SlotAssignment) error {
	return s.m.LinkAcrossExperiments(ctx, assignments)
}

func (s participantStoreStub) ChainFor(ctx context.Context, participantID int64) ([]repository.ChainEntry, error) {
	return s.m.ChainFor(ctx, participantID)
}

func (s participantStoreStub) GetExperimentParticipant(ctx context.Context, id int64) (*models.ExperimentParticipant, error) {
	return s.m.GetExperimentParticipant(ctx, id)
}

func (s participantStoreStub) AssignTreatment(ctx context.Context, experimentParticipantID, treatmentID int64) error {
	return s.m.AssignTreatment(ctx, experimentParticipantID, treatmentID)
}

func (s participantStoreStub) FinishPlaying(ctx context.Context, experimentParticipantID int64, payoff decimal.Decimal) error {
	return s.m.FinishPlaying(ctx, experimentParticipantID, payoff)
}

func (s participantStoreStub) TotalPay(ctx context.Context, participantID int64) (decimal.Decimal, error) {
	return s.m.TotalPay(ctx, participantID)
}

func (s participantStoreStub) PaymentRows(ctx context.Context, sequenceID int64) ([]repository.PaymentRow, error) {
	return s.m.PaymentRows(ctx, sequenceID)
}

type treatmentStoreStub struct{ m *memStore }

func (s treatmentStoreStub) Get(ctx context.Context, id int64) (*models.Treatment, error) {
	return s.m.GetTreatment(ctx, id)
}

func (s treatmentStoreStub) GetByCode(ctx context.Context, code string) (*models.Treatment, error) {
	return s.m.GetTreatmentByCode(ctx, code)
}

func (s treatmentStoreStub) ListByExperiment(ctx context.Context, experimentID int64) ([]models.Treatment, error) {
	return s.m.ListByExperiment(ctx, experimentID)
}

func (s treatmentStoreStub) PickBalanced(ctx context.Context, experimentID int64) (*models.Treatment, error) {
	return s.m.PickBalanced(ctx, experimentID)
}

type matchStoreStub struct{ m *memStore }

func (s matchStoreStub) Get(ctx context.Context, id int64) (*models.Match, error) {
	return s.m.GetMatch(ctx, id)
}

func (s matchStoreStub) ListByExperiment(ctx context.Context, experimentID int64) ([]models.Match, error) {
	return s.m.ListMatchesByExperiment(ctx, experimentID)
}

func (s matchStoreStub) Members(ctx context.Context, matchID int64) ([]models.ExperimentParticipant, error) {
	return s.m.Members(ctx, matchID)
}

func (s matchStoreStub) Create(ctx context.Context, match *models.Match, experimentParticipantID int64, slot game.Slot) error {
	return s.m.CreateMatch(ctx, match, experimentParticipantID, slot)
}

func (s matchStoreStub) AddMember(ctx context.Context, match *models.Match, experimentParticipantID int64, slot game.Slot) error {
	return s.m.AddMember(ctx, match, experimentParticipantID, slot)
}

func (s matchStoreStub) SetOffer(ctx context.Context, matchID, experimentParticipantID, amount int64) (bool, error) {
	return s.m.SetOffer(ctx, matchID, experimentParticipantID, amount)
}

func (s matchStoreStub) ClaimNextOpenMatch(ctx context.Context, params repository.ClaimParams) (*models.Match, error) {
	return s.m.ClaimNextOpenMatch(ctx, params)
}

type sessionStoreStub struct{ m *memStore }

func (s sessionStoreStub) Create(ctx context.Context, sess *session.Session) (string, error) {
	return s.m.CreateSession(ctx, sess)
}

func (s sessionStoreStub) Get(ctx context.Context, token string) (*session.Session, error) {
	return s.m.GetSession(ctx, token)
}

func (s sessionStoreStub) Update(ctx context.Context, token string, sess *session.Session) error {
	return s.m.UpdateSession(ctx, token, sess)
}

func (s sessionStoreStub) Delete(ctx context.Context, token string) error {
	return s.m.DeleteSession(ctx, token)
}

// --- enqueuer ---

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task%d", len(f.tasks))}, nil
}

// --- service constructors over the stubs ---

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func testSequenceService(m *memStore) *SequenceService {
	return NewSequenceService(m, m, participantStoreStub{m}, treatmentStoreStub{m},
		matchStoreStub{m}, game.DefaultRegistry(), testLogger())
}

func testAssignmentService(m *memStore) *AssignmentService {
	return NewAssignmentService(m, m, participantStoreStub{m}, treatmentStoreStub{m},
		matchStoreStub{m}, sessionStoreStub{m}, game.DefaultRegistry(), testLogger())
}

func testPaymentService(m *memStore, enq *fakeEnqueuer) *PaymentService {
	return NewPaymentService(m, participantStoreStub{m}, enq, testLogger())
}
