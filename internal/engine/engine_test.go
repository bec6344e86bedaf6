package engine

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formflowhq/formflow/internal/domain"
)

// The engine tests run against small in-memory fakes so multi-step scenarios
// (approve, advance, reject) can be walked through without a database.

type fakeSubmissionRepo struct {
	subs map[int64]*domain.Submission
	repo *fakeTaskRepo
}

func (f *fakeSubmissionRepo) FindByID(id int64) (*domain.Submission, error) {
	s, ok := f.subs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissionRepo) FindByReference(ref string) (*domain.Submission, error) {
	for _, s := range f.subs {
		if s.Reference == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSubmissionRepo) Save(s *domain.Submission) (int64, error) {
	if s.ID == 0 {
		s.ID = int64(len(f.subs) + 1)
	}
	cp := *s
	f.subs[s.ID] = &cp
	return s.ID, nil
}

func (f *fakeSubmissionRepo) MarkSubmitted(id int64, at time.Time) error {
	s, ok := f.subs[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.Status = domain.SubmissionSubmitted
	s.SubmittedAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

func (f *fakeSubmissionRepo) UpdateStatus(id int64, from []string, to string) error {
	s, ok := f.subs[id]
	if !ok {
		return sql.ErrNoRows
	}
	for _, allowed := range from {
		if s.Status == allowed {
			s.Status = to
			return nil
		}
	}
	return fmt.Errorf("submission %d not in expected status, have %s", id, s.Status)
}

func (f *fakeSubmissionRepo) FinalizeAndCancelPending(id int64, status string, taskStatus string, at time.Time) error {
	s, ok := f.subs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if s.Status != domain.SubmissionSubmitted && s.Status != domain.SubmissionInReview {
		return fmt.Errorf("submission %d is not open", id)
	}
	s.Status = status
	s.CompletedAt = sql.NullTime{Time: at, Valid: true}
	for _, t := range f.repo.tasks {
		if t.SubmissionID == id && t.Status == domain.TaskPending {
			t.Status = taskStatus
		}
	}
	return nil
}

type fakeTaskRepo struct {
	tasks  []*domain.ApprovalTask
	nextID int64
}

func (f *fakeTaskRepo) FindByID(id int64) (*domain.ApprovalTask, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeTaskRepo) CreateBatch(tasks []domain.ApprovalTask) ([]domain.ApprovalTask, error) {
	out := make([]domain.ApprovalTask, 0, len(tasks))
	for _, t := range tasks {
		f.nextID++
		t.ID = f.nextID
		cp := t
		f.tasks = append(f.tasks, &cp)
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeTaskRepo) CompareAndSetDecision(id int64, status string, decision string, comment string, actorID int64, at time.Time) (bool, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			if t.Status != domain.TaskPending {
				return false, nil
			}
			t.Status = status
			t.Decision = sql.NullString{String: decision, Valid: true}
			t.Comment = sql.NullString{String: comment, Valid: comment != ""}
			t.CompletedAt = sql.NullTime{Time: at, Valid: true}
			t.CompletedBy = sql.NullInt64{Int64: actorID, Valid: true}
			return true, nil
		}
	}
	return false, sql.ErrNoRows
}

func (f *fakeTaskRepo) CompareAndSetStatus(id int64, from string, to string, at time.Time) (bool, error) {
	for _, t := range f.tasks {
		if t.ID == id {
			if t.Status != from {
				return false, nil
			}
			t.Status = to
			return true, nil
		}
	}
	return false, sql.ErrNoRows
}

func (f *fakeTaskRepo) FindByStage(submissionID int64, stageNumber int) (*[]domain.ApprovalTask, error) {
	var out []domain.ApprovalTask
	for _, t := range f.tasks {
		if t.SubmissionID == submissionID && t.StageNumber == stageNumber {
			out = append(out, *t)
		}
	}
	return &out, nil
}

func (f *fakeTaskRepo) FindBySubmission(submissionID int64) (*[]domain.ApprovalTask, error) {
	var out []domain.ApprovalTask
	for _, t := range f.tasks {
		if t.SubmissionID == submissionID {
			out = append(out, *t)
		}
	}
	return &out, nil
}

func (f *fakeTaskRepo) FindPendingByAssignee(assigneeID int64) (*[]domain.ApprovalTask, error) {
	var out []domain.ApprovalTask
	for _, t := range f.tasks {
		if t.AssigneeID == assigneeID && t.Status == domain.TaskPending {
			out = append(out, *t)
		}
	}
	return &out, nil
}

func (f *fakeTaskRepo) MarkSiblingsSuperseded(submissionID int64, stageNumber int, winnerTaskID int64, at time.Time) error {
	for _, t := range f.tasks {
		if t.SubmissionID == submissionID && t.StageNumber == stageNumber &&
			t.ID != winnerTaskID && t.Status == domain.TaskPending {
			t.Status = domain.TaskSuperseded
		}
	}
	return nil
}

func (f *fakeTaskRepo) FindOverduePending(limit int) (*[]domain.ApprovalTask, error) {
	var out []domain.ApprovalTask
	for _, t := range f.tasks {
		if t.Status == domain.TaskPending {
			out = append(out, *t)
			if len(out) == limit {
				break
			}
		}
	}
	return &out, nil
}

type fakeDefinitionRepo struct {
	defs map[int64]*domain.WorkflowDefinition // by form id
}

func (f *fakeDefinitionRepo) FindByFormID(formID int64) (*domain.WorkflowDefinition, error) {
	d, ok := f.defs[formID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return d, nil
}

type fakeAuditRepo struct {
	entries []domain.AuditEntry
}

func (f *fakeAuditRepo) Save(e *domain.AuditEntry) (int64, error) {
	f.entries = append(f.entries, *e)
	return int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) actions() []string {
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakeResolver struct {
	groups   map[int64][]domain.User
	managers map[int64]*domain.User
}

func (f *fakeResolver) ResolveGroup(groupID int64) ([]domain.User, error) {
	return f.groups[groupID], nil
}

func (f *fakeResolver) ManagerOf(userID int64) (*domain.User, error) {
	return f.managers[userID], nil
}

type fakeNotifier struct {
	received  int
	created   int
	escalated int
	approved  int
	rejected  int
}

func (f *fakeNotifier) SubmissionReceived(ctx context.Context, sub *domain.Submission) { f.received++ }
func (f *fakeNotifier) TaskCreated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission) {
	f.created++
}
func (f *fakeNotifier) TaskEscalated(ctx context.Context, task *domain.ApprovalTask, sub *domain.Submission) {
	f.escalated++
}
func (f *fakeNotifier) SubmissionApproved(ctx context.Context, sub *domain.Submission) { f.approved++ }
func (f *fakeNotifier) SubmissionRejected(ctx context.Context, sub *domain.Submission) { f.rejected++ }

type fakeActionRunner struct {
	triggers []string
	failOn   map[string]error
}

func (f *fakeActionRunner) Execute(ctx context.Context, sub *domain.Submission, trigger string) ([]domain.ActionResult, error) {
	f.triggers = append(f.triggers, trigger)
	if err := f.failOn[trigger]; err != nil {
		return nil, err
	}
	return nil, nil
}

type stubClock struct{ now time.Time }

func (c *stubClock) Now() time.Time                         { return c.now }
func (c *stubClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (c *stubClock) Sleep(d time.Duration)                  {}

type fixture struct {
	engine  *ApprovalEngine
	subs    *fakeSubmissionRepo
	tasks   *fakeTaskRepo
	defs    *fakeDefinitionRepo
	audit   *fakeAuditRepo
	res     *fakeResolver
	notes   *fakeNotifier
	actions *fakeActionRunner
	clock   *stubClock
}

func newFixture() *fixture {
	tasks := &fakeTaskRepo{}
	subs := &fakeSubmissionRepo{subs: map[int64]*domain.Submission{}, repo: tasks}
	defs := &fakeDefinitionRepo{defs: map[int64]*domain.WorkflowDefinition{}}
	audit := &fakeAuditRepo{}
	res := &fakeResolver{groups: map[int64][]domain.User{}, managers: map[int64]*domain.User{}}
	notes := &fakeNotifier{}
	runner := &fakeActionRunner{failOn: map[string]error{}}
	clock := &stubClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}

	eng := NewApprovalEngine(subs, tasks, defs, audit, res, notes, runner, nil, clock)
	return &fixture{engine: eng, subs: subs, tasks: tasks, defs: defs,
		audit: audit, res: res, notes: notes, actions: runner, clock: clock}
}

func (f *fixture) addSubmission(formID int64, submitterID int64) *domain.Submission {
	sub := &domain.Submission{
		FormID:      formID,
		SubmitterID: submitterID,
		Reference:   fmt.Sprintf("ref-%d", len(f.subs.subs)+1),
		Status:      domain.SubmissionSubmitted,
		Created:     f.clock.now,
	}
	_, _ = f.subs.Save(sub)
	return sub
}

func (f *fixture) pendingTasks(submissionID int64) []*domain.ApprovalTask {
	var out []*domain.ApprovalTask
	for _, t := range f.tasks.tasks {
		if t.SubmissionID == submissionID && t.Status == domain.TaskPending {
			out = append(out, t)
		}
	}
	return out
}

func (f *fixture) status(submissionID int64) string {
	return f.subs.subs[submissionID].Status
}

func stagedDefinition(formID int64, stages ...domain.WorkflowStage) *domain.WorkflowDefinition {
	return &domain.WorkflowDefinition{
		ID:               formID * 10,
		FormID:           formID,
		Mode:             domain.WorkflowModeStaged,
		RequiresApproval: true,
		Stages:           stages,
	}
}

func TestStartApprovalWithoutDefinitionApprovesImmediately(t *testing.T) {
	f := newFixture()
	sub := f.addSubmission(1, 100)

	err := f.engine.StartApproval(context.Background(), sub.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionApproved, f.status(sub.ID))
	assert.Equal(t, []string{domain.TriggerOnSubmit, domain.TriggerOnApprove, domain.TriggerOnComplete}, f.actions.triggers)
	assert.Equal(t, 1, f.notes.approved)
}

func TestStartApprovalCreatesTasksForFirstStageOnly(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.res.groups[20] = []domain.User{{ID: 3, Username: "carol"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
		domain.WorkflowStage{Name: "Finance", Order: 2, ApprovalLogic: domain.LogicAny, ApprovalGroupIDs: []int64{20}},
	)
	sub := f.addSubmission(1, 100)

	err := f.engine.StartApproval(context.Background(), sub.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))
	pending := f.pendingTasks(sub.ID)
	require.Len(t, pending, 2)
	for _, task := range pending {
		assert.Equal(t, 1, task.StageNumber)
		assert.Equal(t, domain.LogicAll, task.StageLogic)
	}
}

func TestStartApprovalNotSubmittedReturnsError(t *testing.T) {
	f := newFixture()
	sub := f.addSubmission(1, 100)
	f.subs.subs[sub.ID].Status = domain.SubmissionDraft

	err := f.engine.StartApproval(context.Background(), sub.ID)

	assert.ErrorIs(t, err, ErrSubmissionNotOpen)
}

func TestStartApprovalNoEligibleApprovers(t *testing.T) {
	f := newFixture()
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)

	err := f.engine.StartApproval(context.Background(), sub.ID)

	assert.ErrorIs(t, err, ErrNoEligibleApprovers)
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))
	assert.Contains(t, f.audit.actions(), "NO_APPROVERS")
}

func TestAnyLogicFirstApprovalSupersedesSiblingsAndAdvances(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.res.groups[20] = []domain.User{{ID: 3, Username: "carol"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAny, ApprovalGroupIDs: []int64{10}},
		domain.WorkflowStage{Name: "Finance", Order: 2, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{20}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	first := f.pendingTasks(sub.ID)[0]
	require.NoError(t, f.engine.RecordDecision(context.Background(), first.ID, first.AssigneeID, domain.DecisionApprove, "ok"))

	// Sibling quietly closed, stage 2 active.
	statuses := map[string]int{}
	for _, task := range f.tasks.tasks {
		statuses[task.Status]++
	}
	assert.Equal(t, 1, statuses[domain.TaskApproved])
	assert.Equal(t, 1, statuses[domain.TaskSuperseded])
	assert.Equal(t, 1, statuses[domain.TaskPending])
	assert.Equal(t, int64(3), f.pendingTasks(sub.ID)[0].AssigneeID)
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))
}

func TestAnyLogicRejectionWaitsForPendingSiblings(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAny, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.Len(t, pending, 2)

	// One approver rejects; the other can still satisfy the stage.
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, pending[0].AssigneeID, domain.DecisionReject, "no"))
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))

	// The remaining approver approves and the submission completes.
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[1].ID, pending[1].AssigneeID, domain.DecisionApprove, "yes"))
	assert.Equal(t, domain.SubmissionApproved, f.status(sub.ID))
}

func TestAnyLogicAllRejectedRejectsSubmission(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAny, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, pending[0].AssigneeID, domain.DecisionReject, ""))
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[1].ID, pending[1].AssigneeID, domain.DecisionReject, ""))

	assert.Equal(t, domain.SubmissionRejected, f.status(sub.ID))
	assert.Equal(t, 1, f.notes.rejected)
}

func TestAllLogicRejectionWaitsForEverySibling(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.Len(t, pending, 2)

	// A rejection with a sibling still pending must not reject the submission.
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, pending[0].AssigneeID, domain.DecisionReject, "no"))
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))

	// Once the last sibling decides, the recorded rejection takes effect.
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[1].ID, pending[1].AssigneeID, domain.DecisionApprove, "yes"))
	assert.Equal(t, domain.SubmissionRejected, f.status(sub.ID))
}

func TestAllLogicEveryApprovalAdvances(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, pending[0].AssigneeID, domain.DecisionApprove, ""))
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[1].ID, pending[1].AssigneeID, domain.DecisionApprove, ""))
	assert.Equal(t, domain.SubmissionApproved, f.status(sub.ID))
}

func TestSequenceLogicOneTaskAtATimeInGroupOrder(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "carol"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Chain", Order: 1, ApprovalLogic: domain.LogicSequence, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].AssigneeID)

	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, 1, domain.DecisionApprove, ""))
	pending = f.pendingTasks(sub.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].AssigneeID)

	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, 2, domain.DecisionApprove, ""))
	pending = f.pendingTasks(sub.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(3), pending[0].AssigneeID)

	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, 3, domain.DecisionApprove, ""))
	assert.Equal(t, domain.SubmissionApproved, f.status(sub.ID))
}

func TestSequenceLogicRejectionIsImmediate(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Chain", Order: 1, ApprovalLogic: domain.LogicSequence, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.NoError(t, f.engine.RecordDecision(context.Background(), pending[0].ID, 1, domain.DecisionReject, "no"))
	assert.Equal(t, domain.SubmissionRejected, f.status(sub.ID))
}

func TestRecordDecisionTwiceReturnsTaskNotPending(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	task := f.pendingTasks(sub.ID)[0]
	require.NoError(t, f.engine.RecordDecision(context.Background(), task.ID, task.AssigneeID, domain.DecisionApprove, ""))

	err := f.engine.RecordDecision(context.Background(), task.ID, task.AssigneeID, domain.DecisionApprove, "")
	assert.ErrorIs(t, err, ErrTaskNotPending)
}

func TestManagerApprovalTaskComesFirst(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}}
	f.res.managers[100] = &domain.User{ID: 50, Username: "boss"}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicSequence,
			RequiresManagerApproval: true, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	pending := f.pendingTasks(sub.ID)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(50), pending[0].AssigneeID)
}

func TestTwoStageAnyThenAllFullWalk(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}}
	f.res.groups[20] = []domain.User{{ID: 3, Username: "carol"}, {ID: 4, Username: "dave"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAny, ApprovalGroupIDs: []int64{10}},
		domain.WorkflowStage{Name: "Finance", Order: 2, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{20}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	stage1 := f.pendingTasks(sub.ID)
	require.NoError(t, f.engine.RecordDecision(context.Background(), stage1[0].ID, stage1[0].AssigneeID, domain.DecisionApprove, ""))

	stage2 := f.pendingTasks(sub.ID)
	require.Len(t, stage2, 2)
	for _, task := range stage2 {
		assert.Equal(t, 2, task.StageNumber)
	}

	require.NoError(t, f.engine.RecordDecision(context.Background(), stage2[0].ID, stage2[0].AssigneeID, domain.DecisionApprove, ""))
	require.NoError(t, f.engine.RecordDecision(context.Background(), stage2[1].ID, stage2[1].AssigneeID, domain.DecisionApprove, ""))
	assert.Equal(t, domain.SubmissionApproved, f.status(sub.ID))
	assert.Equal(t, 1, f.notes.approved)
}

func TestBlockingOnApproveActionKeepsSubmissionInReview(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
	)
	f.actions.failOn[domain.TriggerOnApprove] = fmt.Errorf("provisioning endpoint down")
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	task := f.pendingTasks(sub.ID)[0]
	err := f.engine.RecordDecision(context.Background(), task.ID, task.AssigneeID, domain.DecisionApprove, "")

	require.Error(t, err)
	assert.Equal(t, domain.SubmissionInReview, f.status(sub.ID))
}

func TestWithdrawOnlyBySubmitterWhileOpen(t *testing.T) {
	f := newFixture()
	f.res.groups[10] = []domain.User{{ID: 1, Username: "alice"}}
	f.defs.defs[1] = stagedDefinition(1,
		domain.WorkflowStage{Name: "Review", Order: 1, ApprovalLogic: domain.LogicAll, ApprovalGroupIDs: []int64{10}},
	)
	sub := f.addSubmission(1, 100)
	require.NoError(t, f.engine.StartApproval(context.Background(), sub.ID))

	err := f.engine.Withdraw(context.Background(), sub.ID, 999)
	assert.ErrorIs(t, err, ErrNotSubmitter)

	require.NoError(t, f.engine.Withdraw(context.Background(), sub.ID, 100))
	assert.Equal(t, domain.SubmissionWithdrawn, f.status(sub.ID))
	assert.Empty(t, f.pendingTasks(sub.ID))

	err = f.engine.Withdraw(context.Background(), sub.ID, 100)
	assert.ErrorIs(t, err, ErrSubmissionNotOpen)
}

func TestValidateDefinitionRejectsBadStageOrder(t *testing.T) {
	cases := []struct {
		name   string
		stages []domain.WorkflowStage
	}{
		{"duplicate order", []domain.WorkflowStage{
			{Name: "a", Order: 1, ApprovalLogic: domain.LogicAll},
			{Name: "b", Order: 1, ApprovalLogic: domain.LogicAll},
		}},
		{"non positive order", []domain.WorkflowStage{
			{Name: "a", Order: 0, ApprovalLogic: domain.LogicAll},
		}},
		{"unknown logic", []domain.WorkflowStage{
			{Name: "a", Order: 1, ApprovalLogic: "majority"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := &domain.WorkflowDefinition{Stages: tc.stages}
			err := ValidateDefinition(def)
			var cfgErr *StageConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestMaterializeStagesFlatDefinition(t *testing.T) {
	def := &domain.WorkflowDefinition{
		ID:                   5,
		Mode:                 domain.WorkflowModeFlat,
		ApprovalLogic:        domain.LogicAny,
		FlatApprovalGroupIDs: []int64{10, 20},
	}
	stages := MaterializeStages(def)
	require.Len(t, stages, 1)
	assert.Equal(t, 1, stages[0].Order)
	assert.Equal(t, domain.LogicAny, stages[0].ApprovalLogic)
	assert.Equal(t, []int64{10, 20}, stages[0].ApprovalGroupIDs)
}
