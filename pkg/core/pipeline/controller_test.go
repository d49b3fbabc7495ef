package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caseconnect/casa-cli/pkg/core/model"
)

// mockActionClient implements ActionClient for testing
type mockActionClient struct {
	mu      sync.Mutex
	calls   []ActionRequest
	updated *model.Volunteer
	err     error
	started chan struct{} // closed-ish signal: one send per call start
	release chan struct{} // blocks the call until closed
}

func (m *mockActionClient) PipelineAction(ctx context.Context, volunteerID string, req ActionRequest) (*model.Volunteer, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.updated, nil
}

func (m *mockActionClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockSessionGuard implements SessionGuard for testing
type mockSessionGuard struct {
	err error
}

func (m *mockSessionGuard) EnsureValid(ctx context.Context) error {
	return m.err
}

func newTestController(client *mockActionClient, guard *mockSessionGuard) *Controller {
	return NewController(client, guard, zap.NewNop())
}

func TestInvoke_StartBackgroundCheck(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	applicant := model.Volunteer{
		ID:              "v1",
		FirstName:       "Ana",
		VolunteerStatus: model.StatusApplied,
		TrainingStatus:  model.TrainingNotStarted,
	}

	updated, err := controller.Invoke(context.Background(), applicant, ActionStartBackgroundCheck, ActionInput{})

	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.StatusBackgroundCheck, updated.VolunteerStatus)
	assert.Equal(t, model.CheckPending, updated.BackgroundCheckStatus)
	// nothing else changes
	assert.Equal(t, applicant.ID, updated.ID)
	assert.Equal(t, applicant.FirstName, updated.FirstName)
	assert.Equal(t, applicant.TrainingStatus, updated.TrainingStatus)
	assert.Empty(t, updated.RejectionReason)
	assert.Equal(t, 1, client.callCount())
}

func TestInvoke_PrefersBackendRecord(t *testing.T) {
	fromBackend := &model.Volunteer{
		ID:                    "v1",
		VolunteerStatus:       model.StatusBackgroundCheck,
		BackgroundCheckStatus: model.CheckPending,
		BackgroundCheckedAt:   "2026-08-01",
	}
	client := &mockActionClient{updated: fromBackend}
	controller := newTestController(client, &mockSessionGuard{})

	updated, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied},
		ActionStartBackgroundCheck, ActionInput{})

	require.NoError(t, err)
	assert.Equal(t, fromBackend, updated)
}

func TestInvoke_RejectWithoutReasonFailsBeforeNetwork(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	_, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied},
		ActionRejectApplication, ActionInput{})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, client.callCount())
}

func TestInvoke_FailBackgroundCheckWithEmptyReason(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	_, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v2", VolunteerStatus: model.StatusBackgroundCheck},
		ActionFailBackgroundCheck, ActionInput{RejectionReason: "   "})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, client.callCount())
}

func TestInvoke_RejectApplicationSetsReason(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	updated, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusTraining},
		ActionRejectApplication, ActionInput{RejectionReason: "withdrew from training"})

	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, updated.VolunteerStatus)
	assert.Equal(t, "withdrew from training", updated.RejectionReason)

	require.Equal(t, 1, client.callCount())
	assert.Equal(t, "withdrew from training", client.calls[0].RejectionReason)
	assert.NotEmpty(t, client.calls[0].RequestID)
}

func TestInvoke_CompleteTrainingKeepsStatus(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	updated, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusTraining, TrainingStatus: model.TrainingInProgress},
		ActionCompleteTraining, ActionInput{})

	require.NoError(t, err)
	assert.Equal(t, model.StatusTraining, updated.VolunteerStatus)
	assert.Equal(t, model.TrainingCompleted, updated.TrainingStatus)
}

func TestInvoke_ApproveVolunteerRequiresCompletedTraining(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	for _, status := range []model.VolunteerStatus{model.StatusTraining, model.StatusApplied, model.StatusBackgroundCheck} {
		_, err := controller.Invoke(context.Background(),
			model.Volunteer{ID: "v1", VolunteerStatus: status, TrainingStatus: model.TrainingInProgress},
			ActionApproveVolunteer, ActionInput{})

		require.Error(t, err, "status %s", status)
		assert.True(t, IsValidation(err))
	}
	assert.Equal(t, 0, client.callCount())
}

func TestInvoke_ApproveVolunteerAfterTraining(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	updated, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusTraining, TrainingStatus: model.TrainingCompleted},
		ActionApproveVolunteer, ActionInput{})

	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, updated.VolunteerStatus)
	assert.Equal(t, 1, client.callCount())
}

func TestInvoke_ActionNotLegalForStatus(t *testing.T) {
	client := &mockActionClient{}
	controller := newTestController(client, &mockSessionGuard{})

	_, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied},
		ActionCompleteTraining, ActionInput{})

	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, client.callCount())
}

func TestInvoke_SessionExpiredBeforeNetwork(t *testing.T) {
	client := &mockActionClient{}
	guard := &mockSessionGuard{err: assert.AnError}
	controller := newTestController(client, guard)

	_, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied},
		ActionStartBackgroundCheck, ActionInput{})

	require.Error(t, err)
	assert.True(t, IsSessionExpired(err))
	assert.Equal(t, 0, client.callCount())
}

func TestInvoke_ForbiddenLeavesVolunteerUnchanged(t *testing.T) {
	client := &mockActionClient{err: NewForbiddenError("role mismatch")}
	controller := newTestController(client, &mockSessionGuard{})

	before := model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied}
	passed := before

	updated, err := controller.Invoke(context.Background(), passed, ActionStartBackgroundCheck, ActionInput{})

	require.Error(t, err)
	assert.True(t, IsForbidden(err))
	assert.Nil(t, updated)
	assert.Equal(t, before, passed)
}

func TestInvoke_SecondActionOnSameVolunteerIsRejected(t *testing.T) {
	client := &mockActionClient{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	controller := newTestController(client, &mockSessionGuard{})

	volunteer := model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied}

	firstDone := make(chan error, 1)
	go func() {
		_, err := controller.Invoke(context.Background(), volunteer, ActionStartBackgroundCheck, ActionInput{})
		firstDone <- err
	}()

	// wait until the first call reached the backend
	select {
	case <-client.started:
	case <-time.After(time.Second):
		t.Fatal("first action never reached the backend")
	}

	_, err := controller.Invoke(context.Background(), volunteer, ActionStartBackgroundCheck, ActionInput{})
	require.Error(t, err)
	assert.True(t, IsConcurrentAction(err))
	assert.True(t, controller.InFlight("v1"))
	assert.Equal(t, 1, client.callCount())

	close(client.release)
	require.NoError(t, <-firstDone)

	// after the first resolves, a new action for the same id dispatches
	client.started = nil
	client.release = nil
	_, err = controller.Invoke(context.Background(), volunteer, ActionStartBackgroundCheck, ActionInput{})
	require.NoError(t, err)
	assert.False(t, controller.InFlight("v1"))
	assert.Equal(t, 2, client.callCount())
}

func TestInvoke_LockReleasedAfterFailure(t *testing.T) {
	client := &mockActionClient{err: NewBackendError("boom", nil)}
	controller := newTestController(client, &mockSessionGuard{})

	volunteer := model.Volunteer{ID: "v1", VolunteerStatus: model.StatusApplied}

	_, err := controller.Invoke(context.Background(), volunteer, ActionStartBackgroundCheck, ActionInput{})
	require.Error(t, err)
	assert.True(t, IsBackend(err))
	assert.False(t, controller.InFlight("v1"))

	// retry goes through
	client.err = nil
	_, err = controller.Invoke(context.Background(), volunteer, ActionStartBackgroundCheck, ActionInput{})
	require.NoError(t, err)
}

func TestInvoke_DifferentVolunteersAreIndependent(t *testing.T) {
	client := &mockActionClient{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	controller := newTestController(client, &mockSessionGuard{})

	done := make(chan error, 2)
	for _, id := range []string{"v1", "v2"} {
		go func(id string) {
			_, err := controller.Invoke(context.Background(),
				model.Volunteer{ID: id, VolunteerStatus: model.StatusApplied},
				ActionStartBackgroundCheck, ActionInput{})
			done <- err
		}(id)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-client.started:
		case <-time.After(time.Second):
			t.Fatal("both actions should dispatch concurrently")
		}
	}

	close(client.release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, 2, client.callCount())
}

func TestInvoke_SupervisorApprovesTrainedVolunteer(t *testing.T) {
	// the full success path of the approval scenario: trained volunteer,
	// backend echoes the activated record
	activated := &model.Volunteer{ID: "v1", VolunteerStatus: model.StatusActive, TrainingStatus: model.TrainingCompleted}
	client := &mockActionClient{updated: activated}
	controller := newTestController(client, &mockSessionGuard{})

	updated, err := controller.Invoke(context.Background(),
		model.Volunteer{ID: "v1", VolunteerStatus: model.StatusTraining, TrainingStatus: model.TrainingCompleted},
		ActionApproveVolunteer, ActionInput{})

	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, updated.VolunteerStatus)
	require.Equal(t, 1, client.callCount())
	assert.Equal(t, ActionApproveVolunteer, client.calls[0].Action)
}
