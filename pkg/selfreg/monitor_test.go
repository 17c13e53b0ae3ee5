package selfreg

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

func newTestMonitor(t *testing.T) *Monitor {
	t.Helper()
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewMonitor(NewMemoryStore(), log)
}

func announcement(externalID, accountID, orgID string) Registration {
	return Registration{
		ExternalID:     externalID,
		AccountID:      accountID,
		RoleARN:        "arn:aws:iam::" + accountID + ":role/analysis",
		Region:         "us-east-1",
		OrganizationID: orgID,
	}
}

func waitOutcome(t *testing.T, w *Watch) Outcome {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not end in time")
	}
	return w.Outcome()
}

func TestWatchCompletesOnOrganizationSignal(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	w, err := m.Watch(ctx, "ext-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Announce(ctx, announcement("ext-1", "222222222222", "")))
	require.NoError(t, m.Announce(ctx, announcement("ext-1", "333333333333", "o-abc123")))

	assert.Equal(t, OutcomeOrganizationDetected, waitOutcome(t, w))

	var streamed []orgmodel.RegisteredAccount
	for acct := range w.Events() {
		streamed = append(streamed, acct)
	}
	require.Len(t, streamed, 2)
	assert.Equal(t, "222222222222", streamed[0].AccountID)
	assert.Equal(t, orgmodel.RegistrationSelf, streamed[0].RegistrationType)
	assert.Equal(t, "o-abc123", streamed[1].OrganizationID)
}

func TestWatchTimesOutWithPartialSet(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	w, err := m.Watch(ctx, "ext-1", 30*time.Millisecond)
	require.NoError(t, err)

	// No organization id: the propagation signal never fires.
	require.NoError(t, m.Announce(ctx, announcement("ext-1", "222222222222", "")))

	assert.Equal(t, OutcomeTimedOut, waitOutcome(t, w))
	assert.Len(t, w.Accepted(), 1)
}

func TestDuplicateAnnouncementIsIdempotent(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	w, err := m.Watch(ctx, "ext-1", time.Minute)
	require.NoError(t, err)
	defer w.Cancel()

	require.NoError(t, m.Announce(ctx, announcement("ext-1", "222222222222", "")))
	require.NoError(t, m.Announce(ctx, announcement("ext-1", "222222222222", "")))

	assert.Len(t, w.Accepted(), 1)
}

func TestAnnouncementWithWrongExternalIDRejected(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	w, err := m.Watch(ctx, "ext-1", time.Minute)
	require.NoError(t, err)
	defer w.Cancel()

	err = m.Announce(ctx, announcement("ext-other", "222222222222", ""))
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Empty(t, w.Accepted())
}

func TestAnnouncementRequiresFields(t *testing.T) {
	m := newTestMonitor(t)
	err := m.Announce(context.Background(), Registration{ExternalID: "ext-1"})
	require.Error(t, err)
	err = m.Announce(context.Background(), Registration{AccountID: "222222222222"})
	require.Error(t, err)
}

func TestWatchNotRestartable(t *testing.T) {
	m := newTestMonitor(t)
	ctx := context.Background()

	w, err := m.Watch(ctx, "ext-1", time.Minute)
	require.NoError(t, err)
	w.Cancel()
	assert.Equal(t, OutcomeCancelled, waitOutcome(t, w))

	_, err = m.Watch(ctx, "ext-1", time.Minute)
	assert.ErrorIs(t, err, ErrSessionExists)

	err = m.Announce(ctx, announcement("ext-1", "222222222222", ""))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestWatchCancel(t *testing.T) {
	m := newTestMonitor(t)

	w, err := m.Watch(context.Background(), "ext-1", time.Hour)
	require.NoError(t, err)

	w.Cancel()
	w.Cancel() // idempotent
	assert.Equal(t, OutcomeCancelled, waitOutcome(t, w))

	_, ok := m.Lookup("ext-1")
	assert.False(t, ok)
}

func TestNewExternalIDIsUnique(t *testing.T) {
	a := NewExternalID()
	b := NewExternalID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
