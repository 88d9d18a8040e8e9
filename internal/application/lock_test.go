package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExclusive_RefusedWhileHeld(t *testing.T) {
	lock := &domain.MockLock{}
	release, err := lock.TryLock("orders")
	require.NoError(t, err)

	called := false
	err = Exclusive(lock, "orders", func() error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.False(t, called)

	release()
	assert.NoError(t, Exclusive(lock, "orders", func() error { return nil }))
}

func TestExclusive_ReleasesAfterError(t *testing.T) {
	lock := &domain.MockLock{}
	boom := errors.New("boom")

	assert.ErrorIs(t, Exclusive(lock, "orders", func() error { return boom }), boom)
	assert.NoError(t, Exclusive(lock, "orders", func() error { return nil }))
}

func TestExclusive_BlocksPipelineRun(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator(&domain.MockFetcher{Body: "up"}, &instantTimer{}, time.Minute)

	var rep domain.RunReport
	err := Exclusive(h.lock, "orders", func() error {
		rep = o.Run(context.Background(), RunRequest{Job: "orders", Branch: "feature/x", BuildNumber: 9, Artifact: h.artifact(t, "orders-9.jar")})
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StateRefused, rep.State)
	assert.ErrorIs(t, rep.Err, domain.ErrRunInProgress)
	assert.Empty(t, h.remote.Processes)
}
