package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gitlab.com/yelinaung/finsync/internal/models"
	"gitlab.com/yelinaung/finsync/internal/provider"
	"gitlab.com/yelinaung/finsync/internal/sync"
)

type countingConnStore struct {
	listCalls atomic.Int32
	listed    chan struct{}
}

func (s *countingConnStore) Upsert(context.Context, *models.Connection) error { return nil }

func (s *countingConnStore) GetByExternalID(context.Context, models.Provider, string) (*models.Connection, error) {
	return nil, nil
}

func (s *countingConnStore) ListActive(context.Context) ([]models.Connection, error) {
	if s.listCalls.Add(1) == 1 {
		close(s.listed)
	}
	return nil, nil
}

func (s *countingConnStore) UpdateStatus(context.Context, int, models.ConnectionStatus, string) error {
	return nil
}

func (s *countingConnStore) MarkSynced(context.Context, int, time.Time) error { return nil }

func (s *countingConnStore) Delete(context.Context, int) error { return nil }

func TestNew(t *testing.T) {
	t.Parallel()

	p := New(nil, &countingConnStore{listed: make(chan struct{})}, 0)
	require.Equal(t, 6*time.Hour, p.interval)

	p = New(nil, &countingConnStore{listed: make(chan struct{})}, time.Minute)
	require.Equal(t, time.Minute, p.interval)
}

func TestPoller_Start(t *testing.T) {
	t.Parallel()

	t.Run("runs one pass immediately and stops on cancel", func(t *testing.T) {
		t.Parallel()
		store := &countingConnStore{listed: make(chan struct{})}
		svc := sync.NewService(provider.NewFacade(), store, nil, nil, nil, nil, sync.Options{})
		p := New(svc, store, time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			p.Start(ctx)
			close(done)
		}()

		select {
		case <-store.listed:
		case <-time.After(time.Second):
			t.Fatal("poller never ran its first pass")
		}

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("poller did not stop after cancellation")
		}

		require.Equal(t, int32(1), store.listCalls.Load())
	})
}
