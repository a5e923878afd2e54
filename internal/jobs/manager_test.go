package jobs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sshtomar/llm-txt/internal/generator"
	storememory "github.com/sshtomar/llm-txt/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

func validRequest() generator.JobRequest {
	return generator.JobRequest{
		URL:      "https://example.com/docs",
		MaxPages: 10,
		MaxDepth: 3,
		MaxKB:    50,
	}
}

func newManager(t *testing.T) (*Manager, *storememory.Store) {
	t.Helper()
	st := storememory.New()
	m := NewManager(st, fixedClock{t: time.Unix(1700000000, 0)}, &seqIDs{}, 5, zap.NewNop())
	return m, st
}

func TestCreateAndGet(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()

	job, err := m.Create(ctx, validRequest())
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, generator.JobStatePending, job.State)

	view, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, generator.JobStatePending, view.Status)
	require.Equal(t, generator.PhaseInitializing, view.CurrentPhase)

	// Pending status must already be mirrored to the store.
	raw, err := st.GetStatus(ctx, job.ID)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"status":"pending"`)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	m, _ := newManager(t)
	req := validRequest()
	req.MaxPages = 0
	_, err := m.Create(context.Background(), req)
	require.Error(t, err)
}

func TestGetUnknownJob(t *testing.T) {
	m, _ := newManager(t)
	_, err := m.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestProgressMonotonic(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	job, err := m.Create(ctx, validRequest())
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, job.ID))

	m.Report(ctx, job.ID, 0.5, nil)
	m.Report(ctx, job.ID, 0.3, nil) // must not regress
	m.Report(ctx, job.ID, 0.7, nil)
	m.Report(ctx, job.ID, 5.0, nil) // clamped to 1

	view, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 1.0, view.Progress)
}

func TestReportCounters(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	job, _ := m.Create(ctx, validRequest())
	require.NoError(t, m.Start(ctx, job.ID))

	m.Report(ctx, job.ID, 0.2, func(p *generator.Progress) {
		p.PagesDiscovered = 7
		p.PagesProcessed = 3
		p.CurrentPageURL = "https://example.com/docs/a"
	})
	view, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 7, view.PagesDiscovered)
	require.Equal(t, 3, view.PagesProcessed)
	require.NotNil(t, view.CurrentPageURL)
	require.Equal(t, "https://example.com/docs/a", *view.CurrentPageURL)
}

func TestLogRingBounded(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	job, _ := m.Create(ctx, validRequest())

	for i := 0; i < 12; i++ {
		m.Log(ctx, job.ID, fmt.Sprintf("line %d", i))
	}
	view, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, view.ProcessingLogs, 5)
	require.Equal(t, "line 7", view.ProcessingLogs[0])
	require.Equal(t, "line 11", view.ProcessingLogs[4])
}

func TestLifecycleTransitions(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	job, _ := m.Create(ctx, validRequest())

	require.NoError(t, m.Start(ctx, job.ID))
	require.NoError(t, m.Complete(ctx, job.ID, "/v1/generations/job-1/download/llm.txt", "", 42.5))

	view, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, generator.JobStateCompleted, view.Status)
	require.NotNil(t, view.CompletedAt)
	require.Equal(t, 42.5, view.TotalSizeKB)
	require.NotNil(t, view.LLMTxtURL)

	// Terminal states are absorbing.
	require.ErrorIs(t, m.Fail(ctx, job.ID, CodeInternal, "nope"), ErrAlreadyTerminal)
	require.ErrorIs(t, m.Cancelled(ctx, job.ID), ErrAlreadyTerminal)
}

func TestCancelFlow(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()
	job, _ := m.Create(ctx, validRequest())
	require.NoError(t, m.Start(ctx, job.ID))

	require.False(t, m.CancelRequested(job.ID))
	require.NoError(t, m.Cancel(ctx, job.ID))
	require.True(t, m.CancelRequested(job.ID))

	require.NoError(t, m.Cancelled(ctx, job.ID))
	require.ErrorIs(t, m.Cancel(ctx, job.ID), ErrAlreadyTerminal)
}

func TestCancelUnknownJob(t *testing.T) {
	m, _ := newManager(t)
	require.ErrorIs(t, m.Cancel(context.Background(), "missing"), ErrNotFound)
}

func TestDownloadLifecycle(t *testing.T) {
	m, st := newManager(t)
	ctx := context.Background()
	job, _ := m.Create(ctx, validRequest())
	require.NoError(t, m.Start(ctx, job.ID))

	_, err := m.Download(ctx, job.ID, generator.ArtifactLLMTxt)
	require.ErrorIs(t, err, ErrNotReady)

	// Blobs first, then the status flip: the store-consistency contract.
	_, err = st.PutArtifact(ctx, job.ID, generator.ArtifactLLMTxt, []byte("# Docs"))
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, job.ID, "/v1/generations/job-1/download/llm.txt", "", 1))

	data, err := m.Download(ctx, job.ID, generator.ArtifactLLMTxt)
	require.NoError(t, err)
	require.Equal(t, "# Docs", string(data))

	_, err = m.Download(ctx, "missing", generator.ArtifactLLMTxt)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRingSnapshotOrder(t *testing.T) {
	r := newRing(3)
	r.append("a")
	require.Equal(t, []string{"a"}, r.snapshot())
	r.append("b")
	r.append("c")
	r.append("d")
	require.Equal(t, []string{"b", "c", "d"}, r.snapshot())
}
