package runstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".agent-cloud", FileName)
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestSaveLoadDelete(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 5, 4, 10, 30, 0, 123, time.UTC)

	require.NoError(t, s.Save(ctx, Run{
		ID:          "run-1",
		Cloud:       cloud.GCP,
		ProjectPath: "/app",
		CreatedAt:   created,
		State:       []byte(`{"plan":{"services":["Cloud Run"]}}`),
	}))

	got, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, cloud.GCP, got.Cloud)
	assert.Equal(t, "/app", got.ProjectPath)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.JSONEq(t, `{"plan":{"services":["Cloud Run"]}}`, string(got.State))

	require.NoError(t, s.Delete(ctx, "run-1"))
	_, err = s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "run-1"), ErrNotFound)
}

func TestList_OrderedByCreation(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, s.Save(ctx, Run{ID: "b", Cloud: cloud.AWS, ProjectPath: "/b", CreatedAt: base.Add(time.Minute), State: []byte(`{}`)}))
	require.NoError(t, s.Save(ctx, Run{ID: "a", Cloud: cloud.Azure, ProjectPath: "/a", CreatedAt: base, State: []byte(`{}`)}))

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestReopenKeepsRuns(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Run{ID: "persisted", Cloud: cloud.AWS, ProjectPath: "/p", State: []byte(`{}`)}))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	run, err := again.Load(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "/p", run.ProjectPath)
}

func TestSave_RequiresID(t *testing.T) {
	s, _ := openTestStore(t)
	assert.Error(t, s.Save(context.Background(), Run{}))
}
