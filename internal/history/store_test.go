package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcloud/cloud-agent/internal/cloud"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(t.TempDir())
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("rec-%03d", seq)
	}
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestAddDeployment_AssignsIdentity(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.AddDeployment(NewRecord{Cloud: cloud.AWS, ProjectPath: "/app", Success: false})
	require.NoError(t, err)

	assert.Equal(t, "rec-001", rec.ID)
	assert.Equal(t, "2025-03-01T12:00:00Z", rec.Timestamp)
	assert.NotNil(t, rec.Resources)
	assert.Empty(t, rec.Resources)
}

func TestAddDeployment_EvictsOldestFirst(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < MaxDeployments+1; i++ {
		// The first record is the cheapest and fastest; eviction must still pick it.
		cost := float64(i + 1)
		duration := int64(i + 1)
		_, err := s.AddDeployment(NewRecord{Cloud: cloud.GCP, Success: true, Cost: &cost, Duration: &duration})
		require.NoError(t, err)
	}

	deployments := s.Deployments()
	require.Len(t, deployments, MaxDeployments)
	assert.Equal(t, "rec-002", deployments[0].ID)
	assert.Equal(t, "rec-051", deployments[len(deployments)-1].ID)

	_, found := s.Find("rec-001")
	assert.False(t, found)
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.AddDeployment(NewRecord{Cloud: cloud.Azure, ProjectPath: dir, Success: true, DeploymentURL: "https://app.example"})
	require.NoError(t, err)

	reopened := NewStore(dir)
	last, ok := reopened.Last()
	require.True(t, ok)
	assert.Equal(t, "https://app.example", last.DeploymentURL)
	assert.Equal(t, filepath.Join(dir, ".agent-cloud", "config.json"), reopened.Path())

	data, err := os.ReadFile(reopened.Path())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "1.0.0", doc["version"])
	assert.Contains(t, doc, "deployments")
	assert.Contains(t, doc, "preferences")
}

func TestStore_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DirName, FileName), []byte("{not json"), 0o600))

	s := NewStore(dir)
	assert.Empty(t, s.Deployments())
	assert.Equal(t, filepath.Base(dir), s.Document().ProjectName)
}

func TestQueries(t *testing.T) {
	s := newTestStore(t)
	add := func(c cloud.Cloud, ok bool) {
		_, err := s.AddDeployment(NewRecord{Cloud: c, Success: ok})
		require.NoError(t, err)
	}
	add(cloud.AWS, true)
	add(cloud.AWS, false)
	add(cloud.GCP, true)

	assert.Len(t, s.DeploymentsByCloud(cloud.AWS), 2)
	assert.Len(t, s.DeploymentsByCloud(cloud.Azure), 0)
	assert.Len(t, s.Successful(), 2)
	assert.Len(t, s.Failed(), 1)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, cloud.GCP, last.Cloud)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	empty := s.Stats()
	assert.Equal(t, 0, empty.Total)
	assert.Equal(t, 0.0, empty.AverageDuration)
	assert.Equal(t, map[cloud.Cloud]int{cloud.AWS: 0, cloud.GCP: 0, cloud.Azure: 0}, empty.ByCloud)

	inputs := []NewRecord{
		{Cloud: cloud.AWS, Success: true, Cost: lo.ToPtr(45.0), Duration: lo.ToPtr(int64(1000))},
		{Cloud: cloud.AWS, Success: false, Duration: lo.ToPtr(int64(3000))},
		{Cloud: cloud.Azure, Success: true, Cost: lo.ToPtr(12.5)},
		{Cloud: cloud.GCP, Success: false, Cost: lo.ToPtr(0.0), Duration: lo.ToPtr(int64(0))},
	}
	for _, in := range inputs {
		_, err := s.AddDeployment(in)
		require.NoError(t, err)
	}

	stats := s.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, map[cloud.Cloud]int{cloud.AWS: 2, cloud.GCP: 1, cloud.Azure: 1}, stats.ByCloud)
	assert.InDelta(t, 57.5, stats.TotalCost, 1e-9)
	assert.InDelta(t, 2000.0, stats.AverageDuration, 1e-9)

	assert.Equal(t, stats, s.Stats())
}

func TestPreferences(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	require.NoError(t, s.SetDefaultCloud(cloud.GCP))
	require.NoError(t, s.SetAutoApprove(true))
	require.NoError(t, s.SetPreferredRegion(cloud.AWS, "eu-central-1"))
	require.NoError(t, s.SetLogLevel("debug"))
	assert.Error(t, s.SetDefaultCloud("oracle"))

	reopened := NewStore(dir)
	c, ok := reopened.DefaultCloud()
	assert.True(t, ok)
	assert.Equal(t, cloud.GCP, c)
	assert.True(t, reopened.AutoApprove())
	assert.Equal(t, "eu-central-1", reopened.PreferredRegion(cloud.AWS))
	assert.Equal(t, "", reopened.PreferredRegion(cloud.Azure))
	assert.Equal(t, "debug", reopened.LogLevel())
}

func TestClearHistoryKeepsPreferences(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetDefaultCloud(cloud.Azure))
	_, err := s.AddDeployment(NewRecord{Cloud: cloud.Azure, Success: true})
	require.NoError(t, err)

	require.NoError(t, s.ClearHistory())
	assert.Empty(t, s.Deployments())
	c, _ := s.DefaultCloud()
	assert.Equal(t, cloud.Azure, c)
}

func TestExportImport(t *testing.T) {
	src := newTestStore(t)
	_, err := src.AddDeployment(NewRecord{Cloud: cloud.AWS, Success: true, DeploymentURL: "http://x"})
	require.NoError(t, err)

	data, err := src.Export()
	require.NoError(t, err)

	dst := NewStore(t.TempDir())
	require.NoError(t, dst.Import(data))
	require.Len(t, dst.Deployments(), 1)
	assert.Equal(t, "http://x", dst.Deployments()[0].DeploymentURL)

	assert.Error(t, dst.Import([]byte(`{"deployments":[]}`)))
	assert.Error(t, dst.Import([]byte(`{"version":"1.0.0","deployments":[{"id":"a","cloud":"heroku"}]}`)))
	assert.Error(t, dst.Import([]byte(`nope`)))
	assert.Len(t, dst.Deployments(), 1)
}
