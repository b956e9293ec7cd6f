package deploy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnalysis_DefaultIsExact(t *testing.T) {
	for _, text := range []string{"", "sorry, no idea", "```json\n{\"projectType\": \"web\",\n```", "null", "```json\nnull\n```", "{}", `{"runtime":"python"}`} {
		a, err := ParseAnalysis(text)
		require.Error(t, err)

		data, mErr := json.Marshal(a)
		require.NoError(t, mErr)
		assert.Equal(t, `{"projectType":"api","runtime":"node","framework":"express","databases":[]}`, string(data))
	}
}

func TestParseAnalysis_NoMergeWithDefault(t *testing.T) {
	a, err := ParseAnalysis("```json\n{\"projectType\":\"static\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "static", a.ProjectType)
	assert.Empty(t, a.Runtime)
	assert.Empty(t, a.Framework)
	assert.Equal(t, []string{}, a.Databases)
	assert.True(t, a.IsStatic())
}

func TestParseAnalysis_Port(t *testing.T) {
	a, err := ParseAnalysis(`{"projectType":"api","runtime":"python","framework":"fastapi","databases":["postgresql"],"hasDocker":true,"port":8000}`)
	require.NoError(t, err)
	assert.Equal(t, 8000, a.Port)
	assert.True(t, a.HasDocker)
	assert.False(t, a.IsStatic())
}

func TestParsePlan_DefaultIsExact(t *testing.T) {
	p, err := ParsePlan("I cannot produce a plan", "aws")
	require.Error(t, err)

	data, mErr := json.Marshal(p)
	require.NoError(t, mErr)
	assert.Equal(t, `{"services":["Cloud Service"],"estimatedCost":45,"commands":["# Commands will be generated"]}`, string(data))
	assert.Equal(t, 45.00, p.EstimatedCost)
}

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		cloud string
		want  DeploymentPlan
	}{
		{
			name:  "flat",
			text:  `{"services":["Cloud Run"],"estimatedCost":12.5,"commands":["gcloud run deploy"]}`,
			cloud: "gcp",
			want:  DeploymentPlan{Services: []string{"Cloud Run"}, EstimatedCost: 12.5, Commands: []string{"gcloud run deploy"}},
		},
		{
			name: "nested under deploymentPlans",
			text: "```json\n" + `{"recommendedCloud":"gcp","deploymentPlans":{
				"aws":{"services":{"compute":["ECS Fargate"],"database":["RDS"]},"estimatedCost":45.99,"commands":["aws ecs create-cluster"]},
				"gcp":{"services":{"compute":["Cloud Run"]},"estimatedCost":42.5,"commands":["gcloud run deploy"]}}}` + "\n```",
			cloud: "aws",
			want:  DeploymentPlan{Services: []string{"ECS Fargate"}, EstimatedCost: 45.99, Commands: []string{"aws ecs create-cluster"}},
		},
		{
			name:  "missing fields fall back individually",
			text:  `{"services":{"storage":["S3"]},"commands":[]}`,
			cloud: "aws",
			want:  DefaultPlan(),
		},
		{
			name:  "only cost",
			text:  `{"estimatedCost":9.99}`,
			cloud: "azure",
			want:  DeploymentPlan{Services: []string{"Cloud Service"}, EstimatedCost: 9.99, Commands: []string{"# Commands will be generated"}},
		},
		{
			name:  "other cloud nested only",
			text:  `{"deploymentPlans":{"gcp":{"estimatedCost":1}}}`,
			cloud: "azure",
			want:  DefaultPlan(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlan(tt.text, tt.cloud)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValidation(t *testing.T) {
	r, err := ParseValidation("not json")
	require.Error(t, err)
	assert.Equal(t, DefaultValidationReport(), r)
	assert.Equal(t, "Environment checks completed", r.Summary())

	r, err = ParseValidation(`{"status":"needs_setup","checks":{"cli":{"passed":true,"message":"ok","version":"2.1"},"authentication":{"passed":false,"message":"run aws configure"},"network":{"passed":false}}}`)
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsSetup, r.Status)
	assert.Equal(t, []string{"authentication", "network"}, r.FailedChecks())
	assert.Equal(t, "Environment needs_setup (failed: authentication, network)", r.Summary())

	r, err = ParseValidation(`{"checks":{"cli":{"passed":true}}}`)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknown, r.Status)

	r, err = ParseValidation(`{"status":"ready","checks":{"cli":{"passed":true}}}`)
	require.NoError(t, err)
	assert.Equal(t, "Environment ready (1 checks passed)", r.Summary())
}
