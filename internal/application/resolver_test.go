package application

import (
	"testing"

	"github.com/davarch/rollout/internal/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testResolver() *Resolver {
	return NewResolver("test",
		map[string]string{"main": "prod", "release": "stage", "develop": "uat", "hotfix": "qa"},
		map[string]domain.ConnectionProfile{
			"test":  {Host: "10.0.0.10"},
			"uat":   {Host: "10.0.0.11"},
			"stage": {Host: "10.0.0.12"},
			"prod":  {Host: "10.0.1.10", RequireApproval: true},
		},
	)
}

func TestResolve_MappedBranches(t *testing.T) {
	r := testResolver()
	for branch, env := range map[string]string{"main": "prod", "release": "stage", "develop": "uat"} {
		p := r.Resolve(branch)
		assert.Equal(t, env, p.Environment, branch)
	}
	assert.Equal(t, "10.0.1.10", r.Resolve("main").Host)
	assert.True(t, r.Resolve("main").RequireApproval)
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := testResolver()
	for _, branch := range []string{"", "feature/x", "MAIN", "main "} {
		p := r.Resolve(branch)
		assert.Equal(t, "test", p.Environment, "branch %q", branch)
		assert.Equal(t, "10.0.0.10", p.Host)
		assert.False(t, p.RequireApproval)
	}
}

func TestResolve_UnknownEnvironmentFallsBack(t *testing.T) {
	p := testResolver().Resolve("hotfix")
	assert.Equal(t, "test", p.Environment)
	assert.Equal(t, "10.0.0.10", p.Host)
}

func TestResolve_Deterministic(t *testing.T) {
	r := testResolver()
	assert.Equal(t, r.Resolve("develop"), r.Resolve("develop"))
}

func TestResolver_Update(t *testing.T) {
	r := testResolver()
	r.Update(zap.NewNop(), "", map[string]string{"main": "stage"}, map[string]domain.ConnectionProfile{
		"test":  {Host: "10.0.0.20"},
		"stage": {Host: "10.0.0.22"},
	})

	assert.Equal(t, "stage", r.Resolve("main").Environment)
	assert.Equal(t, "10.0.0.20", r.Resolve("develop").Host)

	_, ok := r.Environment("prod")
	assert.False(t, ok)
}
