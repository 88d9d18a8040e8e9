package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

const sample = `
job: orders
branches:
  main: prod
  develop: uat
environments:
  test:
    host: 10.0.0.10
    port: 8080
  uat:
    host: 10.0.0.11
    port: 8080
    method: container
    container_mode: transfer
  prod:
    host: 10.0.1.10
    port: 8080
    user: deploy
health:
  timeout: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgFile, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgFile
}

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	cfgFile := writeConfig(t, sample)

	t.Setenv("ROLLOUT_REGISTRY_TOKEN", "token-env")
	t.Setenv("ROLLOUT_TIMEOUT", "7m")

	c, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Container.RegistryToken != "token-env" {
		t.Errorf("env override failed, got %s", c.Container.RegistryToken)
	}
	if c.Pipeline.Timeout != 7*time.Minute {
		t.Errorf("timeout override failed, got %s", c.Pipeline.Timeout)
	}
	if c.Health.Timeout != 30*time.Second {
		t.Errorf("health timeout not read from yaml, got %s", c.Health.Timeout)
	}
	if c.Health.Interval != 5*time.Second {
		t.Errorf("expected default interval, got %s", c.Health.Interval)
	}
	if c.Application != "orders" {
		t.Errorf("application should default to job, got %q", c.Application)
	}
	if !c.VerifyAfterRollback() {
		t.Errorf("verify_after_rollback should default to true")
	}
}

func TestLoad_RejectsUnknownHostKeyPolicy(t *testing.T) {
	cfgFile := writeConfig(t, sample+"ssh:\n  host_key_policy: yolo\n")

	if _, err := Load(cfgFile); err == nil {
		t.Fatal("expected error for unknown host key policy")
	}
}

func TestLoad_RequiresDefaultEnvironment(t *testing.T) {
	cfgFile := writeConfig(t, `
environments:
  stage:
    host: 10.0.0.12
`)

	if _, err := Load(cfgFile); err == nil {
		t.Fatal("expected error when default environment is missing")
	}
}

func TestProfiles_Defaults(t *testing.T) {
	c, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatal(err)
	}
	c.SSH.User = "ops"

	ps := c.Profiles()

	if !ps["prod"].RequireApproval {
		t.Errorf("prod must require approval by default")
	}
	if ps["test"].RequireApproval {
		t.Errorf("test must not require approval")
	}
	if ps["test"].Principal != "ops" || ps["prod"].Principal != "deploy" {
		t.Errorf("unexpected principals: %q %q", ps["test"].Principal, ps["prod"].Principal)
	}
	if ps["test"].SSHPort != 22 || ps["test"].Method != "jar" || ps["test"].HealthPath != "/health" {
		t.Errorf("unexpected defaults: %+v", ps["test"])
	}
	if ps["uat"].ContainerMode != "transfer" {
		t.Errorf("expected transfer mode for uat, got %q", ps["uat"].ContainerMode)
	}
}

func TestSetFrozen_DoesNotPersistEnvOverrides(t *testing.T) {
	cfgFile := writeConfig(t, sample)
	t.Setenv("ROLLOUT_REGISTRY_TOKEN", "secret")

	changed, err := SetFrozen(cfgFile, "prod", true)
	if err != nil || !changed {
		t.Fatalf("expected change, got %v %v", changed, err)
	}

	changed, err = SetFrozen(cfgFile, "prod", true)
	if err != nil || changed {
		t.Fatalf("second freeze should be a no-op, got %v %v", changed, err)
	}

	b, err := os.ReadFile(cfgFile)
	if err != nil {
		t.Fatal(err)
	}
	var raw Config
	if err := yaml.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if !raw.Environments["prod"].Frozen {
		t.Errorf("prod not frozen on disk")
	}
	if raw.Container.RegistryToken != "" {
		t.Errorf("env token leaked into config file")
	}

	if _, err := SetFrozen(cfgFile, "nope", true); err == nil {
		t.Errorf("expected error for unknown environment")
	}
}
