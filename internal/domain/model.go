package domain

import "time"

type Method string

const (
	MethodJar       Method = "jar"
	MethodContainer Method = "container"
)

type ContainerMode string

const (
	ContainerRegistry ContainerMode = "registry"
	ContainerTransfer ContainerMode = "transfer"
)

type BuildResult string

const (
	ResultPending BuildResult = "pending"
	ResultSuccess BuildResult = "success"
	ResultFailed  BuildResult = "failed"
)

type Outcome string

const (
	OutcomeHealthy Outcome = "healthy"
	OutcomeTimeout Outcome = "timeout"
)

type RunState string

const (
	StateResolving      RunState = "resolving"
	StateAwaiting       RunState = "awaiting_approval"
	StateDeploying      RunState = "deploying"
	StateProbing        RunState = "probing"
	StateSucceeded      RunState = "succeeded"
	StateRollingBack    RunState = "rolling_back"
	StateRolledBack     RunState = "rolled_back"
	StateRollbackFailed RunState = "rollback_failed"
	StateFailed         RunState = "failed"
	StateRefused        RunState = "refused"
)

// Terminal reports whether no further transition can happen from s.
func (s RunState) Terminal() bool {
	switch s {
	case StateSucceeded, StateRolledBack, StateRollbackFailed, StateFailed, StateRefused:
		return true
	}
	return false
}

// Auth is a ready-to-use credential handle; storage and rotation live elsewhere.
type Auth struct {
	PrivateKey    []byte
	KeyFile       string
	RegistryUser  string
	RegistryToken string
}

type ConnectionProfile struct {
	Environment     string
	Host            string
	SSHPort         int
	AppPort         int
	Principal       string
	Auth            Auth
	Method          Method
	ContainerMode   ContainerMode
	HealthPath      string
	ProbeVia        string
	RequireApproval bool
	Frozen          bool
}

type BuildRecord struct {
	BuildNumber int64       `json:"build_number"`
	Job         string      `json:"job"`
	Environment string      `json:"environment"`
	CommitID    string      `json:"commit_id"`
	ArtifactRef string      `json:"artifact_ref"`
	Method      Method      `json:"method"`
	Locator     string      `json:"locator"`
	Result      BuildResult `json:"result"`
	Archived    bool        `json:"archived,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// DeploymentAttempt lives for one deploy-and-verify cycle only.
type DeploymentAttempt struct {
	Record  BuildRecord
	Profile ConnectionProfile
	Method  Method
}

type HealthCheckResult struct {
	CheckedURL       string
	Elapsed          time.Duration
	Outcome          Outcome
	LastResponseBody string
	Attempts         int
}

func (r HealthCheckResult) Healthy() bool { return r.Outcome == OutcomeHealthy }

// Command is a structured remote command. Args are never joined by callers.
type Command struct {
	Args       []string
	Stdin      []byte
	Background bool
	LogFile    string
}

type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// StopOutcome is the tri-state result of a best-effort stop.
type StopOutcome int

const (
	StopFailed StopOutcome = iota
	StopWasRunning
	StopWasNotRunning
)

func (o StopOutcome) String() string {
	switch o {
	case StopWasRunning:
		return "was-running"
	case StopWasNotRunning:
		return "was-not-running"
	default:
		return "failed"
	}
}

type RunReport struct {
	RunID        string
	Job          string
	Branch       string
	State        RunState
	Profile      ConnectionProfile
	Record       BuildRecord
	Health       *HealthCheckResult
	RolledBackTo int64
	Err          error
	RollbackErr  error
	Started      time.Time
	Finished     time.Time
}
