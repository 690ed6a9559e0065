// Package plan defines the change-plan data model and its structural validation.
// Field names are the on-disk wire contract shared with external plan authors.
package plan

import "regexp"

// Action enumerates the closed set of step actions.
type Action string

const (
	ActionReadFile        Action = "read_file"
	ActionWriteFile       Action = "write_file"
	ActionDeleteFile      Action = "delete_file"
	ActionRunCommand      Action = "run_command"
	ActionDockerComposeUp Action = "docker_compose_up"
	ActionDockerRunTests  Action = "docker_run_tests"
	ActionDockerFetchLogs Action = "docker_fetch_logs"
	ActionLintCheck       Action = "lint_check"
	ActionTypeCheck       Action = "type_check"
	ActionSnykScan        Action = "snyk_scan"
	ActionGitCommit       Action = "git_commit"
)

var validActions = map[Action]bool{
	ActionReadFile:        true,
	ActionWriteFile:       true,
	ActionDeleteFile:      true,
	ActionRunCommand:      true,
	ActionDockerComposeUp: true,
	ActionDockerRunTests:  true,
	ActionDockerFetchLogs: true,
	ActionLintCheck:       true,
	ActionTypeCheck:       true,
	ActionSnykScan:        true,
	ActionGitCommit:       true,
}

// Valid reports whether the action is in the whitelist.
func (a Action) Valid() bool { return validActions[a] }

// Mutating reports whether the action modifies the working tree or repository.
// Mutating steps must carry hitl_required=true; the validator enforces this.
func (a Action) Mutating() bool {
	return a == ActionWriteFile || a == ActionDeleteFile || a == ActionGitCommit
}

// Containerized reports whether the action runs inside a container and therefore
// requires an explicit script.
func (a Action) Containerized() bool {
	return a == ActionDockerComposeUp || a == ActionDockerRunTests || a == ActionDockerFetchLogs
}

var (
	// PlanIDPattern matches PLAN-XXXXXXXX identifiers.
	PlanIDPattern = regexp.MustCompile(`^PLAN-[A-Z0-9]{8}$`)
	// StepIDPattern matches S01, S02, ... step identifiers.
	StepIDPattern = regexp.MustCompile(`^S[0-9]{2}$`)
)

// Plan is a machine-generated change plan.
type Plan struct {
	PlanID         string          `json:"plan_id"`
	Version        string          `json:"version"`
	CreatedAt      string          `json:"created_at"`
	Objective      Objective       `json:"objective"`
	PreFlightCheck *PreFlightCheck `json:"pre_flight_check,omitempty"`
	Steps          []Step          `json:"steps"`
	Verification   *Verification   `json:"verification,omitempty"`
	Evidence       *Evidence       `json:"evidence,omitempty"`
	CommitProposal *CommitProposal `json:"commit_proposal,omitempty"`
}

// Objective describes what the plan is meant to achieve.
type Objective struct {
	Description     string   `json:"description"`
	SuccessCriteria []string `json:"success_criteria"`
	AffectedFiles   []string `json:"affected_files"`
}

// Step is a single unit of work within a plan.
type Step struct {
	ID              string   `json:"id"`
	Action          Action   `json:"action"`
	Target          string   `json:"target"`
	Script          string   `json:"script,omitempty"`
	ExpectedOutcome string   `json:"expected_outcome,omitempty"`
	DependsOn       []string `json:"depends_on,omitempty"`
	HITLRequired    bool     `json:"hitl_required"`
	Rollback        string   `json:"rollback,omitempty"`
}

// PreFlightCheck records the expected repository state before execution.
type PreFlightCheck struct {
	GitStatus   string `json:"git_status"`
	LintPassed  bool   `json:"lint_passed"`
	TestsPassed bool   `json:"tests_passed"`
}

// Verification lists the commands that prove the plan worked.
type Verification struct {
	Method          string   `json:"method"`
	Commands        []string `json:"commands"`
	ExpectedResults []string `json:"expected_results"`
}

// Evidence holds the analysis trail gathered for the plan.
type Evidence struct {
	Logs          []string `json:"logs"`
	AnalyzedPaths []string `json:"analyzed_paths"`
}

// CommitProposal is the suggested conventional commit for the change.
type CommitProposal struct {
	Type    string `json:"type"`
	Scope   string `json:"scope"`
	Message string `json:"message"`
}

// StepByID returns the step with the given id.
func (p Plan) StepByID(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
