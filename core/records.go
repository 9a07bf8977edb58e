package core

import (
	"encoding/json"
	"time"
)

// RecordKind names the type of a persisted record.
type RecordKind string

// Record kinds handed to a Recorder.
const (
	KindPipelineRun RecordKind = "pipeline_run"
	KindConsensus   RecordKind = "consensus"
	KindTask        RecordKind = "task"
)

// Record is anything a Recorder accepts.
type Record interface {
	RecordKind() RecordKind
	// RecordStatus reports the terminal status for metrics and indexing.
	RecordStatus() string
}

// RunStatus is the terminal status of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StageName identifies a pipeline stage.
type StageName string

// Pipeline stages in execution order.
const (
	StageDesign    StageName = "design"
	StageImplement StageName = "implement"
	StageReview    StageName = "review"
	StageRevise    StageName = "revise"
	StageDocument  StageName = "document"
)

// StageResult is the outcome of one pipeline stage. Entries are appended in
// execution order and never modified afterwards.
type StageResult struct {
	Stage       StageName     `json:"stage"`
	Agent       string        `json:"agent"`
	InputDigest string        `json:"input_digest"`
	Output      string        `json:"output,omitempty"`
	Succeeded   bool          `json:"succeeded"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   ErrorKind     `json:"error_kind,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Artifacts holds every intermediate product of a pipeline run.
type Artifacts struct {
	Design        json.RawMessage `json:"design,omitempty"`
	Content       string          `json:"content,omitempty"`
	Review        json.RawMessage `json:"review,omitempty"`
	Revised       bool            `json:"revised"`
	Documentation string          `json:"documentation,omitempty"`
}

// PipelineRun is the full record of one collaborative generation.
type PipelineRun struct {
	ID          string         `json:"id"`
	RequesterID string         `json:"requester_id"`
	Prompt      string         `json:"prompt"`
	Context     map[string]any `json:"context,omitempty"`
	Stages      []StageResult  `json:"stages"`
	Status      RunStatus      `json:"status"`
	Artifacts   Artifacts      `json:"artifacts"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// RecordKind implements Record.
func (r *PipelineRun) RecordKind() RecordKind { return KindPipelineRun }

// RecordStatus implements Record.
func (r *PipelineRun) RecordStatus() string { return string(r.Status) }

// Stage returns the last result recorded for the named stage.
func (r *PipelineRun) Stage(name StageName) (StageResult, bool) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Stage == name {
			return r.Stages[i], true
		}
	}
	return StageResult{}, false
}

// AgentVote is one agent's parsed answer in a consensus round.
type AgentVote struct {
	AgentID    string  `json:"agent_id"`
	Choice     string  `json:"choice"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// AgentFailure describes an agent dropped from a consensus round.
type AgentFailure struct {
	AgentID string    `json:"agent_id"`
	Kind    ErrorKind `json:"kind"`
	Error   string    `json:"error"`
}

// ConsensusResult aggregates one consensus round. It carries no identifiers
// or timestamps, so identical votes always produce identical results.
type ConsensusResult struct {
	RequesterID         string         `json:"requester_id,omitempty"`
	Question            string         `json:"question"`
	Options             []string       `json:"options"`
	WinningChoice       *string        `json:"winning_choice"`
	AgreementRatio      float64        `json:"agreement_ratio"`
	SupportingReasoning []string       `json:"supporting_reasoning"`
	RawVotes            []AgentVote    `json:"raw_votes"`
	Failures            []AgentFailure `json:"failures,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// RecordKind implements Record.
func (r *ConsensusResult) RecordKind() RecordKind { return KindConsensus }

// RecordStatus implements Record.
func (r *ConsensusResult) RecordStatus() string {
	if r.Decided() {
		return "decided"
	}
	return "undecided"
}

// Decided reports whether at least one valid vote was cast.
func (r *ConsensusResult) Decided() bool { return r.WinningChoice != nil }

// TaskStatus is the outcome of a dispatched task.
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// TaskRecord is the outcome of one dispatched task.
type TaskRecord struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	AgentUsed   string     `json:"agent_used"`
	FellBack    bool       `json:"fell_back,omitempty"`
	RequesterID string     `json:"requester_id"`
	Prompt      string     `json:"prompt"`
	Result      string     `json:"result,omitempty"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RecordKind implements Record.
func (r *TaskRecord) RecordKind() RecordKind { return KindTask }

// RecordStatus implements Record.
func (r *TaskRecord) RecordStatus() string { return string(r.Status) }
