// Package core provides the foundational domain types and interfaces shared by
// every agentcouncil component. It defines:
//
//   - Roles and providers (closed enums resolved once through the registry)
//   - AgentBinding and CallRequest (what is called and how)
//   - Run records (PipelineRun, StageResult, ConsensusResult, TaskRecord)
//   - The error taxonomy (CallError and ErrorKind sentinels)
//   - Collaborator interfaces (Transport, Recorder, HistoryReader)
//
// The package holds no behavior beyond small value helpers. Orchestration
// lives in the retry, registry, consensus, pipeline and dispatch packages.
package core
