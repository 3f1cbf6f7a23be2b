// Package state defines the workflow state threaded through every stage of
// the orchestration graph, along with the plan, step, and execution record
// types that live inside it.
//
// WorkflowState carries a required-fields invariant: conversation history,
// the uploaded-file index, the execution record list, and analysis metadata
// are never nil after Normalize. The engine normalizes state at every stage
// boundary, so stage functions may assume the invariant on entry and must
// not break it on return.
package state
