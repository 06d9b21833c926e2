package knowledge

import "fmt"

// Vocabulary predicates for orchestration state persisted as triples.
// Uses CURIE notation under the semant: prefix.
const (
	PredStatus    = "semant:status"
	PredResult    = "semant:result"
	PredError     = "semant:error"
	PredUpdatedAt = "semant:updatedAt"
	PredName      = "semant:name"
	PredStep      = "semant:step"
	PredWorkflow  = "semant:workflow"
)

// WorkflowSubject returns the subject IRI for a workflow record.
func WorkflowSubject(workflowID string) string {
	return "workflow:" + workflowID
}

// StepSubject returns the subject IRI for one workflow step record.
func StepSubject(workflowID, stepID string) string {
	return fmt.Sprintf("workflow:%s/step/%s", workflowID, stepID)
}

// AgentSubject returns the subject IRI for an agent record.
func AgentSubject(agentID string) string {
	return "agent:" + agentID
}
