package rediskey

import "fmt"

const (
	WorkflowRatingPrefix        = "workflow:rating"
	WorkflowRatingVersionPrefix = "workflow:rating:version"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildWorkflowRatingKey returns "workflow:rating:{workflowID}:{version}"
func BuildWorkflowRatingKey(workflowID string, version int64) string {
	return fmt.Sprintf("%s:%d", NamespaceKey(WorkflowRatingPrefix, workflowID), version)
}

// BuildWorkflowRatingVersionKey returns "workflow:rating:version:{workflowID}"
func BuildWorkflowRatingVersionKey(workflowID string) string {
	return NamespaceKey(WorkflowRatingVersionPrefix, workflowID)
}
