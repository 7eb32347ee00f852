// Package health provides HTTP and TCP reachability checks. Workers use them
// to watch the coordinator they were configured with; Status folds
// consecutive results so a single dropped check does not flip the target
// to unhealthy.
package health
