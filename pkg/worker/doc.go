// Package worker implements the worker console manager. A worker keeps a
// heartbeat console monitor running until shutdown and owns no cluster
// state of its own.
package worker
