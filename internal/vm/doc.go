// Package vm provides high-level VM lifecycle management operations.
//
// An Orchestrator drives virsh, qemu-img and the QEMU monitor to list,
// create, start, stop, inspect, clone, delete and monitor virtual machines.
// It keeps no state between calls: every operation asks the libvirt daemon
// afresh and owns the processes and monitor sessions it opens.
//
// Validation:
//
// Every operation validates its arguments before anything external runs.
// A name that fails validate.Identifier never reaches a command line.
//
// Error Handling:
//
// Failed virsh runs pass through a parser.Classifier, so callers can test
// for fault.ErrNotFound, fault.ErrAlreadyExists and friends with errors.Is
// while fault.BoundaryOf still reports the invocation boundary. Read-only
// queries are retried once after a timeout; commands that change state are
// never retried.
//
// Cleanup:
//
// Create and Clone remove the files they made when the final define fails.
// Temporary domain definitions are always removed with defer.
package vm
