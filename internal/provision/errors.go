package provision

import (
	"fmt"
	"strings"
)

// Error taxonomy for provisioning workflows. Configuration and validation
// errors surface directly with actionable text; cleanup failures are always
// reported distinctly from the failure that triggered them.

// ConfigurationError names a missing prerequisite the tenant can fix.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return e.Missing + " not configured"
}

// AmbiguousResourceError reports that discovery found multiple untagged
// candidates and refuses to guess between them.
type AmbiguousResourceError struct {
	Resource   string
	Candidates []string
}

func (e *AmbiguousResourceError) Error() string {
	return fmt.Sprintf("ambiguous %s: %d untagged candidates (%s); tag or remove the extras before retrying",
		e.Resource, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// UnavailableNumberError reports that a number was taken and no same-type
// substitute exists. Substituting a different type is never safe because
// regulatory bundles are type-specific.
type UnavailableNumberError struct {
	Number     string
	NumberType string
	Attempts   int
}

func (e *UnavailableNumberError) Error() string {
	return fmt.Sprintf("number %s is no longer available and no %s alternative was found after %d attempts",
		e.Number, e.NumberType, e.Attempts)
}

// ConflictError reports an assignment that would violate the one-inbound /
// one-outbound-per-agent invariant, naming the conflicting resource.
type ConflictError struct {
	AgentID   string
	Direction string // "inbound" or "outbound"
	Number    string // the number already holding the assignment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("agent %s already has an %s number (%s)", e.AgentID, e.Direction, e.Number)
}

// CleanupFailureError is the highest-severity outcome: the operation failed
// AND compensation could not fully unwind. It always carries the external ids
// needed to locate the orphaned resources manually.
type CleanupFailureError struct {
	// Cause is the error that triggered compensation.
	Cause error
	// Unwind aggregates the compensation failures; never merged into Cause.
	Unwind error
	// OrphanedIDs are external identifiers of resources left behind.
	OrphanedIDs []string
}

func (e *CleanupFailureError) Error() string {
	return fmt.Sprintf("operation failed and manual cleanup is required (orphaned: %s): %v",
		strings.Join(e.OrphanedIDs, ", "), e.Cause)
}

func (e *CleanupFailureError) Unwrap() error { return e.Cause }
