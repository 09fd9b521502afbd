package favset

// Reason explains why a mutation did not change the set.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonInvalidID    Reason = "invalid_id"
	ReasonExists       Reason = "exists"
	ReasonNotFound     Reason = "not_found"
	ReasonLimitReached Reason = "limit_reached"
	ReasonAlreadyEmpty Reason = "already_empty"
)

// Action tags the branch a Toggle took.
type Action string

const (
	ActionNone   Action = ""
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionLimit  Action = "limit"
)

// Outcome is the result of a single mutation. Expected conditions such as a
// duplicate add are reported here and never as errors.
type Outcome struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`
	ID     string `json:"id,omitempty"`
	Action Action `json:"action,omitempty"`

	// Evicted is the member dropped to make room under PolicyDropOldest.
	Evicted string `json:"evicted,omitempty"`
}

// ReplaceResult is returned by ReplaceAll.
type ReplaceResult struct {
	Truncated bool     `json:"truncated"`
	List      []string `json:"list"`
}

// ImportResult is returned by Import.
type ImportResult struct {
	OK        bool     `json:"ok"`
	Truncated bool     `json:"truncated"`
	Changed   bool     `json:"changed"`
	List      []string `json:"list"`

	// Added lists the identifiers that became members during a merge import.
	Added []string `json:"added,omitempty"`
	// Skipped lists identifiers a merge import left out because the set was
	// full under PolicyReject.
	Skipped []string `json:"skipped,omitempty"`
}
