package workflow

// NotifyEffect is an outbound side effect computed by the orchestrator: a
// request to notify one wave of signers. The orchestrator never performs
// dispatch itself; callers hand effects to a Dispatcher, which owns delivery
// and deduplication.
type NotifyEffect struct {
	AccountID    string   `json:"account_id"`
	SubmissionID string   `json:"submission_id"`
	SubmitterIDs []string `json:"submitter_ids"`
	DelaySeconds int      `json:"delay_seconds,omitempty"`
}

// Key returns the ledger deduplication key for this effect.
func (e NotifyEffect) Key() string {
	return WaveKey(e.SubmissionID, e.SubmitterIDs)
}
