package models

// Thread is the cached index record for one conversation log. Name changes
// are recorded as thread.renamed events; this record only mirrors the latest
// value and is rebuildable from the log.
type Thread struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
	// LastSeq is the position of the newest appended event (0 = empty log).
	LastSeq uint64 `json:"last_seq,omitempty"`
}
