package stats

import (
	"slices"
	"time"
)

// Stats are counts derived from the record store and, where available, the ledger.
type Stats struct {
	TotalDocuments     int `json:"totalDocuments"`
	VerifiedDocuments  int `json:"verifiedDocuments"`
	PendingDocuments   int `json:"pendingDocuments"`
	RevokedDocuments   int `json:"revokedDocuments"`
	ExpiredDocuments   int `json:"expiredDocuments"`
	FailedDocuments    int `json:"failedDocuments"`
	TotalVerifications int `json:"totalVerifications"`
	LedgerConfirmed    int `json:"ledgerConfirmed"`
}

type ActivityAction string

const (
	ActionUploaded ActivityAction = "uploaded"
	ActionVerified ActivityAction = "verified"
)

// Activity is one recent event on a stored document.
type Activity struct {
	Hash      string         `json:"hash"`
	FileName  string         `json:"fileName"`
	Action    ActivityAction `json:"action"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Size      string         `json:"size"`
}

func (a Activity) equal(b Activity) bool {
	return a.Hash == b.Hash &&
		a.FileName == b.FileName &&
		a.Action == b.Action &&
		a.Status == b.Status &&
		a.Size == b.Size &&
		a.Timestamp.Equal(b.Timestamp)
}

// Snapshot is the cached aggregate view.
type Snapshot struct {
	Stats       Stats      `json:"stats"`
	Activity    []Activity `json:"activity"`
	RefreshedAt time.Time  `json:"refreshedAt"`
}

// sameContent ignores RefreshedAt.
func (s *Snapshot) sameContent(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.Stats == o.Stats && slices.EqualFunc(s.Activity, o.Activity, Activity.equal)
}

// RefreshStatus says what a Refresh call did.
type RefreshStatus string

const (
	// StatusRefreshed: the view was recomputed and changed.
	StatusRefreshed RefreshStatus = "refreshed"
	// StatusUnchanged: the view was recomputed and the cache kept.
	StatusUnchanged RefreshStatus = "unchanged"
	// StatusInFlight: another refresh was running.
	StatusInFlight RefreshStatus = "in_flight"
	// StatusRateLimited: the last success was too recent.
	StatusRateLimited RefreshStatus = "rate_limited"
	// StatusHalted: retries were exhausted earlier; Recover or force to resume.
	StatusHalted RefreshStatus = "halted"
	// StatusFailed: this call exhausted its retries.
	StatusFailed RefreshStatus = "failed"
)

// Result of a Refresh call. Snapshot is the cached view after the call, which
// may be nil before the first successful refresh.
type Result struct {
	Status   RefreshStatus `json:"status"`
	Snapshot *Snapshot     `json:"snapshot,omitempty"`
}

// State exposes the aggregator's refresh bookkeeping.
type State struct {
	Refreshing  bool      `json:"refreshing"`
	Retries     int       `json:"retries"`
	Failed      bool      `json:"failed"`
	LastError   string    `json:"lastError,omitempty"`
	LastRefresh time.Time `json:"lastRefresh"`
}
