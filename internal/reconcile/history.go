package reconcile

import (
	"strings"
	"sync"
	"time"

	"docproof/internal/document/hashing"
	dErrors "docproof/pkg/domain-errors"
)

// DefaultHistoryCapacity bounds the attempt history.
const DefaultHistoryCapacity = 5

// AttemptStatus is the user-facing status of a verification attempt.
type AttemptStatus string

const (
	AttemptProcessing AttemptStatus = "processing"
	AttemptSuccess    AttemptStatus = "success"
	AttemptFailed     AttemptStatus = "failed"
	AttemptError      AttemptStatus = "error"
)

// Attempt is one entry of the verification history.
type Attempt struct {
	ID                string        `json:"id"`
	FileName          string        `json:"fileName"`
	ExpectedHash      string        `json:"expectedHash"`
	OriginalHashInput string        `json:"originalHashInput"`
	Timestamp         time.Time     `json:"timestamp"`
	Status            AttemptStatus `json:"status"`
	Result            *Outcome      `json:"result,omitempty"`
}

// History keeps the most recent attempts, newest first. A nil *History records
// nothing.
type History struct {
	mu       sync.Mutex
	capacity int
	attempts []Attempt
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{capacity: capacity}
}

// List returns a copy of the attempts, most recent first.
func (h *History) List() []Attempt {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Attempt, len(h.attempts))
	copy(out, h.attempts)
	return out
}

func (h *History) Clear() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = nil
}

func (h *History) begin(id, fileName, input string, now time.Time) {
	if h == nil {
		return
	}
	expected := strings.TrimSpace(input)
	if v := hashing.Validate(input); v.IsValid {
		expected = hashing.Prefixed(v.Normalized)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append([]Attempt{{
		ID:                id,
		FileName:          fileName,
		ExpectedHash:      expected,
		OriginalHashInput: input,
		Timestamp:         now,
		Status:            AttemptProcessing,
	}}, h.attempts...)
	if len(h.attempts) > h.capacity {
		h.attempts = h.attempts[:h.capacity]
	}
}

// finish settles the attempt for out. Attempts already evicted are ignored.
func (h *History) finish(out *Outcome, err error) {
	if h == nil {
		return
	}
	status := AttemptSuccess
	switch {
	case err != nil && dErrors.HasCode(err, dErrors.CodeInvalidHash):
		status = AttemptFailed
	case err != nil:
		status = AttemptError
	case !out.IsValid:
		status = AttemptFailed
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.attempts {
		if h.attempts[i].ID == out.AttemptID {
			h.attempts[i].Status = status
			h.attempts[i].Result = out
			return
		}
	}
}
