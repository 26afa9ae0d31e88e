package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"docproof/internal/document/hashing"
	"docproof/internal/ledger"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/sentinel"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// LedgerSuite runs the same contract against every Ledger implementation.
type LedgerSuite struct {
	suite.Suite
	newLedger func(clock *testClock) Ledger
	clock     *testClock
	ledger    Ledger
	ctx       context.Context
}

func TestMemoryLedgerSuite(t *testing.T) {
	suite.Run(t, &LedgerSuite{
		newLedger: func(clock *testClock) Ledger {
			return NewMemory(WithClock(clock.Now))
		},
	})
}

func (s *LedgerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s.ledger = s.newLedger(s.clock)
}

func (s *LedgerSuite) issueRequest(content string) IssueRequest {
	return IssueRequest{
		DocumentHash:  hashing.Digest([]byte(content)),
		Issuer:        "did:example:state-university",
		IssuerName:    "State University",
		RecipientName: "Ada Lovelace",
		DocumentType:  "diploma",
		IssuanceDate:  s.clock.Now().Add(-24 * time.Hour),
	}
}

func (s *LedgerSuite) TestIssue() {
	s.Run("new document starts pending and active", func() {
		req := s.issueRequest("diploma-1")
		e, err := s.ledger.Issue(s.ctx, "registrar", req)
		s.Require().NoError(err)
		s.Equal(ActionIssue, e.Action)
		s.Equal(int64(1), e.Index)

		rec, err := s.ledger.Get(s.ctx, req.DocumentHash)
		s.Require().NoError(err)
		s.Equal(ledger.StatePending, rec.State)
		s.True(rec.IsActive)
		s.Equal("State University", rec.IssuerName)
	})

	s.Run("duplicate issue conflicts", func() {
		_, err := s.ledger.Issue(s.ctx, "registrar", s.issueRequest("diploma-1"))
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("bare upper-case hash is stored canonically", func() {
		req := s.issueRequest("diploma-2")
		req.DocumentHash = "0X" + hashing.Normalize(req.DocumentHash)
		_, err := s.ledger.Issue(s.ctx, "registrar", req)
		s.Require().NoError(err)

		rec, err := s.ledger.Get(s.ctx, hashing.Normalize(req.DocumentHash))
		s.Require().NoError(err)
		s.Equal(hashing.Prefixed(req.DocumentHash), rec.DocumentHash)
	})

	s.Run("rejects invalid input", func() {
		req := s.issueRequest("diploma-3")
		req.DocumentHash = "0x12"
		_, err := s.ledger.Issue(s.ctx, "registrar", req)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidHash))

		req = s.issueRequest("diploma-3")
		req.Issuer = " "
		_, err = s.ledger.Issue(s.ctx, "registrar", req)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

		req = s.issueRequest("diploma-3")
		before := req.IssuanceDate.Add(-time.Hour)
		req.ExpirationDate = &before
		_, err = s.ledger.Issue(s.ctx, "registrar", req)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

func (s *LedgerSuite) TestConfirm() {
	req := s.issueRequest("transcript")
	_, err := s.ledger.Issue(s.ctx, "registrar", req)
	s.Require().NoError(err)

	s.Run("pending document becomes verified", func() {
		e, err := s.ledger.Confirm(s.ctx, req.DocumentHash, "verifier-1")
		s.Require().NoError(err)
		s.Equal(ActionConfirm, e.Action)
		s.Equal("verifier-1", e.Actor)

		rec, err := s.ledger.Get(s.ctx, req.DocumentHash)
		s.Require().NoError(err)
		s.Equal(ledger.StateVerified, rec.State)
	})

	s.Run("second confirm is an invalid state", func() {
		_, err := s.ledger.Confirm(s.ctx, req.DocumentHash, "verifier-1")
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown document is not found", func() {
		_, err := s.ledger.Confirm(s.ctx, hashing.Digest([]byte("unknown")), "verifier-1")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *LedgerSuite) TestRevoke() {
	req := s.issueRequest("licence")
	_, err := s.ledger.Issue(s.ctx, "registrar", req)
	s.Require().NoError(err)

	_, err = s.ledger.Revoke(s.ctx, req.DocumentHash, "registrar", "issued in error")
	s.Require().NoError(err)

	rec, err := s.ledger.Get(s.ctx, req.DocumentHash)
	s.Require().NoError(err)
	s.Equal(ledger.StateRevoked, rec.State)
	s.False(rec.IsActive)

	_, err = s.ledger.Confirm(s.ctx, req.DocumentHash, "verifier-1")
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.ledger.Revoke(s.ctx, req.DocumentHash, "registrar", "again")
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *LedgerSuite) TestExpiry() {
	req := s.issueRequest("permit")
	exp := s.clock.Now().Add(time.Hour)
	req.ExpirationDate = &exp
	_, err := s.ledger.Issue(s.ctx, "registrar", req)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Hour)

	rec, err := s.ledger.Get(s.ctx, req.DocumentHash)
	s.Require().NoError(err)
	s.Equal(ledger.StateExpired, rec.State)
	s.False(rec.IsActive)

	_, err = s.ledger.Confirm(s.ctx, req.DocumentHash, "verifier-1")
	s.ErrorIs(err, sentinel.ErrInvalidState)

	s.Require().NoError(s.ledger.Verify(s.ctx), "expiry is derived and does not break the chain")
}

func (s *LedgerSuite) TestChainIntegrity() {
	for _, content := range []string{"a", "b", "c"} {
		_, err := s.ledger.Issue(s.ctx, "registrar", s.issueRequest(content))
		s.Require().NoError(err)
	}
	_, err := s.ledger.Confirm(s.ctx, hashing.Digest([]byte("b")), "verifier-1")
	s.Require().NoError(err)

	s.Require().NoError(s.ledger.Verify(s.ctx))

	n, err := s.ledger.Len(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(5), n, "genesis plus four appends")

	head, err := s.ledger.Head(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(4), head.Index)
	s.Equal(ActionConfirm, head.Action)
}

func (s *LedgerSuite) TestConcurrentConfirm() {
	req := s.issueRequest("contested")
	_, err := s.ledger.Issue(s.ctx, "registrar", req)
	s.Require().NoError(err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ledger.Confirm(s.ctx, req.DocumentHash, "verifier")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, sentinel.ErrInvalidState):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, ok)
	s.Equal(workers-1, rejected)
	s.Require().NoError(s.ledger.Verify(s.ctx))
}

func TestMemoryTamperDetection(t *testing.T) {
	ctx := context.Background()
	newChain := func(t *testing.T) *Memory {
		m := NewMemory()
		for _, content := range []string{"x", "y"} {
			_, err := m.Issue(ctx, "registrar", IssueRequest{
				DocumentHash: hashing.Digest([]byte(content)),
				Issuer:       "issuer",
				IssuanceDate: time.Now().Add(-time.Hour),
			})
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
		}
		return m
	}

	t.Run("rewritten payload", func(t *testing.T) {
		m := newChain(t)
		m.entries[1].Payload = `{"documentHash":"forged"}`
		if err := m.Verify(ctx); !errors.Is(err, ErrTampered) {
			t.Fatalf("expected ErrTampered, got %v", err)
		}
	})

	t.Run("rehashed entry breaks the next link", func(t *testing.T) {
		m := newChain(t)
		m.entries[1].Actor = "mallory"
		m.entries[1].Hash = m.entries[1].computeHash()
		if err := m.Verify(ctx); !errors.Is(err, ErrTampered) {
			t.Fatalf("expected ErrTampered, got %v", err)
		}
	})

	t.Run("projection edited without an entry", func(t *testing.T) {
		m := newChain(t)
		hash := hashing.Digest([]byte("x"))
		rec := m.records[hash]
		rec.State = ledger.StateVerified
		m.records[hash] = rec
		if err := m.Verify(ctx); !errors.Is(err, ErrTampered) {
			t.Fatalf("expected ErrTampered, got %v", err)
		}
	})

	t.Run("intact chain verifies", func(t *testing.T) {
		if err := newChain(t).Verify(ctx); err != nil {
			t.Fatalf("expected intact chain, got %v", err)
		}
	})
}
