package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"docproof/internal/document/models"
	"docproof/pkg/platform/sentinel"
)

// RecordStoreSuite runs the shared store contract against one backend.
type RecordStoreSuite struct {
	suite.Suite
	newStore func() Backend
	store    Backend
	ctx      context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &RecordStoreSuite{newStore: func() Backend { return NewInMemory() }})
}

func TestRedisStoreSuite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &RecordStoreSuite{newStore: func() Backend {
		mr.FlushAll()
		return NewRedisStore(client, "", nil)
	}})
}

func TestRedisListAllSkipsUndecodableField(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	rs := NewRedisStore(client, "", nil)
	rec, err := models.NewRecord(hashOf(3), "kept.pdf", "application/pdf", 64, models.Metadata{}, time.Now())
	require.NoError(t, err)
	require.NoError(t, rs.Put(ctx, rec))
	mr.HSet(DefaultRedisKey, hashOf(4), "{not json")

	entries, err := rs.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept.pdf", entries[0].Record.FileName)

	found, strategy, err := FindByStrategy(ctx, rs, hashOf(5), "kept.pdf")
	require.NoError(t, err)
	assert.Equal(t, StrategyFileName, strategy)
	assert.Equal(t, hashOf(3), found.Hash)
}

func (s *RecordStoreSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func hashOf(b byte) string {
	return strings.Repeat(string("0123456789abcdef"[b%16]), 64)
}

func (s *RecordStoreSuite) newRecord(hash, fileName string, createdAt time.Time) *models.Record {
	rec, err := models.NewRecord(hash, fileName, "application/pdf", 128, models.Metadata{Tags: []string{"contract"}}, createdAt)
	s.Require().NoError(err)
	return rec
}

// TestPutAndGet verifies records round-trip under their normalized hash.
func (s *RecordStoreSuite) TestPutAndGet() {
	s.Run("stores under normalized key", func() {
		rec := s.newRecord("0x"+strings.ToUpper(hashOf(1)), "a.pdf", time.Now().UTC())
		s.Require().NoError(s.store.Put(s.ctx, rec))

		found, err := s.store.Get(s.ctx, hashOf(1))
		s.Require().NoError(err)
		s.Equal("a.pdf", found.FileName)
		s.Equal(models.StatusPending, found.Status)
		s.Equal([]string{"contract"}, found.Metadata.Tags)
	})

	s.Run("returns ErrNotFound for unknown key", func() {
		_, err := s.store.Get(s.ctx, hashOf(2))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("last write wins", func() {
		rec := s.newRecord(hashOf(3), "b.pdf", time.Now().UTC())
		s.Require().NoError(s.store.Put(s.ctx, rec))

		now := time.Now().UTC().Truncate(time.Millisecond)
		s.Require().NoError(rec.Verify(models.VerificationData{Verifier: "v", Method: "content-hash", Timestamp: now}))
		s.Require().NoError(s.store.Put(s.ctx, rec))

		found, err := s.store.Get(s.ctx, hashOf(3))
		s.Require().NoError(err)
		s.Equal(models.StatusVerified, found.Status)
		s.Require().NotNil(found.Verification)
		s.Equal("v", found.Verification.Verifier)
	})
}

// TestListAll verifies every entry is listed with the key it is stored under.
func (s *RecordStoreSuite) TestListAll() {
	now := time.Now().UTC()
	s.Require().NoError(s.store.Put(s.ctx, s.newRecord(hashOf(4), "c.pdf", now)))
	s.Require().NoError(s.store.Import(s.ctx, "0x"+hashOf(5), s.newRecord(hashOf(5), "d.pdf", now)))

	entries, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	s.Len(entries, 2)

	keys := map[string]string{}
	for _, e := range entries {
		keys[e.Key] = e.Record.FileName
	}
	s.Equal("c.pdf", keys[hashOf(4)])
	s.Equal("d.pdf", keys["0x"+hashOf(5)])
}

// TestFindByStrategy verifies the three matching strategies apply in order.
func (s *RecordStoreSuite) TestFindByStrategy() {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	s.Run("exact match on normalized claimed hash", func() {
		s.Require().NoError(s.store.Put(s.ctx, s.newRecord(hashOf(6), "exact.pdf", base)))

		rec, strategy, err := FindByStrategy(s.ctx, s.store, "0X"+strings.ToUpper(hashOf(6)), "")
		s.Require().NoError(err)
		s.Equal(StrategyExact, strategy)
		s.Equal("exact.pdf", rec.FileName)
	})

	s.Run("normalized scan recovers prefixed legacy key", func() {
		s.Require().NoError(s.store.Import(s.ctx, "0x"+strings.ToUpper(hashOf(7)), s.newRecord(hashOf(7), "legacy.pdf", base)))

		rec, strategy, err := FindByStrategy(s.ctx, s.store, hashOf(7), "")
		s.Require().NoError(err)
		s.Equal(StrategyNormalizedScan, strategy)
		s.Equal("legacy.pdf", rec.FileName)
		s.True(strategy.Authoritative())
	})

	s.Run("file name fallback picks most recent upload", func() {
		s.Require().NoError(s.store.Put(s.ctx, s.newRecord(hashOf(8), "report.pdf", base)))
		s.Require().NoError(s.store.Put(s.ctx, s.newRecord(hashOf(9), "report.pdf", base.Add(time.Hour))))

		rec, strategy, err := FindByStrategy(s.ctx, s.store, hashOf(10), "report.pdf")
		s.Require().NoError(err)
		s.Equal(StrategyFileName, strategy)
		s.Equal(hashOf(9), rec.Hash)
		s.False(strategy.Authoritative())
	})

	s.Run("miss without hint", func() {
		rec, strategy, err := FindByStrategy(s.ctx, s.store, hashOf(11), "")
		s.Require().NoError(err)
		s.Nil(rec)
		s.Equal(StrategyNone, strategy)
	})
}

func TestFindByStrategyEmptyStore(t *testing.T) {
	rec, strategy, err := FindByStrategy(context.Background(), NewInMemory(), hashOf(1), "a.pdf")
	if err != nil || rec != nil || strategy != StrategyNone {
		t.Fatalf("expected clean miss, got rec=%v strategy=%s err=%v", rec, strategy, err)
	}
}

func TestInMemoryUnavailable(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	s.SetAvailable(false)

	if s.IsAvailable(ctx) {
		t.Fatal("expected store to report unavailable")
	}
	_, err := s.Get(ctx, hashOf(1))
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	_, _, err = FindByStrategy(ctx, s, hashOf(1), "")
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error from matcher, got %v", err)
	}
}

func TestRedisStoreUnavailableWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "docs", nil)

	ctx := context.Background()
	if !s.IsAvailable(ctx) {
		t.Fatal("expected redis store to be available")
	}
	mr.Close()

	if s.IsAvailable(ctx) {
		t.Fatal("expected redis store to be unavailable after shutdown")
	}
	_, err := s.Get(ctx, hashOf(1))
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

// TestSyncLegacyKeys verifies legacy spellings of a hash are rewritten in place.
func (s *RecordStoreSuite) TestSyncLegacyKeys() {
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	legacyKey := "0x" + strings.ToUpper(hashOf(11))
	s.Require().NoError(s.store.Import(s.ctx, legacyKey, s.newRecord(hashOf(11), "legacy.pdf", base)))
	s.Require().NoError(s.store.Put(s.ctx, s.newRecord(hashOf(12), "other.pdf", base)))

	verified := s.newRecord(hashOf(11), "legacy.pdf", base)
	verified.ApplyVerification(models.VerificationData{Verifier: "registrar", Method: "content_hash", Timestamp: base.Add(time.Hour)})
	s.Require().NoError(s.store.Put(s.ctx, verified))

	synced, err := SyncLegacyKeys(s.ctx, s.store, verified)
	s.Require().NoError(err)
	s.Equal(1, synced)

	entries, err := s.store.ListAll(s.ctx)
	s.Require().NoError(err)
	byKey := map[string]models.Status{}
	for _, e := range entries {
		byKey[e.Key] = e.Record.Status
	}
	s.Equal(models.StatusVerified, byKey[legacyKey])
	s.Equal(models.StatusVerified, byKey[hashOf(11)])
	s.Equal(models.StatusPending, byKey[hashOf(12)], "unrelated records are untouched")
}
