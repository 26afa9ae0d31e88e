package httptransport_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"docproof/internal/document/hashing"
	"docproof/internal/document/models"
	"docproof/internal/document/store"
	"docproof/internal/ledger"
	"docproof/internal/ledger/chain"
	"docproof/internal/qr"
	"docproof/internal/reconcile"
	"docproof/internal/stats"
	httptransport "docproof/internal/transport/http"
	"docproof/pkg/testutil"
)

const adminToken = "operator-secret"

type registrar struct{}

func (registrar) ID() string { return "registrar" }

func (registrar) Token(context.Context, string) (string, error) { return "", nil }

// HandlerSuite drives the full router over in-memory backends. Metrics are nil
// so the default Prometheus registry is never touched.
type HandlerSuite struct {
	suite.Suite
	store   *store.InMemory
	chain   *chain.Memory
	gateway *ledger.Gateway
	router  http.Handler

	doc  []byte
	hash string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.chain = chain.NewMemory()
	s.gateway = ledger.NewGateway(chain.NewBackend(s.chain), ledger.WithSigner(registrar{}))
	s.Require().NoError(s.gateway.Initialize(context.Background()))

	coord := reconcile.NewCoordinator(s.store, s.gateway, reconcile.WithHistory(reconcile.NewHistory(0)))
	agg := stats.New(s.store, stats.WithLedger(s.gateway), stats.WithMinGap(0), stats.WithRetries(0, time.Millisecond))
	h := httptransport.NewHandler(httptransport.Deps{
		Coordinator: coord,
		Ledger:      s.gateway,
		Store:       s.store,
		Stats:       agg,
		Codec:       qr.NewWithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	})
	s.router = httptransport.NewRouter(h, httptransport.RouterConfig{MaxBodyBytes: 1 << 20, AdminToken: adminToken})

	s.doc = []byte("%PDF-1.7 transcript for Grace Hopper")
	s.hash = hashing.Normalize(hashing.Digest(s.doc))
}

func (s *HandlerSuite) upload(name string, data []byte, fields map[string]string) *http.Request {
	return testutil.NewMultipartRequest(s.T(), http.MethodPost, "/v1/documents", name, data, fields)
}

func (s *HandlerSuite) verify(data []byte, claimed, name string) *http.Request {
	return testutil.NewMultipartRequest(s.T(), http.MethodPost, "/v1/verifications", name, data, map[string]string{"hash": claimed})
}

func (s *HandlerSuite) issue() {
	_, err := s.chain.Issue(context.Background(), "university", chain.IssueRequest{
		DocumentHash:  s.hash,
		Issuer:        "0xuni",
		IssuerName:    "University",
		RecipientName: "Grace Hopper",
		DocumentType:  "transcript",
		IssuanceDate:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
}

type documentBody struct {
	Record      models.Record `json:"record"`
	DisplayHash string        `json:"displayHash"`
	Created     bool          `json:"created"`
	Strategy    string        `json:"strategy"`
}

type verificationBody struct {
	reconcile.Outcome
	Kind reconcile.Kind `json:"kind"`
}

// =============================================================================
// Documents
// =============================================================================

func (s *HandlerSuite) TestSubmitDocument() {
	s.Run("creates a pending record with parsed metadata", func() {
		req := testutil.WithActor(s.upload("transcript.pdf", s.doc, map[string]string{
			"description":    "final transcript",
			"tags":           "academic, 2026 ,",
			"private":        "true",
			"expirationDate": "2030-06-30",
		}), "registrar-office")

		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)

		body := testutil.UnmarshalResponse[documentBody](s.T(), rr)
		s.True(body.Created)
		s.Equal(s.hash, body.Record.Hash)
		s.Equal("0x"+s.hash, body.DisplayHash)
		s.Equal(models.StatusPending, body.Record.Status)
		s.Equal([]string{"academic", "2026"}, body.Record.Metadata.Tags)
		s.True(body.Record.Metadata.Private)
		s.Equal("registrar-office", body.Record.Metadata.Uploader)
		s.Require().NotNil(body.Record.Metadata.ExpirationDate)
		s.Equal(2030, body.Record.Metadata.ExpirationDate.Year())
	})

	s.Run("re-uploading the same bytes returns 200 with the existing record", func() {
		rr := testutil.DoRequest(s.router, s.upload("copy.pdf", s.doc, nil))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "created", false)
	})

	s.Run("missing file is a bad request", func() {
		rr := testutil.DoRequest(s.router, s.upload("", nil, map[string]string{"description": "x"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("malformed expiration date is a bad request", func() {
		rr := testutil.DoRequest(s.router, s.upload("b.pdf", []byte("b"), map[string]string{"expirationDate": "next year"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("oversized body is rejected", func() {
		rr := testutil.DoRequest(s.router, s.upload("big.pdf", make([]byte, 2<<20), nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusRequestEntityTooLarge, "payload_too_large")
	})

	s.Run("unavailable store is 503", func() {
		s.store.SetAvailable(false)
		defer s.store.SetAvailable(true)
		rr := testutil.DoRequest(s.router, s.upload("c.pdf", []byte("c"), nil))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
	})
}

func (s *HandlerSuite) TestGetDocument() {
	testutil.DoRequest(s.router, s.upload("transcript.pdf", s.doc, nil))

	s.Run("accepts prefixed upper-case hashes", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/documents/0X"+strings.ToUpper(s.hash)))
		testutil.AssertStatusOK(s.T(), rr)
		body := testutil.UnmarshalResponse[documentBody](s.T(), rr)
		s.Equal("transcript.pdf", body.Record.FileName)
		s.Equal(string(store.StrategyExact), body.Strategy)
	})

	s.Run("unknown hash is 404", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/documents/"+strings.Repeat("ab", 32)))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("malformed hash is 400", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/documents/0x1234"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_hash")
	})
}

// =============================================================================
// Verifications
// =============================================================================
// Justification: expected verification outcomes are 200 responses carrying
// findings. Only a malformed claim or a dead store changes the status code.

func (s *HandlerSuite) TestReconcileFlow() {
	testutil.Given(s.T(), "an uploaded document", func(t *testing.T) {
		testutil.DoRequest(s.router, s.upload("transcript.pdf", s.doc, nil))

		testutil.When(t, "the same bytes are verified with the prefixed hash", func(t *testing.T) {
			rr := testutil.DoRequest(s.router, testutil.WithActor(s.verify(s.doc, "0x"+s.hash, "transcript.pdf"), "employer"))

			testutil.Then(t, "the record transitions to verified", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				body := testutil.UnmarshalResponse[verificationBody](t, rr)
				assert.True(t, body.IsValid)
				assert.True(t, body.StatusUpdated)
				assert.Equal(t, reconcile.KindVerified, body.Kind)
				require.NotNil(t, body.MatchedRecord)
				assert.Equal(t, models.StatusVerified, body.MatchedRecord.Status)
				require.NotNil(t, body.MatchedRecord.Verification)
				assert.Equal(t, "employer", body.MatchedRecord.Verification.Verifier)
			})
		})

		testutil.When(t, "different bytes are submitted against the hash", func(t *testing.T) {
			rr := testutil.DoRequest(s.router, s.verify([]byte("tampered"), s.hash, "transcript.pdf"))

			testutil.Then(t, "the attempt is invalid but not an error status", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				body := testutil.UnmarshalResponse[verificationBody](t, rr)
				assert.False(t, body.IsValid)
				assert.False(t, body.StatusUpdated)
				assert.Equal(t, reconcile.KindPartial, body.Kind)
				require.NotEmpty(t, body.Warnings)
				assert.Equal(t, reconcile.CodeHashMismatch, body.Warnings[0].Code)
			})
		})

		testutil.And(t, "history lists both attempts newest first", func(t *testing.T) {
			rr := testutil.DoRequest(s.router, testutil.NewRequest(t, http.MethodGet, "/v1/verifications"))
			testutil.AssertStatusOK(t, rr)
			body := testutil.UnmarshalResponse[struct {
				Attempts []reconcile.Attempt `json:"attempts"`
			}](t, rr)
			require.Len(t, body.Attempts, 2)
			assert.Equal(t, reconcile.AttemptFailed, body.Attempts[0].Status)
			assert.Equal(t, reconcile.AttemptSuccess, body.Attempts[1].Status)
		})
	})
}

func (s *HandlerSuite) TestReconcileErrors() {
	s.Run("malformed claimed hash is 400", func() {
		rr := testutil.DoRequest(s.router, s.verify(s.doc, "not-a-hash", "a.pdf"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_hash")
	})

	s.Run("missing claimed hash is 400", func() {
		req := testutil.NewMultipartRequest(s.T(), http.MethodPost, "/v1/verifications", "a.pdf", s.doc, nil)
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_hash")
	})

	s.Run("unavailable store is 503", func() {
		s.store.SetAvailable(false)
		defer s.store.SetAvailable(true)
		rr := testutil.DoRequest(s.router, s.verify(s.doc, s.hash, "a.pdf"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
	})
}

// =============================================================================
// Ledger
// =============================================================================

func (s *HandlerSuite) TestLedgerLookup() {
	s.Run("absent hash is found=false", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/ledger/"+s.hash))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "found", false)
	})

	s.Run("issued hash returns the record", func() {
		s.issue()
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/ledger/0x"+s.hash))
		testutil.AssertStatusOK(s.T(), rr)
		body := testutil.UnmarshalResponse[struct {
			Found  bool           `json:"found"`
			Record *ledger.Record `json:"record"`
		}](s.T(), rr)
		s.True(body.Found)
		s.Require().NotNil(body.Record)
		s.Equal(ledger.StatePending, body.Record.State)
	})

	s.Run("disconnected ledger is 503", func() {
		s.gateway.Disconnect()
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/ledger/"+s.hash))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
	})
}

func (s *HandlerSuite) TestLedgerConfirm() {
	path := "/v1/ledger/0x" + s.hash + "/confirm"

	s.Run("requires the admin token", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, path))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("missing ledger record is 404", func() {
		rr := testutil.DoRequest(s.router, testutil.WithAdminToken(testutil.NewRequest(s.T(), http.MethodPost, path), adminToken))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
	})

	s.Run("pending record is confirmed once", func() {
		s.issue()
		rr := testutil.DoRequest(s.router, testutil.WithAdminToken(testutil.NewRequest(s.T(), http.MethodPost, path), adminToken))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONHasKey(s.T(), rr, "transactionId")

		rr = testutil.DoRequest(s.router, testutil.WithAdminToken(testutil.NewRequest(s.T(), http.MethodPost, path), adminToken))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})
}

// =============================================================================
// Stats
// =============================================================================

type statsBody struct {
	Status   stats.RefreshStatus `json:"status"`
	Snapshot *stats.Snapshot     `json:"snapshot"`
	State    stats.State         `json:"state"`
}

func (s *HandlerSuite) TestStats() {
	testutil.DoRequest(s.router, s.upload("transcript.pdf", s.doc, nil))

	s.Run("first read computes the snapshot", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/v1/stats"))
		testutil.AssertStatusOK(s.T(), rr)
		body := testutil.UnmarshalResponse[statsBody](s.T(), rr)
		s.Require().NotNil(body.Snapshot)
		s.Equal(1, body.Snapshot.Stats.TotalDocuments)
		s.Equal(1, body.Snapshot.Stats.PendingDocuments)
		s.Require().Len(body.Snapshot.Activity, 1)
		s.Equal(stats.ActionUploaded, body.Snapshot.Activity[0].Action)
	})

	s.Run("forced refresh reflects a verification", func() {
		testutil.DoRequest(s.router, s.verify(s.doc, s.hash, "transcript.pdf"))
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/v1/stats/refresh?force=true"))
		testutil.AssertStatusOK(s.T(), rr)
		body := testutil.UnmarshalResponse[statsBody](s.T(), rr)
		s.Equal(stats.StatusRefreshed, body.Status)
		s.Equal(1, body.Snapshot.Stats.VerifiedDocuments)
		s.Equal(0, body.Snapshot.Stats.PendingDocuments)
	})

	s.Run("bad force flag is 400", func() {
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/v1/stats/refresh?force=maybe"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("failed refresh is 503 and recover clears it", func() {
		s.store.SetAvailable(false)
		rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/v1/stats/refresh?force=true"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")

		s.store.SetAvailable(true)
		rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodPost, "/v1/stats/recover"))
		testutil.AssertStatusOK(s.T(), rr)
		body := testutil.UnmarshalResponse[statsBody](s.T(), rr)
		s.False(body.State.Failed)
	})
}

// =============================================================================
// QR
// =============================================================================

func (s *HandlerSuite) TestQRRoundTrip() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/qr/encode", map[string]any{
		"hash":     strings.ToUpper(s.hash),
		"metadata": map[string]any{"fileName": "transcript.pdf"},
	}))
	testutil.AssertStatusOK(s.T(), rr)
	enc := testutil.UnmarshalResponse[struct {
		Payload  string      `json:"payload"`
		Envelope qr.Envelope `json:"envelope"`
	}](s.T(), rr)
	s.Equal("0x"+s.hash, enc.Envelope.Hash)
	s.Equal(int64(1700000000000), enc.Envelope.Timestamp)

	rr = testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/v1/qr/decode",
		testutil.MustMarshal(s.T(), map[string]string{"payload": enc.Payload})))
	testutil.AssertStatusOK(s.T(), rr)
	dec := testutil.UnmarshalResponse[struct {
		Envelope   qr.Envelope        `json:"envelope"`
		Validation hashing.Validation `json:"validation"`
	}](s.T(), rr)
	s.True(dec.Validation.IsValid)
	s.Equal(s.hash, dec.Validation.Normalized)
	s.Equal("transcript.pdf", dec.Envelope.Metadata["fileName"])
}

func (s *HandlerSuite) TestQRErrors() {
	s.Run("encode rejects a malformed hash", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/qr/encode", map[string]any{"hash": "xyz"}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_hash")
	})

	s.Run("decode rejects foreign payloads", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/qr/decode", map[string]string{
			"payload": `{"hash":"0x00","type":"boarding-pass","version":"1.0"}`,
		}))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("decode reports an invalid embedded hash without failing", func() {
		rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/qr/decode", map[string]string{
			"payload": `{"hash":"0x1234","metadata":{},"timestamp":1,"type":"document-verification","version":"1.0"}`,
		}))
		testutil.AssertStatusOK(s.T(), rr)
		dec := testutil.UnmarshalResponse[struct {
			Validation hashing.Validation `json:"validation"`
		}](s.T(), rr)
		s.False(dec.Validation.IsValid)
	})
}

// =============================================================================
// Health
// =============================================================================

func (s *HandlerSuite) TestHealth() {
	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
	testutil.AssertStatusOK(s.T(), rr)

	s.store.SetAvailable(false)
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/health"))
	testutil.AssertStatus(s.T(), rr, http.StatusServiceUnavailable)
	testutil.AssertJSONContains(s.T(), rr, "status", "degraded")
}
