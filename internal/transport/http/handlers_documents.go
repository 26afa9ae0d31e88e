package httptransport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"docproof/internal/document/hashing"
	"docproof/internal/document/models"
	"docproof/internal/document/store"
	"docproof/internal/reconcile"
	dErrors "docproof/pkg/domain-errors"
	"docproof/pkg/platform/httputil"
	strutil "docproof/pkg/platform/strings"
	"docproof/pkg/requestcontext"
)

const (
	// HeaderActor names the uploader or verifier acting on the request.
	HeaderActor = "X-Actor"

	formFile = "file"
	formHash = "hash"

	multipartMemory = 8 << 20
)

type documentResponse struct {
	Record      *models.Record `json:"record"`
	DisplayHash string         `json:"displayHash"`
	Created     bool           `json:"created"`
}

type lookupResponse struct {
	Record      *models.Record `json:"record"`
	DisplayHash string         `json:"displayHash"`
	Strategy    store.Strategy `json:"strategy"`
}

// HandleSubmit accepts a multipart upload and records it as pending.
// Fields: file (required), description, category, tags (comma separated),
// private, expirationDate (RFC 3339 or YYYY-MM-DD).
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := withActor(r)
	upload, err := readUpload(r)
	if err != nil {
		h.writeErr(w, r, "read upload failed", err)
		return
	}
	meta, err := parseMetadata(r, requestcontext.Actor(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.coordinator.Submit(ctx, reconcile.SubmitRequest{
		Data:     upload.data,
		FileName: upload.name,
		FileType: upload.contentType,
		Metadata: meta,
	})
	if err != nil {
		h.writeErr(w, r, "submit failed", err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		h.metrics.IncrementDocumentsSubmitted()
	}
	httputil.WriteJSON(w, status, documentResponse{
		Record:      res.Record,
		DisplayHash: hashing.Prefixed(res.Record.Hash),
		Created:     res.Created,
	})
}

// HandleGetDocument looks a record up by hash, accepting any casing or prefix.
// Only hash-based strategies apply here; file-name matching needs an upload.
func (h *Handler) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v := hashing.Validate(chi.URLParam(r, "hash"))
	if err := v.Err(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !h.records.IsAvailable(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnavailable, "record store is unavailable"))
		return
	}
	rec, strategy, err := store.FindByStrategy(ctx, h.records, v.Normalized, "")
	if err != nil {
		h.writeErr(w, r, "document lookup failed", dErrors.Wrap(err, codeForStoreErr(err), "record lookup failed"))
		return
	}
	if rec == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no document with this hash"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, lookupResponse{
		Record:      rec,
		DisplayHash: hashing.Prefixed(rec.Hash),
		Strategy:    strategy,
	})
}

type upload struct {
	data        []byte
	name        string
	contentType string
}

func readUpload(r *http.Request) (*upload, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "expected a multipart form")
	}
	file, header, err := r.FormFile(formFile)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "form field \"file\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &upload{data: data, name: header.Filename, contentType: contentType}, nil
}

func parseMetadata(r *http.Request, uploader string) (models.Metadata, error) {
	meta := models.Metadata{
		Description: strings.TrimSpace(r.FormValue("description")),
		Category:    strings.TrimSpace(r.FormValue("category")),
		Uploader:    uploader,
		Tags:        strutil.SplitList(r.FormValue("tags"), ","),
	}
	if raw := r.FormValue("private"); raw != "" {
		private, err := strconv.ParseBool(raw)
		if err != nil {
			return meta, dErrors.New(dErrors.CodeBadRequest, "private must be a boolean")
		}
		meta.Private = private
	}
	if raw := strings.TrimSpace(r.FormValue("expirationDate")); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			return meta, dErrors.New(dErrors.CodeBadRequest, "expirationDate must be RFC 3339 or YYYY-MM-DD")
		}
		meta.ExpirationDate = &t
	}
	return meta, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

func withActor(r *http.Request) context.Context {
	ctx := r.Context()
	if actor := strings.TrimSpace(r.Header.Get(HeaderActor)); actor != "" {
		ctx = requestcontext.WithActor(ctx, actor)
	}
	return ctx
}

func codeForStoreErr(err error) dErrors.Code {
	if store.IsUnavailable(err) {
		return dErrors.CodeUnavailable
	}
	return dErrors.CodeInternal
}
