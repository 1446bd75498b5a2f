package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
	"github.com/AdamLaszab/zadanie-skuska/internal/events"
	"github.com/AdamLaszab/zadanie-skuska/internal/operation"
	"github.com/AdamLaszab/zadanie-skuska/internal/pipeline"
	"github.com/AdamLaszab/zadanie-skuska/internal/workspace"
)

const (
	// multipartMemory is how much of a form is buffered before spilling to
	// temporary files.
	multipartMemory  = 32 << 20
	maxFilesPerBatch = 20
)

var pdfMagic = []byte("%PDF-")

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:          "ok",
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
		BatchesInFlight: len(s.batchSem),
		BatchCapacity:   cap(s.batchSem),
		AuthEnabled:     s.auth.Enabled(),
	})
}

// handleBatch handles POST /pdf/{operation}.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	select {
	case s.batchSem <- struct{}{}:
		defer func() { <-s.batchSem }()
	default:
		w.Header().Set("Retry-After", "5")
		s.writeError(w, http.StatusServiceUnavailable, CodeBusy, "too many batches in progress")
		return
	}

	client := audit.RequestInfoFrom(r, s.config.InteractiveHeader)

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes*maxFilesPerBatch+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeProblem(w, pipeline.Classify(&operation.ValidationError{Field: "files", Reason: "request body too large"}))
			return
		}
		s.writeError(w, http.StatusBadRequest, CodeBadRequest, "expected a multipart/form-data body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	op, err := operation.Parse(chi.URLParam(r, "operation"), r.Form)
	if err != nil {
		s.writeProblem(w, pipeline.Classify(err))
		return
	}

	headers, err := uploadHeaders(op, r.MultipartForm)
	if err != nil {
		s.writeProblem(w, pipeline.Classify(err))
		return
	}
	uploads, closeAll, err := s.openUploads(headers)
	defer closeAll()
	if err != nil {
		s.writeProblem(w, pipeline.Classify(err))
		return
	}

	fallback := pipeline.DeliveryStream
	if client.Channel() == audit.ChannelWeb {
		fallback = pipeline.DeliveryLink
	}
	delivery, err := pipeline.ParseDelivery(r.Form.Get("delivery"), fallback)
	if err != nil {
		s.writeProblem(w, pipeline.Classify(err))
		return
	}

	principal, authed := auth.PrincipalFromContext(r.Context())
	var actorID *string
	if authed {
		id := principal.ActorID()
		actorID = &id
	}
	var session string
	if delivery == pipeline.DeliveryLink {
		session, err = s.session(w, r, client)
		if err != nil {
			s.logger.Error("issuing session failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, pipeline.CodeInternal, "could not establish session")
			return
		}
	}

	out, err := s.deps.Runner.Run(r.Context(), pipeline.Request{
		Operation:  op,
		Uploads:    uploads,
		OutputName: r.Form.Get("output_name"),
		Delivery:   delivery,
		Session:    session,
		ActorID:    actorID,
		Client:     client,
	})
	if err != nil {
		s.writeProblem(w, pipeline.Classify(err))
		return
	}

	w.Header().Set("X-Batch-ID", out.BatchID)
	if out.Capability != nil {
		c := out.Capability
		respondJSON(w, http.StatusOK, LinkResponse{
			BatchID:     out.BatchID,
			DownloadURL: "/download/" + c.Token,
			FileName:    c.Artifact.DisplayName,
			Size:        c.Artifact.Size,
			Digest:      c.Artifact.Digest,
			ExpiresAt:   c.ExpiresAt,
			Warnings:    strings.TrimSpace(out.Stderr),
		})
		return
	}

	defer out.Stream.Close()
	if err := serveArtifact(w, out.Artifact.DisplayName, out.Artifact.Digest, out.Artifact.Size, out.Stream); err != nil {
		s.logger.Warn("artifact delivery interrupted", "batch_id", out.BatchID, "error", err)
	}
}

// handleDownload handles GET /download/{token}.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	client := audit.RequestInfoFrom(r, s.config.InteractiveHeader)
	principal, authed := auth.PrincipalFromContext(r.Context())
	var actorID *string
	if authed {
		id := principal.ActorID()
		actorID = &id
	}

	session := s.existingSession(r, client)
	dl, err := s.deps.Downloads.Redeem(r.Context(), chi.URLParam(r, "token"), session)
	if err != nil {
		s.deps.Audit.Record(r.Context(), audit.Event{
			Action:  "download_failed",
			Detail:  fmt.Sprintf("Message: download failed | Error: %v", err),
			ActorID: actorID,
			Request: client,
		})
		s.writeProblem(w, pipeline.Classify(err))
		return
	}
	defer dl.Close()

	s.deps.Audit.Record(r.Context(), audit.Event{
		Action:  "download_success",
		Detail:  "File downloaded: " + dl.Artifact.DisplayName,
		ActorID: actorID,
		Request: client,
	})
	s.deps.Events.Publish(events.TypeDownloadRedeemed, events.DownloadRedeemed{
		WorkspaceID: dl.WorkspaceID,
		DisplayName: dl.Artifact.DisplayName,
		Size:        dl.Size(),
	})

	if err := serveArtifact(w, dl.Artifact.DisplayName, dl.Artifact.Digest, dl.Size(), dl); err != nil {
		s.logger.Warn("download interrupted", "workspace_id", dl.WorkspaceID, "error", err)
	}
}

// session returns the id a download link is bound to. API principals are
// their own session; browsers and anonymous callers get a cookie.
func (s *Server) session(w http.ResponseWriter, r *http.Request, client audit.RequestInfo) (string, error) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && client.Channel() == audit.ChannelAPI {
		return p.ActorID(), nil
	}
	return s.sessions.Ensure(w, r)
}

func (s *Server) existingSession(r *http.Request, client audit.RequestInfo) string {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok && client.Channel() == audit.ChannelAPI {
		return p.ActorID()
	}
	return s.sessions.Lookup(r)
}

// uploadHeaders picks the form files an operation consumes, in the order
// the tool expects them.
func uploadHeaders(op operation.Operation, form *multipart.Form) ([]*multipart.FileHeader, error) {
	var headers []*multipart.FileHeader
	switch op.Name() {
	case operation.NameMerge:
		headers = form.File["files"]
	case operation.NameOverlay:
		headers = append(headers, form.File["file"]...)
		headers = append(headers, form.File["overlay_file"]...)
		if len(form.File["file"]) != 1 || len(form.File["overlay_file"]) != 1 {
			return nil, &operation.ValidationError{Field: "overlay_file", Reason: "overlay needs exactly one file and one overlay_file"}
		}
	default:
		headers = form.File["file"]
	}
	if len(headers) > maxFilesPerBatch {
		return nil, &operation.ValidationError{Field: "files", Reason: fmt.Sprintf("at most %d files per batch", maxFilesPerBatch)}
	}
	if err := operation.CheckInputs(op, len(headers)); err != nil {
		return nil, err
	}
	return headers, nil
}

// openUploads checks every file is a PDF within the size limit and opens it
// for staging. The returned func closes whatever was opened.
func (s *Server) openUploads(headers []*multipart.FileHeader) ([]workspace.Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	uploads := make([]workspace.Upload, 0, len(headers))
	for _, fh := range headers {
		field := "file:" + fh.Filename
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
			return nil, closeAll, &operation.ValidationError{Field: field, Reason: "must have a .pdf extension"}
		}
		if fh.Size > s.config.MaxUploadBytes {
			return nil, closeAll, &operation.ValidationError{Field: field, Reason: fmt.Sprintf("exceeds %d bytes", s.config.MaxUploadBytes)}
		}

		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		opened = append(opened, f)

		head := make([]byte, len(pdfMagic))
		if _, err := io.ReadFull(f, head); err != nil || !bytes.Equal(head, pdfMagic) {
			return nil, closeAll, &operation.ValidationError{Field: field, Reason: "is not a PDF document"}
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, closeAll, fmt.Errorf("rewind upload %q: %w", fh.Filename, err)
		}
		uploads = append(uploads, workspace.Upload{OriginalName: fh.Filename, Body: f})
	}
	return uploads, closeAll, nil
}

// serveArtifact sends the whole artifact with a 200. Range and conditional
// headers are ignored: the content is single-use, so a 206 or 304 would
// spend it without delivering it.
func serveArtifact(w http.ResponseWriter, name, digest string, size int64, content io.Reader) error {
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h := w.Header()
	h.Set("Content-Type", ctype)
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("Content-Length", strconv.FormatInt(size, 10))
	h.Set("Accept-Ranges", "none")
	h.Set("Cache-Control", "no-store")
	if digest != "" {
		h.Set("ETag", strconv.Quote(digest))
	}
	w.WriteHeader(http.StatusOK)
	_, err := io.Copy(w, content)
	return err
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if len(s.openapi) == 0 {
		s.writeError(w, http.StatusInternalServerError, pipeline.CodeInternal, "openapi document unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(s.openapi)
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

func (s *Server) writeProblem(w http.ResponseWriter, info pipeline.ErrorInfo) {
	if info.Status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "code", info.Code, "error", info.Message)
	}
	respondJSON(w, info.Status, ErrorResponse{Error: info.Message, Code: info.Code, Details: info.Details})
}
