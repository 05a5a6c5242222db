package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/pdftext"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
	"github.com/dvloznov/statement-analyzer/internal/stream"
)

// StatementsHandler handles the endpoints that take uploaded PDFs.
type StatementsHandler struct {
	engine    *pipeline.Engine
	uploads   store.Bucket
	maxUpload int64
	log       zerolog.Logger
}

// NewStatementsHandler creates a new statements handler. Uploaded PDFs kept
// by UploadStatement are written to uploads.
func NewStatementsHandler(engine *pipeline.Engine, uploads store.Bucket, maxUpload int64, log zerolog.Logger) *StatementsHandler {
	return &StatementsHandler{
		engine:    engine,
		uploads:   uploads,
		maxUpload: maxUpload,
		log:       log,
	}
}

// ProcessStatements handles POST /api/process-statements.
// Each file field is one period labelled by its field name. Progress is
// streamed as server-sent events ending in a final or error frame.
func (h *StatementsHandler) ProcessStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.With().Str("request_id", middleware.RequestIDFromContext(ctx)).Logger()

	u, err := parseUpload(w, r, h.maxUpload, log)
	if err != nil {
		writeError(w, log, err, "Failed to read upload")
		return
	}
	defer u.Cleanup()

	in := pipeline.Input{Window: u.window()}
	in.Periods, err = u.periods()
	if err == nil {
		err = in.Validate()
	}
	if err == nil {
		_, err = h.engine.APIKey(apiKeyFrom(r, u.Fields[fieldAPIKey]))
	}
	if err != nil {
		writeError(w, log, err, "Invalid statements request")
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		writeError(w, log, err, "Streaming unsupported")
		return
	}
	sse.Open()

	log.Info().Int("periods", len(in.Periods)).Msg("Processing statements")
	res, err := h.engine.Process(ctx, apiKeyFrom(r, u.Fields[fieldAPIKey]), in, sse)
	if err != nil {
		log.Error().Err(err).Msg("Statement processing failed")
		if werr := sse.Error(fmt.Sprintf("Error processing files: %v", err)); werr != nil {
			log.Warn().Err(werr).Msg("Failed to write error event")
		}
		return
	}
	if err := sse.Final(res); err != nil {
		log.Warn().Err(err).Msg("Failed to write final event")
	}
}

// ProcessStatement handles POST /api/process-statement.
// It runs the full pipeline over the single "file" part and returns the
// result as one JSON body.
func (h *StatementsHandler) ProcessStatement(w http.ResponseWriter, r *http.Request) {
	u, err := parseUpload(w, r, h.maxUpload, h.log)
	if err != nil {
		writeError(w, h.log, err, "Failed to read upload")
		return
	}
	defer u.Cleanup()

	text, err := u.singleText()
	if err != nil {
		writeError(w, h.log, err, "Failed to read statement")
		return
	}
	p, err := h.engine.Processor(r.Context(), apiKeyFrom(r, u.Fields[fieldAPIKey]))
	if err != nil {
		writeError(w, h.log, err, "Failed to process statement")
		return
	}
	res, err := pipeline.ProcessDocument(r.Context(), p, text, u.window())
	if err != nil {
		writeError(w, h.log, err, "Failed to process statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// AnalyzeStatement handles POST /api/analyze-statement.
func (h *StatementsHandler) AnalyzeStatement(w http.ResponseWriter, r *http.Request) {
	u, err := parseUpload(w, r, h.maxUpload, h.log)
	if err != nil {
		writeError(w, h.log, err, "Failed to read upload")
		return
	}
	defer u.Cleanup()

	text, err := u.singleText()
	if err != nil {
		writeError(w, h.log, err, "Failed to read statement")
		return
	}
	docs, err := h.engine.Documents(r.Context(), apiKeyFrom(r, u.Fields[fieldAPIKey]))
	if err != nil {
		writeError(w, h.log, err, "Failed to analyze statement")
		return
	}
	analysis, err := docs.AnalyzeStatement(r.Context(), text)
	if err != nil {
		writeError(w, h.log, err, "Failed to analyze statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, analysis)
}

// OCRStatement handles POST /api/ocr-statement.
func (h *StatementsHandler) OCRStatement(w http.ResponseWriter, r *http.Request) {
	u, err := parseUpload(w, r, h.maxUpload, h.log)
	if err != nil {
		writeError(w, h.log, err, "Failed to read upload")
		return
	}
	defer u.Cleanup()

	text, err := u.singleText()
	if err != nil {
		writeError(w, h.log, err, "Failed to read statement")
		return
	}
	docs, err := h.engine.Documents(r.Context(), apiKeyFrom(r, u.Fields[fieldAPIKey]))
	if err != nil {
		writeError(w, h.log, err, "Failed to perform OCR")
		return
	}
	result, err := docs.ExtractText(r.Context(), text)
	if err != nil {
		writeError(w, h.log, err, "Failed to perform OCR")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"ocrResult": result})
}

// UploadStatement handles POST /api/upload-statement.
// The PDF is kept as <id>.pdf and its text is returned.
func (h *StatementsHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u, err := parseUpload(w, r, h.maxUpload, h.log)
	if err != nil {
		writeError(w, h.log, err, "Failed to read upload")
		return
	}
	defer u.Cleanup()

	f, ok := u.file(fieldFile)
	if !ok {
		writeError(w, h.log, fmt.Errorf("%w: no file uploaded", pipeline.ErrInput), "Failed to read upload")
		return
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		writeError(w, h.log, err, "Failed to read upload")
		return
	}
	text, err := pdftext.ExtractBytes(data)
	if err != nil {
		writeError(w, h.log, fmt.Errorf("%w: %w", pipeline.ErrInput, err), "Failed to read statement")
		return
	}

	id := uuid.New().String()
	if err := h.uploads.Write(ctx, id+".pdf", data, "application/pdf"); err != nil {
		writeError(w, h.log, err, "Failed to store statement")
		return
	}

	h.log.Info().
		Str("statement_id", id).
		Str("filename", path.Base(f.FileName)).
		Int("bytes", len(data)).
		Msg("Statement uploaded")

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"id":   id,
		"text": text,
	})
}

// GetStatement handles GET /api/statements/{id}.
func (h *StatementsHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, h.log, fmt.Errorf("%w: statement %q", errNotFound, id), "Statement not found")
		return
	}

	data, err := h.uploads.Read(r.Context(), id+".pdf")
	if err != nil {
		writeError(w, h.log, err, "Failed to read statement")
		return
	}
	text, err := pdftext.ExtractBytes(data)
	if err != nil {
		writeError(w, h.log, err, "Failed to read statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"id":   id,
		"text": text,
	})
}
