package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-storage/internal/hashcodec"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/ingest"
)

// IngestService is the subset of ingest.Manager the HTTP layer drives.
type IngestService interface {
	CreateWithTTL(repoID, intendedRelease string, ttl time.Duration) (string, error)
	Get(sessionID string) (ingest.Session, error)
	MissingChunks(sessionID string, hashes []hashid.Hash32) ([]hashid.Hash32, error)
	MissingFiles(sessionID string, fileHashes []hashid.Hash32) ([]hashid.Hash32, error)
	UploadChunks(sessionID string, batch []ingest.ChunkHash) error
	UploadFileDefinitions(sessionID string, batch []ingest.FileDefinition) error
	Finalize(sessionID string, releasePackageBytes []byte, referencedChunks []hashid.Hash32, checksum hashid.Hash32) error
	Abort(sessionID string) error
}

// IngestHandler implements the transport surface that drives an ingest
// session from creation through finalize: §6 of the ingest protocol.
type IngestHandler struct {
	sessions IngestService
	logger   zerolog.Logger
}

// NewIngestHandler constructs an IngestHandler over sessions.
func NewIngestHandler(sessions IngestService, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{sessions: sessions, logger: logger.With().Str("handler", "ingest").Logger()}
}

type createSessionRequest struct {
	RepoID          string `json:"repo_id"`
	IntendedRelease string `json:"intended_release"`
	ClientAgent     string `json:"client_agent"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession handles POST /ingest/sessions.
func (h *IngestHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid_argument", Message: err.Error()})
		return
	}
	if req.RepoID == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid_argument", Message: "repo_id is required"})
		return
	}

	id, err := h.sessions.CreateWithTTL(req.RepoID, req.IntendedRelease, ingest.DefaultTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	h.logger.Info().Str("session_id", id).Str("repo_id", req.RepoID).Str("client_agent", req.ClientAgent).Msg("ingest session created")
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

// writeHashList responds with hashes encoded in the transpose-compressed
// wire format: Content-Type identifies it so a client never has to guess.
func writeHashList(w http.ResponseWriter, hashes []hashid.Hash32) {
	body, err := hashcodec.Encode(hashes)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.alexstore.hash-transpose")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// MissingChunks handles POST /ingest/{session}/chunks/missing.
func (h *IngestHandler) MissingChunks(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	hashes, err := hashcodec.DecodeFrom(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}
	missing, err := h.sessions.MissingChunks(sessionID, hashes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeHashList(w, missing)
}

// MissingFiles handles POST /ingest/{session}/files/missing.
func (h *IngestHandler) MissingFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	hashes, err := hashcodec.DecodeFrom(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}
	missing, err := h.sessions.MissingFiles(sessionID, hashes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeHashList(w, missing)
}

type chunkBatchItem struct {
	Hash hashid.Hash32 `json:"hash_hex"`
	Data []byte        `json:"bytes"`
}

// UploadChunks handles POST /ingest/{session}/chunks/batch.
func (h *IngestHandler) UploadChunks(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	var items []chunkBatchItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}

	batch := make([]ingest.ChunkHash, len(items))
	for i, it := range items {
		batch[i] = ingest.ChunkHash{Hash: it.Hash, Data: it.Data}
	}

	if err := h.sessions.UploadChunks(sessionID, batch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type fileBatchItem struct {
	FileHash hashid.Hash32   `json:"file_hash"`
	Length   uint64          `json:"length"`
	Chunks   []hashid.Hash32 `json:"chunk_indices"`
}

type fileBatchBody struct {
	Files []fileBatchItem `json:"files"`
}

// UploadFileDefinitions handles POST /ingest/{session}/files/batch.
func (h *IngestHandler) UploadFileDefinitions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	dec, err := zstdReaderOrBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}
	defer dec.Close()

	var body fileBatchBody
	if err := json.NewDecoder(dec).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}

	batch := make([]ingest.FileDefinition, len(body.Files))
	for i, f := range body.Files {
		batch[i] = ingest.FileDefinition{FileHash: f.FileHash, Length: f.Length, Chunks: f.Chunks}
	}

	if err := h.sessions.UploadFileDefinitions(sessionID, batch); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Finalize handles POST /ingest/{session}/finalize. The request is a
// multipart form whose "release_definition" part carries the .rdef
// release-package bytes; referenced chunk hashes and checksum are recovered
// by decoding it.
func (h *IngestHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}
	file, _, err := r.FormFile("release_definition")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid_argument", Message: "release_definition part is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, err)
		return
	}

	referencedChunks, checksum, err := decodeReleaseChunkRefs(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "format_error", Message: err.Error()})
		return
	}

	if err := h.sessions.Finalize(sessionID, data, referencedChunks, checksum); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// Abort handles abandoning a session: DELETE /ingest/{session}.
func (h *IngestHandler) Abort(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	if err := h.sessions.Abort(sessionID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSession handles GET /ingest/{session}, returning the session's
// counters for a client polling progress.
func (h *IngestHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
