package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/alexander-storage/internal/hashcodec"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/ingest"
)

type fakeIngestService struct {
	createErr   error
	missingFn   func(sessionID string, hashes []hashid.Hash32) ([]hashid.Hash32, error)
	uploadedChunks []ingest.ChunkHash
	abortedID   string
}

func (f *fakeIngestService) CreateWithTTL(repoID, intendedRelease string, ttl time.Duration) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return "sess-1", nil
}

func (f *fakeIngestService) Get(sessionID string) (ingest.Session, error) {
	return ingest.Session{ID: sessionID}, nil
}

func (f *fakeIngestService) MissingChunks(sessionID string, hashes []hashid.Hash32) ([]hashid.Hash32, error) {
	return f.missingFn(sessionID, hashes)
}

func (f *fakeIngestService) MissingFiles(sessionID string, fileHashes []hashid.Hash32) ([]hashid.Hash32, error) {
	return f.missingFn(sessionID, fileHashes)
}

func (f *fakeIngestService) UploadChunks(sessionID string, batch []ingest.ChunkHash) error {
	f.uploadedChunks = batch
	return nil
}

func (f *fakeIngestService) UploadFileDefinitions(sessionID string, batch []ingest.FileDefinition) error {
	return nil
}

func (f *fakeIngestService) Finalize(sessionID string, releasePackageBytes []byte, referencedChunks []hashid.Hash32, checksum hashid.Hash32) error {
	return nil
}

func (f *fakeIngestService) Abort(sessionID string) error {
	f.abortedID = sessionID
	return nil
}

func newTestIngestHandler(svc IngestService) *IngestHandler {
	return NewIngestHandler(svc, zerolog.Nop())
}

func TestCreateSessionWritesSessionID(t *testing.T) {
	h := newTestIngestHandler(&fakeIngestService{})
	body, _ := json.Marshal(createSessionRequest{RepoID: "repo-1"})
	req := httptest.NewRequest(http.MethodPost, "/ingest/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateSession(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "sess-1", resp.SessionID)
}

func TestCreateSessionRejectsMissingRepoID(t *testing.T) {
	h := newTestIngestHandler(&fakeIngestService{})
	body, _ := json.Marshal(createSessionRequest{})
	req := httptest.NewRequest(http.MethodPost, "/ingest/sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateSession(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingChunksRoundTripsTransposeCodec(t *testing.T) {
	want := []hashid.Hash32{hashid.Sum32([]byte("a")), hashid.Sum32([]byte("b"))}
	svc := &fakeIngestService{
		missingFn: func(sessionID string, hashes []hashid.Hash32) ([]hashid.Hash32, error) {
			assert.Equal(t, "sess-1", sessionID)
			return want, nil
		},
	}
	h := newTestIngestHandler(svc)

	encoded, err := hashcodec.Encode([]hashid.Hash32{hashid.Sum32([]byte("c"))})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ingest/sess-1/chunks/missing", bytes.NewReader(encoded))
	req.SetPathValue("session", "sess-1")
	rec := httptest.NewRecorder()

	h.MissingChunks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, err := hashcodec.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAbortDelegatesSessionID(t *testing.T) {
	svc := &fakeIngestService{}
	h := newTestIngestHandler(svc)

	req := httptest.NewRequest(http.MethodDelete, "/ingest/sess-9", nil)
	req.SetPathValue("session", "sess-9")
	rec := httptest.NewRecorder()

	h.Abort(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "sess-9", svc.abortedID)
}
