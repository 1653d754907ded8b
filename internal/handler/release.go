package handler

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/cache/redis"
	"github.com/prn-tf/alexander-storage/internal/catalog"
	"github.com/prn-tf/alexander-storage/internal/deltaengine"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/release"
	"github.com/prn-tf/alexander-storage/internal/repository"
)

// ReleaseStore is the subset of the catalog release repository the
// download handler needs.
type ReleaseStore interface {
	GetByID(ctx context.Context, repoID, releaseID string) (*catalog.ReleaseRecord, error)
}

// releaseCacheTTL bounds how long a release record stays in the
// distributed cache. Release records are immutable once published, so the
// only reason to expire them at all is to bound cache memory, not staleness.
const releaseCacheTTL = time.Hour

// CachedReleaseStore wraps a ReleaseStore with a distributed cache, taking
// repeat download/patch requests for the same release off the catalog.
// Release records never mutate after publish, so
// a cache hit never needs invalidation.
type CachedReleaseStore struct {
	next  ReleaseStore
	cache repository.Cache
}

// NewCachedReleaseStore constructs a CachedReleaseStore over next, backed
// by cache.
func NewCachedReleaseStore(next ReleaseStore, cache repository.Cache) *CachedReleaseStore {
	return &CachedReleaseStore{next: next, cache: cache}
}

// GetByID returns the cached release record for (repoID, releaseID) if
// present, otherwise fetches it from next and populates the cache.
func (s *CachedReleaseStore) GetByID(ctx context.Context, repoID, releaseID string) (*catalog.ReleaseRecord, error) {
	key := redis.ReleaseKey(repoID, releaseID)
	if raw, err := s.cache.Get(ctx, key); err == nil {
		var rec catalog.ReleaseRecord
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			return &rec, nil
		}
	}

	rec, err := s.next.GetByID(ctx, repoID, releaseID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(rec); err == nil {
		_ = s.cache.Set(ctx, key, raw, releaseCacheTTL)
	}
	return rec, nil
}

// ChunkReader is the subset of the pack-file engine the download handler
// needs: random reads by content hash.
type ChunkReader interface {
	Read(hash hashid.Hash32) ([]byte, error)
}

// ReleaseHandler implements GET /releases/{id}/download, streaming a
// tar.zst archive of release chunks. With diff set, the archive holds the
// delta manifest and the chunks new relative to that prior release, limited
// to the requested component; without diff, it holds every chunk of the
// release and the component parameter is not applied.
type ReleaseHandler struct {
	releases ReleaseStore
	chunks   ChunkReader
	logger   zerolog.Logger
}

// NewReleaseHandler constructs a ReleaseHandler over releases and chunks.
func NewReleaseHandler(releases ReleaseStore, chunks ChunkReader, logger zerolog.Logger) *ReleaseHandler {
	return &ReleaseHandler{releases: releases, chunks: chunks, logger: logger.With().Str("handler", "release").Logger()}
}

// Download handles GET /releases/{id}/download?repo_id=…&component=…[&diff=…].
func (h *ReleaseHandler) Download(w http.ResponseWriter, r *http.Request) {
	releaseID := r.PathValue("id")
	repoID := r.URL.Query().Get("repo_id")
	component := r.URL.Query().Get("component")
	diffFrom := r.URL.Query().Get("diff")

	newRec, err := h.releases.GetByID(r.Context(), repoID, releaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	newPkg, err := release.Decode(newRec.Definition)
	if err != nil {
		writeError(w, err)
		return
	}

	var manifest *deltaengine.DeltaManifest
	chunkSet := map[hashid.Hash32]struct{}{}

	if diffFrom != "" {
		oldRec, err := h.releases.GetByID(r.Context(), repoID, diffFrom)
		if err != nil {
			writeError(w, err)
			return
		}
		oldPkg, err := release.Decode(oldRec.Definition)
		if err != nil {
			writeError(w, err)
			return
		}

		m, newChunks, _, err := deltaengine.Compute(oldPkg, newPkg, component, nil, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		manifest = m
		for _, c := range newChunks {
			chunkSet[c] = struct{}{}
		}
	} else {
		for _, c := range newPkg.Chunks {
			chunkSet[c] = struct{}{}
		}
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.tar.zst"`, releaseID))
	w.WriteHeader(http.StatusOK)

	zw, err := zstd.NewWriter(w)
	if err != nil {
		h.logger.Error().Err(err).Msg("open zstd writer")
		return
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	if manifest != nil {
		if err := writeManifestEntry(tw, manifest); err != nil {
			h.logger.Error().Err(err).Msg("write delta manifest entry")
			return
		}
	}

	for hash := range chunkSet {
		data, err := h.chunks.Read(hash)
		if err != nil {
			h.logger.Error().Err(err).Str("chunk", hash.String()).Msg("read chunk for download")
			return
		}
		if err := writeChunkEntry(tw, hash, data); err != nil {
			h.logger.Error().Err(err).Msg("write chunk entry")
			return
		}
	}
}

// DownloadPatch handles GET /releases/{id}/patch?repo_id=…&parent=…,
// returning the binary "BPKD" delta that transforms the parent release's
// definition into this one's. Unlike Download's flat chunk-set delta (used
// to plan a chunk fetch), this is the release-definition patch format
// itself: a client already holding the parent .rdef can reconstruct the
// child .rdef from parent + patch without re-fetching it whole.
func (h *ReleaseHandler) DownloadPatch(w http.ResponseWriter, r *http.Request) {
	releaseID := r.PathValue("id")
	repoID := r.URL.Query().Get("repo_id")
	parentID := r.URL.Query().Get("parent")
	if parentID == "" {
		writeError(w, fmt.Errorf("%w: parent query parameter is required", apperr.ErrInvalidArgument))
		return
	}

	childRec, err := h.releases.GetByID(r.Context(), repoID, releaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	childPkg, err := release.Decode(childRec.Definition)
	if err != nil {
		writeError(w, err)
		return
	}

	parentRec, err := h.releases.GetByID(r.Context(), repoID, parentID)
	if err != nil {
		writeError(w, err)
		return
	}
	parentPkg, err := release.Decode(parentRec.Definition)
	if err != nil {
		writeError(w, err)
		return
	}

	patch, err := release.ComputePatch(parentPkg, childPkg, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := release.EncodePatch(patch, parentPkg.StringTable)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.alexstore.release-patch")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-from-%s.rdpk"`, releaseID, parentID))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeManifestEntry(tw *tar.Writer, manifest *deltaengine.DeltaManifest) error {
	body, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	hdr := &tar.Header{Name: "delta-manifest.json", Size: int64(len(body)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(body)
	return err
}

func writeChunkEntry(tw *tar.Writer, hash hashid.Hash32, data []byte) error {
	hdr := &tar.Header{Name: "chunks/" + hash.String(), Size: int64(len(data)), Mode: 0o644}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
