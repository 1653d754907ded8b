package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/alexander-storage/internal/hashid"
)

// IngestAdapter bridges the ctx/error-returning catalog repositories to the
// synchronous, context-free shape ingest.Manager's hot path
// expects. Infra errors are swallowed to false/"missing" rather than
// propagated: the ingest session manager has no way to surface a catalog
// outage mid-batch, so a transient lookup failure is treated the same as
// "not yet registered" and the client simply re-uploads.
type IngestAdapter struct {
	Files    FileDefinitionRepo
	Releases ReleaseRepo
	ctx      context.Context
}

// NewIngestAdapter constructs an adapter that issues every catalog call
// under ctx (normally context.Background for the process lifetime, since
// ingest.Manager's interface carries no context of its own).
func NewIngestAdapter(ctx context.Context, files FileDefinitionRepo, releases ReleaseRepo) *IngestAdapter {
	return &IngestAdapter{Files: files, Releases: releases, ctx: ctx}
}

// FileDefinitionExists satisfies ingest.Catalog.
func (a *IngestAdapter) FileDefinitionExists(hash hashid.Hash32) bool {
	exists, err := a.Files.Exists(a.ctx, hash)
	return err == nil && exists
}

// RegisterFileDefinition satisfies ingest.Catalog.
func (a *IngestAdapter) RegisterFileDefinition(hash hashid.Hash32, length uint64, chunks []hashid.Hash32) error {
	return a.Files.Register(a.ctx, hash, length, chunks)
}

// RecordRelease satisfies ingest.Catalog.
func (a *IngestAdapter) RecordRelease(repoID string, releaseDefinition []byte, checksum hashid.Hash32) error {
	return a.Releases.Create(a.ctx, &ReleaseRecord{
		ID:         uuid.NewString(),
		RepoID:     repoID,
		Definition: releaseDefinition,
		Checksum:   checksum,
		CreatedAt:  time.Now().UTC(),
	})
}
