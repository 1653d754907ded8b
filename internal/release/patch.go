package release

import (
	"fmt"
	"time"

	"github.com/prn-tf/alexander-storage/internal/apperr"
	"github.com/prn-tf/alexander-storage/internal/deltaengine"
	"github.com/prn-tf/alexander-storage/internal/hashcodec"
	"github.com/prn-tf/alexander-storage/internal/hashid"
	"github.com/prn-tf/alexander-storage/internal/strtable"
	"github.com/prn-tf/alexander-storage/internal/varint"
)

const (
	patchMagic         = "BPKD"
	patchFormatVersion = byte(1)
)

const (
	patchSectionMetadata   sectionID = 0x01
	patchSectionProperties sectionID = 0x02
	patchSectionChunks     sectionID = 0x03
	patchSectionComponents sectionID = 0x04
	patchSectionStrings    sectionID = 0x05
)

// PatchOp identifies one delta operation against a parent-owned id space
// (a string-table id, a property key, a chunk or component/file identity).
type PatchOp byte

const (
	OpAdd PatchOp = iota
	OpRemove
	OpModify
)

// PropertyOp edits one entry of the parent's custom_properties map.
type PropertyOp struct {
	Op    PatchOp
	Key   string
	Value string // meaningful for Add/Modify
}

// FileModify records a file that stayed at the same name within a kept
// component but whose content (hash and chunk refs) changed.
type FileModify struct {
	Index int // position within the kept-file sequence, in child order
	File  File
}

// ComponentFileEdit is the per-kept-component file-list edit script: an
// edit script over file names plus modify records for files whose identity
// stayed put but whose content didn't.
type ComponentFileEdit struct {
	ComponentName string
	Runs          []deltaengine.Run
	Inserts       []File
	Modifies      []FileModify
}

// Patch is a parent -> child ReleasePackage delta ("BPKD" on the wire): a
// component list edit script, per-kept-component file edit scripts, a
// chunk-dictionary edit script, and small string/property deltas. Applying
// a Patch to its ParentID's package deterministically reproduces the child.
type Patch struct {
	ParentID  string
	ReleaseID string
	Level     uint32
	CreatedAt time.Time

	PropertyOps []PropertyOp

	ChunkRuns    []deltaengine.Run
	ChunkInserts []hashid.Hash32

	ComponentRuns    []deltaengine.Run
	ComponentInserts []Component
	FileEdits        []ComponentFileEdit
}

// ComputePatch builds the parent->child delta. Both packages must already
// be fully decoded; ComputePatch never touches the chunk store.
func ComputePatch(parent, child *Package, level uint32) (*Patch, error) {
	chunkScript := deltaengine.Diff(parent.Chunks, child.Chunks,
		func(h hashid.Hash32) hashid.Hash32 { return h },
		func(h hashid.Hash32) hashid.Hash32 { return h },
	)
	chunkInserts := make([]hashid.Hash32, len(chunkScript.Inserts))
	for i, ci := range chunkScript.Inserts {
		chunkInserts[i] = child.Chunks[ci]
	}

	componentScript := deltaengine.Diff(parent.Components, child.Components,
		func(c Component) string { return c.Name },
		func(c Component) string { return c.Name },
	)
	componentInserts := make([]Component, len(componentScript.Inserts))
	for i, ci := range componentScript.Inserts {
		componentInserts[i] = child.Components[ci]
	}

	fileEdits, err := buildComponentFileEdits(componentScript, parent.Components, child.Components)
	if err != nil {
		return nil, err
	}

	return &Patch{
		ParentID:         parent.ReleaseID,
		ReleaseID:        child.ReleaseID,
		Level:            level,
		CreatedAt:        child.CreatedAt,
		PropertyOps:      diffProperties(parent.Properties, child.Properties),
		ChunkRuns:        chunkScript.Runs,
		ChunkInserts:     chunkInserts,
		ComponentRuns:    componentScript.Runs,
		ComponentInserts: componentInserts,
		FileEdits:        fileEdits,
	}, nil
}

// buildComponentFileEdits walks the Keep anchors of componentScript in
// parent/child order and, for each one, diffs that component's file list.
func buildComponentFileEdits(componentScript deltaengine.EditScript, parentComponents, childComponents []Component) ([]ComponentFileEdit, error) {
	var edits []ComponentFileEdit
	parentCursor, childCursor := 0, 0

	for _, run := range componentScript.Runs {
		switch run.Op {
		case deltaengine.Keep:
			for i := 0; i < run.Len; i++ {
				pc := parentComponents[parentCursor]
				cc := childComponents[childCursor]
				if pc.Name != cc.Name {
					return nil, fmt.Errorf("release: patch: component edit script misaligned at parent %q child %q", pc.Name, cc.Name)
				}
				edit, err := diffComponentFiles(pc, cc)
				if err != nil {
					return nil, err
				}
				edits = append(edits, edit)
				parentCursor++
				childCursor++
			}
		case deltaengine.Del:
			parentCursor += run.Len
		case deltaengine.Ins:
			childCursor += run.Len
		}
	}
	return edits, nil
}

func diffComponentFiles(parent, child Component) (ComponentFileEdit, error) {
	script := deltaengine.Diff(parent.Files, child.Files,
		func(f File) string { return f.Name },
		func(f File) string { return f.Name },
	)

	inserts := make([]File, len(script.Inserts))
	for i, ci := range script.Inserts {
		inserts[i] = child.Files[ci]
	}

	var modifies []FileModify
	parentCursor, childCursor := 0, 0
	keptIndex := 0
	for _, run := range script.Runs {
		switch run.Op {
		case deltaengine.Keep:
			for i := 0; i < run.Len; i++ {
				pf := parent.Files[parentCursor]
				cf := child.Files[childCursor]
				if pf.Name != cf.Name {
					return ComponentFileEdit{}, fmt.Errorf("release: patch: file edit script misaligned at %q in component %q", pf.Name, parent.Name)
				}
				if !fileContentEqual(pf, cf) {
					modifies = append(modifies, FileModify{Index: keptIndex, File: cf})
				}
				parentCursor++
				childCursor++
				keptIndex++
			}
		case deltaengine.Del:
			parentCursor += run.Len
		case deltaengine.Ins:
			childCursor += run.Len
		}
	}

	return ComponentFileEdit{
		ComponentName: parent.Name,
		Runs:          script.Runs,
		Inserts:       inserts,
		Modifies:      modifies,
	}, nil
}

func fileContentEqual(a, b File) bool {
	if a.Hash != b.Hash || a.HasContentID != b.HasContentID || a.ContentID != b.ContentID {
		return false
	}
	if len(a.Inline) != len(b.Inline) {
		return false
	}
	for i := range a.Inline {
		if a.Inline[i] != b.Inline[i] {
			return false
		}
	}
	return true
}

func diffProperties(parent, child map[string]string) []PropertyOp {
	var ops []PropertyOp
	for _, k := range sortedKeys(child) {
		cv := child[k]
		if pv, ok := parent[k]; ok {
			if pv != cv {
				ops = append(ops, PropertyOp{Op: OpModify, Key: k, Value: cv})
			}
			continue
		}
		ops = append(ops, PropertyOp{Op: OpAdd, Key: k, Value: cv})
	}
	for _, k := range sortedKeys(parent) {
		if _, ok := child[k]; !ok {
			ops = append(ops, PropertyOp{Op: OpRemove, Key: k})
		}
	}
	return ops
}

// ApplyPatch reconstructs the child Package from parent and patch.
func ApplyPatch(parent *Package, patch *Patch) (*Package, error) {
	if parent.ReleaseID != patch.ParentID {
		return nil, fmt.Errorf("%w: patch parent_id %q does not match package %q", apperr.ErrConflict, patch.ParentID, parent.ReleaseID)
	}

	chunks := deltaengine.Apply(parent.Chunks, deltaengine.EditScript{Runs: patch.ChunkRuns}, patch.ChunkInserts)

	properties := make(map[string]string, len(parent.Properties))
	for k, v := range parent.Properties {
		properties[k] = v
	}
	for _, op := range patch.PropertyOps {
		switch op.Op {
		case OpAdd, OpModify:
			properties[op.Key] = op.Value
		case OpRemove:
			delete(properties, op.Key)
		}
	}

	components, err := applyComponentEdits(parent.Components, patch)
	if err != nil {
		return nil, err
	}

	child := &Package{
		Version:    parent.Version,
		ReleaseID:  patch.ReleaseID,
		RepoID:     parent.RepoID,
		Notes:      parent.Notes,
		Properties: properties,
		CreatedAt:  patch.CreatedAt,
		Chunks:     chunks,
		Components: components,
		ContentIDs: parent.ContentIDs,
	}
	child.Stats = computeStats(child)
	return child, nil
}

func applyComponentEdits(parentComponents []Component, patch *Patch) ([]Component, error) {
	editsByName := make(map[string]ComponentFileEdit, len(patch.FileEdits))
	for _, e := range patch.FileEdits {
		editsByName[e.ComponentName] = e
	}

	out := make([]Component, 0, len(parentComponents)+len(patch.ComponentInserts))
	parentCursor := 0
	insertCursor := 0

	for _, run := range patch.ComponentRuns {
		switch run.Op {
		case deltaengine.Keep:
			for i := 0; i < run.Len; i++ {
				pc := parentComponents[parentCursor]
				edit, ok := editsByName[pc.Name]
				if !ok {
					return nil, fmt.Errorf("%w: patch: kept component %q has no file edit record", apperr.ErrFormat, pc.Name)
				}
				files, err := applyFileEdit(pc.Files, edit)
				if err != nil {
					return nil, err
				}
				out = append(out, Component{Name: pc.Name, Files: files})
				parentCursor++
			}
		case deltaengine.Del:
			parentCursor += run.Len
		case deltaengine.Ins:
			out = append(out, patch.ComponentInserts[insertCursor:insertCursor+run.Len]...)
			insertCursor += run.Len
		}
	}
	return out, nil
}

func applyFileEdit(parentFiles []File, edit ComponentFileEdit) ([]File, error) {
	files := deltaengine.Apply(parentFiles, deltaengine.EditScript{Runs: edit.Runs}, edit.Inserts)
	for _, m := range edit.Modifies {
		if m.Index < 0 || m.Index >= len(files) {
			return nil, fmt.Errorf("%w: patch: file modify index %d out of range (%d files)", apperr.ErrFormat, m.Index, len(files))
		}
		files[m.Index] = m.File
	}
	return files, nil
}

// computeStats recomputes the cheap, store-independent fields of Stats
// (counts) after reconstructing a package from a patch. RawSize and
// DedupedSize require chunk lengths the pack store owns, not the package
// itself, and are left at the caller's prior value (zero here); a finalize
// path that has access to the chunk store recomputes them there.
func computeStats(p *Package) Stats {
	stats := Stats{ComponentCount: uint64(len(p.Components)), ChunkCount: uint64(len(p.Chunks))}
	for _, c := range p.Components {
		stats.FileCount += uint64(len(c.Files))
	}
	return stats
}

// EncodePatch serializes patch into its on-wire "BPKD" form. parentStringTable
// is the parent package's string table (Package.StringTable); EncodePatch
// extends it with whatever new substrings the patch's inserted/modified
// names introduce and emits those as the string-table delta section.
func EncodePatch(patch *Patch, parentStringTable []string) ([]byte, error) {
	table := strtable.FromEntries(parentStringTable)
	baseLen := len(parentStringTable)

	out := make([]byte, 0, 1024)
	out = append(out, patchMagic...)
	out = append(out, patchFormatVersion)

	var err error
	out, err = appendSection(out, patchSectionMetadata, encodePatchMetadata(patch), false)
	if err != nil {
		return nil, err
	}

	out, err = appendSection(out, patchSectionProperties, encodePropertyOps(patch.PropertyOps), false)
	if err != nil {
		return nil, err
	}

	chunksPayload, err := encodeChunkEdit(patch.ChunkRuns, patch.ChunkInserts)
	if err != nil {
		return nil, err
	}
	out, err = appendSection(out, patchSectionChunks, chunksPayload, false)
	if err != nil {
		return nil, err
	}

	componentsPayload := encodeComponentEdit(table, patch)
	out, err = appendSection(out, patchSectionComponents, componentsPayload, false)
	if err != nil {
		return nil, err
	}

	// The string table grows only while tokenizing names above, so it must
	// be serialized last to capture every entry the patch introduces.
	newEntries := table.Entries()[baseLen:]
	out, err = appendSection(out, patchSectionStrings, encodeStringOps(baseLen, newEntries), false)
	if err != nil {
		return nil, err
	}

	return out, nil
}

// DecodePatch parses the on-wire "BPKD" form produced by EncodePatch. The
// returned Patch's FileEdits/ComponentInserts carry detokenized names
// against a table seeded with parentStringTable plus the patch's own
// string-table delta.
func DecodePatch(data []byte, parentStringTable []string) (*Patch, error) {
	if len(data) < len(patchMagic)+1 {
		return nil, fmt.Errorf("%w: release patch shorter than header", apperr.ErrUnexpectedEOF)
	}
	if string(data[:len(patchMagic)]) != patchMagic {
		return nil, fmt.Errorf("%w: bad patch magic %q", apperr.ErrFormat, data[:len(patchMagic)])
	}
	pos := len(patchMagic)
	version := data[pos]
	pos++
	if version != patchFormatVersion {
		return nil, fmt.Errorf("%w: unsupported release patch version %d", apperr.ErrFormat, version)
	}

	sections, err := readSections(data[pos:], false)
	if err != nil {
		return nil, err
	}

	patch := &Patch{}
	table := strtable.FromEntries(parentStringTable)

	for _, s := range sections {
		switch s.id {
		case patchSectionStrings:
			if err := decodeStringOps(s.payload, table); err != nil {
				return nil, err
			}
		}
	}
	for _, s := range sections {
		switch s.id {
		case patchSectionMetadata:
			if err := decodePatchMetadata(patch, s.payload); err != nil {
				return nil, err
			}
		case patchSectionProperties:
			ops, err := decodePropertyOps(s.payload)
			if err != nil {
				return nil, err
			}
			patch.PropertyOps = ops
		case patchSectionChunks:
			runs, inserts, err := decodeChunkEdit(s.payload)
			if err != nil {
				return nil, err
			}
			patch.ChunkRuns, patch.ChunkInserts = runs, inserts
		case patchSectionComponents:
			if err := decodeComponentEdit(s.payload, table, patch); err != nil {
				return nil, err
			}
		case patchSectionStrings:
			// already applied above, before components/files needed it.
		default:
			return nil, fmt.Errorf("%w: unknown patch section id 0x%02x", apperr.ErrFormat, s.id)
		}
	}

	return patch, nil
}

func encodePatchMetadata(patch *Patch) []byte {
	out := writeString(nil, patch.ParentID)
	out = writeString(out, patch.ReleaseID)
	out = varint.AppendUint64(out, uint64(patch.Level))
	out = varint.AppendUint64(out, uint64(patch.CreatedAt.Unix()))
	return out
}

func decodePatchMetadata(patch *Patch, data []byte) error {
	s, adv, err := readString(data)
	if err != nil {
		return fmt.Errorf("release: patch metadata parent_id: %w", err)
	}
	patch.ParentID = s
	pos := adv

	s, adv, err = readString(data[pos:])
	if err != nil {
		return fmt.Errorf("release: patch metadata release_id: %w", err)
	}
	patch.ReleaseID = s
	pos += adv

	level, adv, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return fmt.Errorf("%w: patch metadata level: %v", apperr.ErrFormat, err)
	}
	patch.Level = uint32(level)
	pos += adv

	created, _, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return fmt.Errorf("%w: patch metadata created_at: %v", apperr.ErrFormat, err)
	}
	patch.CreatedAt = time.Unix(int64(created), 0).UTC()
	return nil
}

func encodePropertyOps(ops []PropertyOp) []byte {
	out := varint.AppendUint64(nil, uint64(len(ops)))
	for _, op := range ops {
		out = append(out, byte(op.Op))
		out = writeString(out, op.Key)
		if op.Op != OpRemove {
			out = writeString(out, op.Value)
		}
	}
	return out
}

func decodePropertyOps(data []byte) ([]PropertyOp, error) {
	count, n, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, fmt.Errorf("%w: property op count: %v", apperr.ErrFormat, err)
	}
	pos := n

	ops := make([]PropertyOp, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: property op %d: truncated", apperr.ErrUnexpectedEOF, i)
		}
		op := PatchOp(data[pos])
		pos++

		key, adv, err := readString(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("release: property op %d key: %w", i, err)
		}
		pos += adv

		var value string
		if op != OpRemove {
			value, adv, err = readString(data[pos:])
			if err != nil {
				return nil, fmt.Errorf("release: property op %d value: %w", i, err)
			}
			pos += adv
		}
		ops = append(ops, PropertyOp{Op: op, Key: key, Value: value})
	}
	return ops, nil
}

func encodeChunkEdit(runs []deltaengine.Run, inserts []hashid.Hash32) ([]byte, error) {
	out := encodeRuns(runs)
	insertsPayload, err := hashcodec.Encode(inserts)
	if err != nil {
		return nil, fmt.Errorf("release: patch: encode chunk inserts: %w", err)
	}
	out = append(out, insertsPayload...)
	return out, nil
}

func decodeChunkEdit(data []byte) ([]deltaengine.Run, []hashid.Hash32, error) {
	runs, n, err := decodeRuns(data)
	if err != nil {
		return nil, nil, err
	}
	inserts, err := hashcodec.Decode(data[n:])
	if err != nil {
		return nil, nil, fmt.Errorf("release: patch: decode chunk inserts: %w", err)
	}
	return runs, inserts, nil
}

func encodeRuns(runs []deltaengine.Run) []byte {
	out := varint.AppendUint64(nil, uint64(len(runs)))
	for _, r := range runs {
		out = append(out, byte(r.Op))
		out = varint.AppendUint64(out, uint64(r.Len))
	}
	return out
}

func decodeRuns(data []byte) ([]deltaengine.Run, int, error) {
	count, n, err := varint.DecodeUint64(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: run count: %v", apperr.ErrFormat, err)
	}
	pos := n

	runs := make([]deltaengine.Run, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(data) {
			return nil, 0, fmt.Errorf("%w: run %d: truncated", apperr.ErrUnexpectedEOF, i)
		}
		op := deltaengine.Op(data[pos])
		pos++
		length, adv, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: run %d length: %v", apperr.ErrFormat, i, err)
		}
		pos += adv
		runs = append(runs, deltaengine.Run{Op: op, Len: int(length)})
	}
	return runs, pos, nil
}

// encodeFileFull serializes one File in full (as a patch insert or modify
// payload), mirroring a single iteration of encodeComponents' file loop.
func encodeFileFull(table *strtable.Table, f File) []byte {
	out := strtable.EncodeTokens(table.Tokenize(f.Name))
	out = append(out, f.Hash[:]...)
	if f.HasContentID {
		out = append(out, fileFlagContentID)
		out = varint.AppendUint64(out, f.ContentID)
	} else {
		out = append(out, fileFlagInline)
		out = append(out, EncodeChunkRefs(f.Inline)...)
	}
	return out
}

func decodeFileFull(data []byte, table *strtable.Table) (File, int, error) {
	nameTokens, pos, err := strtable.DecodeTokens(data)
	if err != nil {
		return File{}, 0, fmt.Errorf("release: patch: file name: %w", err)
	}
	name, err := table.Detokenize(nameTokens)
	if err != nil {
		return File{}, 0, fmt.Errorf("release: patch: file name: %w", err)
	}

	if pos+hashid.Size32 > len(data) {
		return File{}, 0, fmt.Errorf("%w: patch file: truncated hash", apperr.ErrUnexpectedEOF)
	}
	var hash hashid.Hash32
	copy(hash[:], data[pos:pos+hashid.Size32])
	pos += hashid.Size32

	if pos >= len(data) {
		return File{}, 0, fmt.Errorf("%w: patch file: truncated encoding flag", apperr.ErrUnexpectedEOF)
	}
	flag := data[pos]
	pos++

	f := File{Name: name, Hash: hash}
	switch {
	case flag&fileFlagContentID != 0:
		contentID, adv, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return File{}, 0, fmt.Errorf("%w: patch file content id: %v", apperr.ErrFormat, err)
		}
		pos += adv
		f.HasContentID = true
		f.ContentID = contentID
	case flag&fileFlagInline != 0:
		refs, adv, err := DecodeChunkRefs(data[pos:])
		if err != nil {
			return File{}, 0, fmt.Errorf("release: patch file chunk refs: %w", err)
		}
		pos += adv
		f.Inline = refs
	default:
		return File{}, 0, fmt.Errorf("%w: patch file: encoding flag %#x sets neither bit", apperr.ErrFormat, flag)
	}
	return f, pos, nil
}

// encodeComponentFull serializes one Component in full (a patch insert
// payload): tokenized name, file count, then each file in full.
func encodeComponentFull(table *strtable.Table, c Component) []byte {
	out := strtable.EncodeTokens(table.Tokenize(c.Name))
	out = varint.AppendUint64(out, uint64(len(c.Files)))
	for _, f := range c.Files {
		out = append(out, encodeFileFull(table, f)...)
	}
	return out
}

func decodeComponentFull(data []byte, table *strtable.Table) (Component, int, error) {
	nameTokens, pos, err := strtable.DecodeTokens(data)
	if err != nil {
		return Component{}, 0, fmt.Errorf("release: patch: component name: %w", err)
	}
	name, err := table.Detokenize(nameTokens)
	if err != nil {
		return Component{}, 0, fmt.Errorf("release: patch: component name: %w", err)
	}

	fileCount, adv, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return Component{}, 0, fmt.Errorf("%w: patch: component file count: %v", apperr.ErrFormat, err)
	}
	pos += adv

	files := make([]File, 0, fileCount)
	for i := uint64(0); i < fileCount; i++ {
		f, adv, err := decodeFileFull(data[pos:], table)
		if err != nil {
			return Component{}, 0, fmt.Errorf("release: patch: component %q file %d: %w", name, i, err)
		}
		pos += adv
		files = append(files, f)
	}
	return Component{Name: name, Files: files}, pos, nil
}

// encodeComponentEdit serializes the components/files edit section: the
// component-list runs, full payloads for inserted components, and one file
// edit record per kept component.
func encodeComponentEdit(table *strtable.Table, patch *Patch) []byte {
	out := encodeRuns(patch.ComponentRuns)

	out = varint.AppendUint64(out, uint64(len(patch.ComponentInserts)))
	for _, c := range patch.ComponentInserts {
		out = append(out, encodeComponentFull(table, c)...)
	}

	out = varint.AppendUint64(out, uint64(len(patch.FileEdits)))
	for _, edit := range patch.FileEdits {
		out = append(out, strtable.EncodeTokens(table.Tokenize(edit.ComponentName))...)
		out = append(out, encodeRuns(edit.Runs)...)

		out = varint.AppendUint64(out, uint64(len(edit.Inserts)))
		for _, f := range edit.Inserts {
			out = append(out, encodeFileFull(table, f)...)
		}

		out = varint.AppendUint64(out, uint64(len(edit.Modifies)))
		for _, m := range edit.Modifies {
			out = varint.AppendUint64(out, uint64(m.Index))
			out = append(out, encodeFileFull(table, m.File)...)
		}
	}
	return out
}

func decodeComponentEdit(data []byte, table *strtable.Table, patch *Patch) error {
	runs, pos, err := decodeRuns(data)
	if err != nil {
		return err
	}
	patch.ComponentRuns = runs

	insertCount, adv, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return fmt.Errorf("%w: patch: component insert count: %v", apperr.ErrFormat, err)
	}
	pos += adv

	inserts := make([]Component, 0, insertCount)
	for i := uint64(0); i < insertCount; i++ {
		c, adv, err := decodeComponentFull(data[pos:], table)
		if err != nil {
			return fmt.Errorf("release: patch: component insert %d: %w", i, err)
		}
		pos += adv
		inserts = append(inserts, c)
	}
	patch.ComponentInserts = inserts

	editCount, adv, err := varint.DecodeUint64(data[pos:])
	if err != nil {
		return fmt.Errorf("%w: patch: file edit count: %v", apperr.ErrFormat, err)
	}
	pos += adv

	edits := make([]ComponentFileEdit, 0, editCount)
	for i := uint64(0); i < editCount; i++ {
		nameTokens, adv, err := strtable.DecodeTokens(data[pos:])
		if err != nil {
			return fmt.Errorf("release: patch: file edit %d component name: %w", i, err)
		}
		pos += adv
		name, err := table.Detokenize(nameTokens)
		if err != nil {
			return fmt.Errorf("release: patch: file edit %d component name: %w", i, err)
		}

		fileRuns, adv, err := decodeRuns(data[pos:])
		if err != nil {
			return fmt.Errorf("release: patch: file edit %d runs: %w", i, err)
		}
		pos += adv

		fileInsertCount, adv, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return fmt.Errorf("%w: patch: file edit %d insert count: %v", apperr.ErrFormat, i, err)
		}
		pos += adv

		fileInserts := make([]File, 0, fileInsertCount)
		for j := uint64(0); j < fileInsertCount; j++ {
			f, adv, err := decodeFileFull(data[pos:], table)
			if err != nil {
				return fmt.Errorf("release: patch: file edit %d insert %d: %w", i, j, err)
			}
			pos += adv
			fileInserts = append(fileInserts, f)
		}

		modifyCount, adv, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return fmt.Errorf("%w: patch: file edit %d modify count: %v", apperr.ErrFormat, i, err)
		}
		pos += adv

		modifies := make([]FileModify, 0, modifyCount)
		for j := uint64(0); j < modifyCount; j++ {
			index, adv, err := varint.DecodeUint64(data[pos:])
			if err != nil {
				return fmt.Errorf("%w: patch: file edit %d modify %d index: %v", apperr.ErrFormat, i, j, err)
			}
			pos += adv
			f, adv, err := decodeFileFull(data[pos:], table)
			if err != nil {
				return fmt.Errorf("release: patch: file edit %d modify %d: %w", i, j, err)
			}
			pos += adv
			modifies = append(modifies, FileModify{Index: int(index), File: f})
		}

		edits = append(edits, ComponentFileEdit{
			ComponentName: name,
			Runs:          fileRuns,
			Inserts:       fileInserts,
			Modifies:      modifies,
		})
	}
	patch.FileEdits = edits
	return nil
}

// encodeStringOps serializes the patch-local string-table delta: every
// entry the patch's tokenization introduced beyond the parent's table,
// each as an Add op carrying its assigned id and literal value.
func encodeStringOps(baseID int, newEntries []string) []byte {
	out := varint.AppendUint64(nil, uint64(len(newEntries)))
	for i, s := range newEntries {
		out = append(out, byte(OpAdd))
		out = varint.AppendUint64(out, uint64(baseID+i))
		out = writeString(out, s)
	}
	return out
}

// decodeStringOps applies a patch's string-table delta onto table in place,
// so subsequent sections can detokenize names the patch introduces. Remove
// and Modify are accepted for format completeness (a hand-built patch may
// use them) even though ComputePatch only ever emits Add.
func decodeStringOps(data []byte, table *strtable.Table) error {
	count, n, err := varint.DecodeUint64(data)
	if err != nil {
		return fmt.Errorf("%w: string op count: %v", apperr.ErrFormat, err)
	}
	pos := n

	for i := uint64(0); i < count; i++ {
		if pos >= len(data) {
			return fmt.Errorf("%w: string op %d: truncated", apperr.ErrUnexpectedEOF, i)
		}
		op := PatchOp(data[pos])
		pos++

		id, adv, err := varint.DecodeUint64(data[pos:])
		if err != nil {
			return fmt.Errorf("%w: string op %d id: %v", apperr.ErrFormat, i, err)
		}
		pos += adv

		switch op {
		case OpRemove:
			if err := table.SetEntry(uint16(id), ""); err != nil {
				return fmt.Errorf("release: patch: string op %d: %w", i, err)
			}
		case OpAdd, OpModify:
			value, adv, err := readString(data[pos:])
			if err != nil {
				return fmt.Errorf("release: patch: string op %d value: %w", i, err)
			}
			pos += adv
			if op == OpAdd {
				got := table.Intern(value)
				if got != uint16(id) {
					return fmt.Errorf("%w: string op %d: add assigned id %d, patch declared %d", apperr.ErrFormat, i, got, id)
				}
			} else if err := table.SetEntry(uint16(id), value); err != nil {
				return fmt.Errorf("release: patch: string op %d: %w", i, err)
			}
		default:
			return fmt.Errorf("%w: string op %d: unknown op %d", apperr.ErrFormat, i, op)
		}
	}
	return nil
}
