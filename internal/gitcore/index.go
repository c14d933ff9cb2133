package gitcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// Index file constants. The serialization is repository-private: it is not
// compatible with Git's on-disk index format, only semantically equivalent.
const (
	// indexMagic is the 4-byte signature that begins every serialized index.
	indexMagic = "KIDX"

	// indexVersion is the only supported layout version.
	indexVersion = 1

	// indexHeaderSize is magic + version + entry count.
	indexHeaderSize = 12

	// indexEntryAlignment pads each entry's total length to this boundary.
	indexEntryAlignment = 8
)

// indexFixedEntrySize is the byte count of an entry's fixed fields before
// the hash and the variable-length path:
//
//	ctime_ns  8
//	mtime_ns  8
//	size      8
//	mode      4
//	flags     2
//	total    30
const indexFixedEntrySize = 30

// IndexEntry records one staged path: the blob hash the next commit will
// contain for it, plus cached stat info used to cheaply detect working-tree
// changes.
type IndexEntry struct {
	Path    string   `json:"path"`
	Mode    FileMode `json:"mode"`
	Hash    Hash     `json:"hash"`
	Size    int64    `json:"size"`
	MtimeNs int64    `json:"mtimeNs"`
	CtimeNs int64    `json:"ctimeNs"`
	Flags   uint16   `json:"flags"`
}

// Index is the staging area: an ordered path → (mode, hash, stat) map
// sitting between the working tree and the next commit. Paths are unique,
// slash-separated, relative, and sorted lexicographically.
type Index struct {
	algo    Algorithm
	entries []IndexEntry
	dirty   bool
}

// NewIndex returns an empty index for the given hash algorithm.
func NewIndex(algo Algorithm) *Index {
	return &Index{algo: algo, entries: make([]IndexEntry, 0)}
}

// ValidatePath enforces the index path invariants: relative, forward
// slashes, no empty, ".", or ".." segments, no NUL.
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: path %q", ErrInvalidName, path)
	}
	if strings.ContainsAny(path, "\x00\\") {
		return fmt.Errorf("%w: path %q", ErrInvalidName, path)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: path %q", ErrInvalidName, path)
		}
	}
	return nil
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Entries returns the entries in path order. The slice is shared; callers
// must not mutate it.
func (idx *Index) Entries() []IndexEntry { return idx.entries }

// Dirty reports whether the index changed since it was last loaded or saved.
func (idx *Index) Dirty() bool { return idx.dirty }

// search returns the insertion position for path and whether it is present.
func (idx *Index) search(path string) (int, bool) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Path >= path
	})
	return i, i < len(idx.entries) && idx.entries[i].Path == path
}

// Get returns the entry for path, if present.
func (idx *Index) Get(path string) (IndexEntry, bool) {
	i, found := idx.search(path)
	if !found {
		return IndexEntry{}, false
	}
	return idx.entries[i], true
}

// Upsert inserts or replaces the entry for entry.Path, keeping sort order.
func (idx *Index) Upsert(entry IndexEntry) error {
	if err := ValidatePath(entry.Path); err != nil {
		return err
	}
	i, found := idx.search(entry.Path)
	if found {
		idx.entries[i] = entry
	} else {
		idx.entries = append(idx.entries, IndexEntry{})
		copy(idx.entries[i+1:], idx.entries[i:])
		idx.entries[i] = entry
	}
	idx.dirty = true
	return nil
}

// Remove deletes the entry for path, reporting whether it was present.
func (idx *Index) Remove(path string) bool {
	i, found := idx.search(path)
	if !found {
		return false
	}
	idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	idx.dirty = true
	return true
}

// Clear drops every entry.
func (idx *Index) Clear() {
	idx.entries = idx.entries[:0]
	idx.dirty = true
}

// markClean records that the in-memory state matches persisted state.
func (idx *Index) markClean() { idx.dirty = false }

// Encode serializes the index: header, aligned entries, and a trailing
// checksum over everything before it.
func (idx *Index) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(indexMagic)

	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], indexVersion)
	buf.Write(scratch[:4])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(idx.entries)))
	buf.Write(scratch[:4])

	for _, entry := range idx.entries {
		raw, err := entry.Hash.Raw()
		if err != nil {
			return nil, fmt.Errorf("index entry %q: %w", entry.Path, err)
		}
		if len(raw) != idx.algo.RawLen() {
			return nil, fmt.Errorf("%w: index entry %q hash width %d", ErrInvalidHash, entry.Path, len(raw))
		}

		start := buf.Len()
		binary.BigEndian.PutUint64(scratch[:], uint64(entry.CtimeNs))
		buf.Write(scratch[:])
		binary.BigEndian.PutUint64(scratch[:], uint64(entry.MtimeNs))
		buf.Write(scratch[:])
		binary.BigEndian.PutUint64(scratch[:], uint64(entry.Size))
		buf.Write(scratch[:])
		binary.BigEndian.PutUint32(scratch[:4], uint32(entry.Mode))
		buf.Write(scratch[:4])
		binary.BigEndian.PutUint16(scratch[:2], entry.Flags)
		buf.Write(scratch[:2])
		buf.Write(raw)
		buf.WriteString(entry.Path)
		buf.WriteByte(0)

		// Pad the entry to the alignment boundary.
		for (buf.Len()-start)%indexEntryAlignment != 0 {
			buf.WriteByte(0)
		}
	}

	checksum := NewHasher(idx.algo).Sum(buf.Bytes())
	rawSum, err := checksum.Raw()
	if err != nil {
		return nil, err
	}
	buf.Write(rawSum)
	return buf.Bytes(), nil
}

// DecodeIndex parses a serialized index, validating the layout and the
// trailing checksum.
func DecodeIndex(data []byte, algo Algorithm) (*Index, error) {
	rawLen := algo.RawLen()
	if len(data) < indexHeaderSize+rawLen {
		return nil, fmt.Errorf("%w: index too short (%d bytes)", ErrMalformed, len(data))
	}

	body, trailer := data[:len(data)-rawLen], data[len(data)-rawLen:]
	wantSum, err := NewHashFromBytes(trailer)
	if err != nil {
		return nil, fmt.Errorf("index checksum: %w", err)
	}
	if got := NewHasher(algo).Sum(body); got != wantSum {
		return nil, fmt.Errorf("%w: index checksum mismatch", ErrCorrupt)
	}

	if string(body[:4]) != indexMagic {
		return nil, fmt.Errorf("%w: bad index magic %q", ErrMalformed, string(body[:4]))
	}
	version := binary.BigEndian.Uint32(body[4:8])
	if version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported index version %d", ErrMalformed, version)
	}
	count := binary.BigEndian.Uint32(body[8:12])

	idx := &Index{algo: algo, entries: make([]IndexEntry, 0, count)}
	offset := indexHeaderSize
	var prevPath string
	for i := uint32(0); i < count; i++ {
		entry, consumed, err := parseIndexEntry(body, offset, rawLen)
		if err != nil {
			return nil, fmt.Errorf("index entry %d at offset %d: %w", i, offset, err)
		}
		if i > 0 && entry.Path <= prevPath {
			return nil, fmt.Errorf("%w: index entries out of order at %q", ErrCorrupt, entry.Path)
		}
		prevPath = entry.Path
		idx.entries = append(idx.entries, entry)
		offset += consumed
	}
	if offset != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes after index entries", ErrMalformed, len(body)-offset)
	}

	return idx, nil
}

// parseIndexEntry decodes one entry starting at offset, returning it and
// the total bytes consumed including alignment padding.
func parseIndexEntry(data []byte, offset, rawLen int) (IndexEntry, int, error) {
	fixed := indexFixedEntrySize + rawLen
	if offset+fixed > len(data) {
		return IndexEntry{}, 0, fmt.Errorf("%w: truncated fixed fields", ErrMalformed)
	}

	p := data[offset:]
	var entry IndexEntry
	entry.CtimeNs = int64(binary.BigEndian.Uint64(p[0:8]))  //nolint:gosec // round-trips the encoded value
	entry.MtimeNs = int64(binary.BigEndian.Uint64(p[8:16])) //nolint:gosec // round-trips the encoded value
	entry.Size = int64(binary.BigEndian.Uint64(p[16:24]))   //nolint:gosec // round-trips the encoded value
	mode, err := ParseFileMode(FileMode(binary.BigEndian.Uint32(p[24:28])).String())
	if err != nil {
		return IndexEntry{}, 0, err
	}
	entry.Mode = mode
	entry.Flags = binary.BigEndian.Uint16(p[28:30])

	hash, err := NewHashFromBytes(p[indexFixedEntrySize : indexFixedEntrySize+rawLen])
	if err != nil {
		return IndexEntry{}, 0, err
	}
	entry.Hash = hash

	pathStart := offset + fixed
	nullIdx := bytes.IndexByte(data[pathStart:], 0)
	if nullIdx == -1 {
		return IndexEntry{}, 0, fmt.Errorf("%w: unterminated path", ErrMalformed)
	}
	entry.Path = string(data[pathStart : pathStart+nullIdx])
	if err := ValidatePath(entry.Path); err != nil {
		return IndexEntry{}, 0, err
	}

	rawEntryLen := fixed + nullIdx + 1
	paddedLen := (rawEntryLen + indexEntryAlignment - 1) &^ (indexEntryAlignment - 1)
	if offset+paddedLen > len(data) {
		return IndexEntry{}, 0, fmt.Errorf("%w: entry extends past end of index", ErrMalformed)
	}
	return entry, paddedLen, nil
}

// WriteTree materializes the flat entry list into a tree hierarchy, storing
// each directory tree in the object database bottom-up, and returns the
// root tree hash. An empty index produces the empty tree.
func (idx *Index) WriteTree(ctx context.Context, odb *ObjectDB) (Hash, error) {
	return writeTreeLevel(ctx, odb, idx.entries, "")
}

// writeTreeLevel encodes one directory level. entries is the contiguous
// sorted run of index entries living under prefix (which is empty or ends
// with "/").
func writeTreeLevel(ctx context.Context, odb *ObjectDB, entries []IndexEntry, prefix string) (Hash, error) {
	tree := &Tree{Entries: make([]TreeEntry, 0, len(entries))}

	i := 0
	for i < len(entries) {
		rel := strings.TrimPrefix(entries[i].Path, prefix)
		slash := strings.IndexByte(rel, '/')
		if slash < 0 {
			tree.Entries = append(tree.Entries, TreeEntry{
				Mode: entries[i].Mode,
				Name: rel,
				ID:   entries[i].Hash,
			})
			i++
			continue
		}

		// A subdirectory: consume its contiguous run of entries.
		dir := rel[:slash]
		subPrefix := prefix + dir + "/"
		j := i
		for j < len(entries) && strings.HasPrefix(entries[j].Path, subPrefix) {
			j++
		}
		subHash, err := writeTreeLevel(ctx, odb, entries[i:j], subPrefix)
		if err != nil {
			return "", err
		}
		tree.Entries = append(tree.Entries, TreeEntry{Mode: ModeDir, Name: dir, ID: subHash})
		i = j
	}

	hash, err := odb.Put(ctx, tree)
	if err != nil {
		return "", fmt.Errorf("writing tree for %q: %w", prefix, err)
	}
	return hash, nil
}
