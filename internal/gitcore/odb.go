package gitcore

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rybkr/kvgit/internal/blobstore"
)

// objectKeyPrefix is where compressed objects live in the blob store.
const objectKeyPrefix = "objects/"

// maxDecompressedSize caps the size of any single decompressed object.
// Objects larger than this are rejected to prevent zip-bomb style attacks.
const maxDecompressedSize = 256 * 1024 * 1024 // 256MB

// ObjectDB is the content-addressed object store. Writes encode, hash, and
// deflate an object into the blob store; reads reverse the process and
// verify what they got. Because keys are content hashes, writes are
// idempotent and concurrent identical writes are safe.
type ObjectDB struct {
	store  blobstore.Store
	hasher Hasher
}

// NewObjectDB creates an object database over store using algo for identity.
func NewObjectDB(store blobstore.Store, algo Algorithm) *ObjectDB {
	return &ObjectDB{store: store, hasher: NewHasher(algo)}
}

// Algorithm returns the repository hash algorithm.
func (db *ObjectDB) Algorithm() Algorithm { return db.hasher.Algorithm() }

// objectKey derives the stable store key for a hash.
func objectKey(h Hash) string { return objectKeyPrefix + string(h) }

// Put stores an object and returns its hash. If the object is already
// present the hash is returned without rewriting: at most one effective
// write per hash.
func (db *ObjectDB) Put(ctx context.Context, obj Object) (Hash, error) {
	framed, err := EncodeObject(obj)
	if err != nil {
		return "", err
	}
	hash := db.hasher.Sum(framed)

	exists, err := db.store.Exists(ctx, objectKey(hash))
	if err != nil {
		return "", fmt.Errorf("checking object %s: %w", hash, err)
	}
	if exists {
		setObjectID(obj, hash)
		return hash, nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(framed); err != nil {
		return "", fmt.Errorf("compressing object %s: %w", hash, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compressing object %s: %w", hash, err)
	}

	if err := db.store.Set(ctx, objectKey(hash), buf.Bytes()); err != nil {
		return "", fmt.Errorf("storing object %s: %w", hash, err)
	}

	setObjectID(obj, hash)
	return hash, nil
}

// PutBlob stores raw bytes as a blob and returns its hash.
func (db *ObjectDB) PutBlob(ctx context.Context, data []byte) (Hash, error) {
	return db.Put(ctx, &Blob{Data: data})
}

// Get reads, decompresses, decodes, and verifies the object at hash.
// The returned object's ID field is set to hash.
func (db *ObjectDB) Get(ctx context.Context, hash Hash) (Object, error) {
	if hash.IsZero() {
		return nil, fmt.Errorf("%w: zero hash", ErrInvalidHash)
	}

	compressed, err := db.store.Get(ctx, objectKey(hash))
	if err != nil {
		if errors.Is(err, blobstore.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: object %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("reading object %s: %w", hash, err)
	}

	framed, err := readCompressedData(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: object %s: %v", ErrCorrupt, hash, err)
	}

	if got := db.hasher.Sum(framed); got != hash {
		return nil, fmt.Errorf("%w: object %s hashes to %s", ErrCorrupt, hash, got)
	}

	obj, err := DecodeObject(framed, db.Algorithm())
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", hash, err)
	}
	setObjectID(obj, hash)
	return obj, nil
}

// Has reports whether an object exists.
func (db *ObjectDB) Has(ctx context.Context, hash Hash) (bool, error) {
	return db.store.Exists(ctx, objectKey(hash))
}

// Delete removes an object. Deleting a missing object is not an error.
func (db *ObjectDB) Delete(ctx context.Context, hash Hash) error {
	return db.store.Delete(ctx, objectKey(hash))
}

// List returns the hashes of every stored object, in unspecified order.
func (db *ObjectDB) List(ctx context.Context) ([]Hash, error) {
	keys, err := db.store.List(ctx, objectKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	hashes := make([]Hash, 0, len(keys))
	for _, key := range keys {
		hex := strings.TrimPrefix(key, objectKeyPrefix)
		hash, err := NewHash(hex)
		if err != nil {
			// Foreign keys under objects/ are skipped, not fatal.
			continue
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// GetBlob retrieves raw blob data by hash.
func (db *ObjectDB) GetBlob(ctx context.Context, hash Hash) ([]byte, error) {
	obj, err := db.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	blob, ok := obj.(*Blob)
	if !ok {
		return nil, fmt.Errorf("%w: object %s is a %s, not a blob", ErrUnknownType, hash, obj.Type())
	}
	return blob.Data, nil
}

// GetTree retrieves a Tree object by hash.
func (db *ObjectDB) GetTree(ctx context.Context, hash Hash) (*Tree, error) {
	obj, err := db.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	tree, ok := obj.(*Tree)
	if !ok {
		return nil, fmt.Errorf("%w: object %s is a %s, not a tree", ErrUnknownType, hash, obj.Type())
	}
	return tree, nil
}

// GetCommit retrieves a Commit object by hash.
func (db *ObjectDB) GetCommit(ctx context.Context, hash Hash) (*Commit, error) {
	obj, err := db.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	commit, ok := obj.(*Commit)
	if !ok {
		return nil, fmt.Errorf("%w: object %s is a %s, not a commit", ErrUnknownType, hash, obj.Type())
	}
	return commit, nil
}

// GetTag retrieves an annotated Tag object by hash.
func (db *ObjectDB) GetTag(ctx context.Context, hash Hash) (*Tag, error) {
	obj, err := db.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	tag, ok := obj.(*Tag)
	if !ok {
		return nil, fmt.Errorf("%w: object %s is a %s, not a tag", ErrUnknownType, hash, obj.Type())
	}
	return tag, nil
}

// setObjectID stamps the identity on a decoded or stored object.
func setObjectID(obj Object, hash Hash) {
	switch o := obj.(type) {
	case *Blob:
		o.ID = hash
	case *Tree:
		o.ID = hash
	case *Commit:
		o.ID = hash
	case *Tag:
		o.ID = hash
	}
}

// readCompressedData reads and decompresses a zlib stream, enforcing
// maxDecompressedSize.
func readCompressedData(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid zlib stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read side; Copy already surfaced errors

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, maxDecompressedSize+1)); err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	if buf.Len() > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed object exceeds maximum allowed size (%d bytes)", maxDecompressedSize)
	}
	return buf.Bytes(), nil
}
