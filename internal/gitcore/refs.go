package gitcore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rybkr/kvgit/internal/blobstore"
)

const (
	// symbolicPrefix marks a ref value that points at another ref by name.
	symbolicPrefix = "ref: "

	// maxSymrefDepth bounds recursive symbolic resolution.
	maxSymrefDepth = 10
)

// Reserved top-level ref names that bypass the refs/ prefix requirement.
var reservedRefNames = map[string]bool{
	"HEAD":       true,
	"FETCH_HEAD": true,
	"ORIG_HEAD":  true,
	"MERGE_HEAD": true,
}

// Ref is a named pointer: either direct (Target holds a commit hash) or
// symbolic (SymbolicTarget holds another ref name).
type Ref struct {
	Name           string `json:"name"`
	Target         Hash   `json:"target,omitempty"`
	SymbolicTarget string `json:"symbolicTarget,omitempty"`
}

// IsSymbolic reports whether the ref points at another ref by name.
func (r Ref) IsSymbolic() bool { return r.SymbolicTarget != "" }

// RefStore reads and writes references in the blob store. Writes are
// serialized through an internal mutex so that compare-and-set updates are
// atomic within the process; the ref write is the linearization point for
// every repository mutation.
type RefStore struct {
	store blobstore.Store
	mu    sync.Mutex
}

// NewRefStore creates a reference store over the given blob store.
func NewRefStore(store blobstore.Store) *RefStore {
	return &RefStore{store: store}
}

// ValidateRefName enforces the subset of git-check-ref-format this core
// supports: reserved names pass as-is; everything else must live under
// refs/ and obey the character and structure rules.
func ValidateRefName(name string) error {
	if reservedRefNames[name] {
		return nil
	}
	if !strings.HasPrefix(name, "refs/") {
		return fmt.Errorf("%w: ref %q must be under refs/", ErrInvalidName, name)
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("%w: ref %q", ErrInvalidName, name)
	}
	if strings.Contains(name, "..") || strings.Contains(name, "//") || strings.Contains(name, "@{") {
		return fmt.Errorf("%w: ref %q", ErrInvalidName, name)
	}
	for _, component := range strings.Split(name, "/") {
		if component == "" || strings.HasPrefix(component, ".") {
			return fmt.Errorf("%w: ref %q", ErrInvalidName, name)
		}
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Errorf("%w: ref %q contains %q", ErrInvalidName, name, r)
		}
	}
	return nil
}

// Read returns the ref stored under name, direct or symbolic.
func (rs *RefStore) Read(ctx context.Context, name string) (Ref, error) {
	if err := ValidateRefName(name); err != nil {
		return Ref{}, err
	}
	return rs.read(ctx, name)
}

// read fetches and parses without re-validating the name.
func (rs *RefStore) read(ctx context.Context, name string) (Ref, error) {
	value, err := rs.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrKeyNotFound) {
			return Ref{}, fmt.Errorf("%w: ref %s", ErrNotFound, name)
		}
		return Ref{}, fmt.Errorf("reading ref %s: %w", name, err)
	}
	return parseRefValue(name, value)
}

// parseRefValue interprets a stored ref value: "ref: <name>" for symbolic
// refs, a hex hash otherwise.
func parseRefValue(name string, value []byte) (Ref, error) {
	line := strings.TrimSpace(string(value))
	if target, ok := strings.CutPrefix(line, symbolicPrefix); ok {
		target = strings.TrimSpace(target)
		if err := ValidateRefName(target); err != nil {
			return Ref{}, fmt.Errorf("ref %s: symbolic target: %w", name, err)
		}
		return Ref{Name: name, SymbolicTarget: target}, nil
	}
	hash, err := NewHash(line)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: ref %s holds %q", ErrCorrupt, name, line)
	}
	return Ref{Name: name, Target: hash}, nil
}

// Write stores a direct ref. With expected == nil the write is
// unconditional; otherwise it is a compare-and-set against the current
// target (use the zero hash to require that the ref not exist), failing
// with ErrRefUpdateConflict and leaving state untouched on mismatch.
func (rs *RefStore) Write(ctx context.Context, name string, target Hash, expected *Hash) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	if target.IsZero() {
		return fmt.Errorf("%w: ref %s target is zero", ErrInvalidHash, name)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if expected != nil {
		if err := rs.checkExpected(ctx, name, *expected); err != nil {
			return err
		}
	}
	if err := rs.store.Set(ctx, name, []byte(string(target)+"\n")); err != nil {
		return fmt.Errorf("writing ref %s: %w", name, err)
	}
	return nil
}

// WriteSymbolic stores a symbolic ref (used for HEAD attached to a branch).
func (rs *RefStore) WriteSymbolic(ctx context.Context, name, target string) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	if err := ValidateRefName(target); err != nil {
		return fmt.Errorf("symbolic target: %w", err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := rs.store.Set(ctx, name, []byte(symbolicPrefix+target+"\n")); err != nil {
		return fmt.Errorf("writing ref %s: %w", name, err)
	}
	return nil
}

// checkExpected compares the ref's current target against expected.
// A zero expected hash means "must not exist". Caller holds rs.mu.
func (rs *RefStore) checkExpected(ctx context.Context, name string, expected Hash) error {
	current, err := rs.read(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		if !expected.IsZero() {
			return fmt.Errorf("%w: ref %s does not exist, expected %s", ErrRefUpdateConflict, name, expected)
		}
		return nil
	case err != nil:
		return err
	case current.IsSymbolic():
		return fmt.Errorf("%w: ref %s is symbolic", ErrRefUpdateConflict, name)
	case expected.IsZero():
		return fmt.Errorf("%w: ref %s already exists at %s", ErrRefUpdateConflict, name, current.Target)
	case current.Target != expected:
		return fmt.Errorf("%w: ref %s is at %s, expected %s", ErrRefUpdateConflict, name, current.Target, expected)
	}
	return nil
}

// Delete removes a ref. Deleting a missing ref is not an error.
func (rs *RefStore) Delete(ctx context.Context, name string) error {
	if err := ValidateRefName(name); err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if err := rs.store.Delete(ctx, name); err != nil {
		return fmt.Errorf("deleting ref %s: %w", name, err)
	}
	return nil
}

// List returns all refs under prefix (e.g. "refs/heads/"), sorted by name.
// Refs that fail to parse are skipped rather than failing the listing.
func (rs *RefStore) List(ctx context.Context, prefix string) ([]Ref, error) {
	if prefix == "" {
		prefix = "refs/"
	}
	keys, err := rs.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing refs %q: %w", prefix, err)
	}

	refs := make([]Ref, 0, len(keys))
	for _, key := range keys {
		ref, err := rs.read(ctx, key)
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

// Resolve follows symbolic refs from name until a direct ref is reached and
// returns its hash. Chains longer than maxSymrefDepth fail with
// ErrRefTooDeep; a chain that revisits a name fails with ErrCyclicRef.
func (rs *RefStore) Resolve(ctx context.Context, name string) (Hash, error) {
	if err := ValidateRefName(name); err != nil {
		return "", err
	}

	seen := make(map[string]bool)
	current := name
	for depth := 0; depth <= maxSymrefDepth; depth++ {
		if seen[current] {
			return "", fmt.Errorf("%w: via %s", ErrCyclicRef, name)
		}
		seen[current] = true

		ref, err := rs.read(ctx, current)
		if err != nil {
			return "", err
		}
		if !ref.IsSymbolic() {
			return ref.Target, nil
		}
		current = ref.SymbolicTarget
	}
	return "", fmt.Errorf("%w: via %s", ErrRefTooDeep, name)
}
