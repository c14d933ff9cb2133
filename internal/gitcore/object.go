package gitcore

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var signatureRe = regexp.MustCompile("[<>]")

const (
	objectTypeCommit = "commit"
	objectTypeTree   = "tree"
	objectTypeBlob   = "blob"
	objectTypeTag    = "tag"
)

// Object represents a generic Git object. The ID is the hash of the framed
// encoding ("<type> <size>\0<payload>") and is set when the object is read
// from or written to the object database.
type Object interface {
	Type() ObjectType
}

// ObjectType uses the same numeric values as the Git pack format.
type ObjectType int

const (
	// NoneObject represents no git object.
	NoneObject ObjectType = 0
	// CommitObject represents a git commit object.
	CommitObject ObjectType = 1
	// TreeObject represents a git tree object.
	TreeObject ObjectType = 2
	// BlobObject represents a git blob object.
	BlobObject ObjectType = 3
	// TagObject represents a git tag object.
	TagObject ObjectType = 4
)

// String returns the Git object type name (e.g., "commit", "tree", "blob", "tag").
func (t ObjectType) String() string {
	switch t {
	case CommitObject:
		return objectTypeCommit
	case TreeObject:
		return objectTypeTree
	case BlobObject:
		return objectTypeBlob
	case TagObject:
		return objectTypeTag
	default:
		return "unknown"
	}
}

// StrToObjectType converts a type name to an ObjectType, NoneObject if unknown.
func StrToObjectType(s string) ObjectType {
	switch s {
	case objectTypeCommit:
		return CommitObject
	case objectTypeTag:
		return TagObject
	case objectTypeTree:
		return TreeObject
	case objectTypeBlob:
		return BlobObject
	default:
		return NoneObject
	}
}

// FileMode encodes the type and permission bits of a tree entry, using
// Git's octal values.
type FileMode uint32

const (
	// ModeDir marks a subdirectory entry (tree).
	ModeDir FileMode = 0o40000
	// ModeRegular marks a non-executable file.
	ModeRegular FileMode = 0o100644
	// ModeExecutable marks an executable file.
	ModeExecutable FileMode = 0o100755
	// ModeSymlink marks a symbolic link whose blob holds the target path.
	ModeSymlink FileMode = 0o120000
	// ModeGitlink marks a commit reference (submodule). Representable but
	// never produced by this implementation.
	ModeGitlink FileMode = 0o160000
)

// ParseFileMode parses the ASCII octal form used in tree payloads.
func ParseFileMode(s string) (FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad mode %q", ErrMalformed, s)
	}
	mode := FileMode(v)
	switch mode {
	case ModeDir, ModeRegular, ModeExecutable, ModeSymlink, ModeGitlink:
		return mode, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized mode %q", ErrMalformed, s)
	}
}

// String renders the mode as Git's ASCII octal (no leading zero: "40000",
// "100644", ...).
func (m FileMode) String() string { return strconv.FormatUint(uint64(m), 8) }

// IsDir reports whether the mode marks a subdirectory.
func (m FileMode) IsDir() bool { return m == ModeDir }

// IsFile reports whether the mode marks blob content (regular, executable,
// or symlink).
func (m FileMode) IsFile() bool {
	return m == ModeRegular || m == ModeExecutable || m == ModeSymlink
}

// Blob is raw byte content with no interpretation.
type Blob struct {
	ID   Hash
	Data []byte
}

// Type returns the ObjectType for a Blob.
func (b *Blob) Type() ObjectType { return BlobObject }

// TreeEntry is a single named entry within a Tree.
type TreeEntry struct {
	Mode FileMode `json:"mode"`
	Name string   `json:"name"`
	ID   Hash     `json:"hash"`
}

// Tree is a directory snapshot: an ordered list of entries.
type Tree struct {
	ID      Hash        `json:"hash"`
	Entries []TreeEntry `json:"entries"`
}

// Type returns the ObjectType for a Tree.
func (t *Tree) Type() ObjectType { return TreeObject }

// Lookup returns the entry with the given name, or false.
func (t *Tree) Lookup(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// entrySortName is the key trees are ordered by: directory entries sort as
// if their name had a trailing slash.
func entrySortName(e TreeEntry) string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// SortEntries orders the entries canonically. Encoding re-sorts
// unconditionally, so a sorted tree round-trips unchanged.
func (t *Tree) SortEntries() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return entrySortName(t.Entries[i]) < entrySortName(t.Entries[j])
	})
}

// validateEntryName rejects names that can never appear in a tree.
func validateEntryName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: tree entry name %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: tree entry name %q", ErrInvalidName, name)
	}
	return nil
}

// Commit is an immutable snapshot: a tree, zero or more parents, authorship,
// and a message.
type Commit struct {
	ID        Hash      `json:"hash"`
	Tree      Hash      `json:"tree"`
	Parents   []Hash    `json:"parents"`
	Author    Signature `json:"author"`
	Committer Signature `json:"committer"`
	Message   string    `json:"message"`
}

// Type returns the ObjectType for a Commit.
func (c *Commit) Type() ObjectType { return CommitObject }

// Summary returns the first line of the commit message.
func (c *Commit) Summary() string {
	if idx := strings.IndexByte(c.Message, '\n'); idx >= 0 {
		return c.Message[:idx]
	}
	return c.Message
}

// Tag is an annotated tag object pointing at another object.
type Tag struct {
	ID      Hash       `json:"hash"`
	Object  Hash       `json:"object"`
	ObjType ObjectType `json:"objectType"`
	Name    string     `json:"name"`
	Tagger  Signature  `json:"tagger"`
	Message string     `json:"message"`
}

// Type returns the ObjectType for a Tag.
func (t *Tag) Type() ObjectType { return TagObject }

// Signature identifies the author or committer of a commit, with the
// timezone offset preserved so encoding round-trips byte-identically.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// NewSignature constructs a signature at the given instant.
func NewSignature(name, email string, when time.Time) Signature {
	return Signature{Name: name, Email: email, When: when}
}

// String renders the canonical text form: "Name <email> <unix> <±HHMM>".
func (s Signature) String() string {
	_, offset := s.When.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	return fmt.Sprintf("%s <%s> %d %s%02d%02d",
		s.Name, s.Email, s.When.Unix(), sign, offset/3600, (offset%3600)/60)
}

// ParseSignature parses the canonical text form of a signature line.
func ParseSignature(signLine string) (Signature, error) {
	parts := signatureRe.Split(signLine, -1)
	if len(parts) != 3 {
		return Signature{}, fmt.Errorf("%w: %q", ErrBadSignature, signLine)
	}

	name := strings.TrimSpace(parts[0])
	email := strings.TrimSpace(parts[1])

	timePart := strings.TrimSpace(parts[2])
	timeFields := strings.Fields(timePart)
	if len(timeFields) == 0 {
		return Signature{}, fmt.Errorf("%w: missing timestamp in %q", ErrBadSignature, signLine)
	}

	unixTime, err := strconv.ParseInt(timeFields[0], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: bad timestamp in %q", ErrBadSignature, signLine)
	}

	loc := time.UTC
	if len(timeFields) >= 2 {
		if parsed := parseTimezone(timeFields[1]); parsed != nil {
			loc = parsed
		} else {
			return Signature{}, fmt.Errorf("%w: bad timezone in %q", ErrBadSignature, signLine)
		}
	}

	return Signature{
		Name:  name,
		Email: email,
		When:  time.Unix(unixTime, 0).In(loc),
	}, nil
}

// parseTimezone parses a Git timezone offset string (e.g., "+0530", "-0800")
// into a *time.Location. Returns nil if the string is not a valid offset.
func parseTimezone(tz string) *time.Location {
	if len(tz) != 5 {
		return nil
	}
	sign := 1
	if tz[0] == '-' {
		sign = -1
	} else if tz[0] != '+' {
		return nil
	}
	hours, err := strconv.Atoi(tz[1:3])
	if err != nil {
		return nil
	}
	mins, err := strconv.Atoi(tz[3:5])
	if err != nil {
		return nil
	}
	offset := sign * (hours*3600 + mins*60)
	return time.FixedZone(tz, offset)
}
