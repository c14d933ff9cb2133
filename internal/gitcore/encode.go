package gitcore

import (
	"bytes"
	"fmt"
	"strconv"
)

// EncodeObject produces the framed canonical byte form of an object:
// "<type> <size>\0" followed by the payload. Hashing these bytes yields the
// object's identity; a decode of the result is equal to the input.
func EncodeObject(obj Object) ([]byte, error) {
	payload, err := encodeBody(obj)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(payload) + 16)
	buf.WriteString(obj.Type().String())
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(len(payload)))
	buf.WriteByte(0)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// encodeBody produces the unframed payload for an object.
func encodeBody(obj Object) ([]byte, error) {
	switch o := obj.(type) {
	case *Blob:
		return o.Data, nil
	case *Tree:
		return encodeTreeBody(o)
	case *Commit:
		return encodeCommitBody(o)
	case *Tag:
		return encodeTagBody(o)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, obj)
	}
}

// encodeTreeBody serializes tree entries as
// "<octal mode> <name>\0<raw hash>" each, in canonical order. Entries are
// re-sorted before encoding so callers never produce an out-of-order tree.
func encodeTreeBody(t *Tree) ([]byte, error) {
	sorted := &Tree{Entries: make([]TreeEntry, len(t.Entries))}
	copy(sorted.Entries, t.Entries)
	sorted.SortEntries()

	var buf bytes.Buffer
	for _, entry := range sorted.Entries {
		if err := validateEntryName(entry.Name); err != nil {
			return nil, err
		}
		raw, err := entry.ID.Raw()
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", entry.Name, err)
		}
		buf.WriteString(entry.Mode.String())
		buf.WriteByte(' ')
		buf.WriteString(entry.Name)
		buf.WriteByte(0)
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// encodeCommitBody serializes commit headers, a blank line, and the message
// verbatim. The message is not normalized: what went in comes back out, so
// identity is stable across decode/encode round trips.
func encodeCommitBody(c *Commit) ([]byte, error) {
	if c.Tree.IsZero() {
		return nil, fmt.Errorf("%w: commit without tree", ErrMalformed)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.Tree)
	for _, parent := range c.Parents {
		fmt.Fprintf(&buf, "parent %s\n", parent)
	}
	fmt.Fprintf(&buf, "author %s\n", c.Author)
	fmt.Fprintf(&buf, "committer %s\n", c.Committer)
	buf.WriteByte('\n')
	buf.WriteString(c.Message)
	return buf.Bytes(), nil
}

// encodeTagBody serializes an annotated tag.
func encodeTagBody(t *Tag) ([]byte, error) {
	if t.Object.IsZero() {
		return nil, fmt.Errorf("%w: tag without target", ErrMalformed)
	}
	if t.ObjType == NoneObject {
		return nil, fmt.Errorf("%w: tag without target type", ErrMalformed)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "object %s\n", t.Object)
	fmt.Fprintf(&buf, "type %s\n", t.ObjType)
	fmt.Fprintf(&buf, "tag %s\n", t.Name)
	fmt.Fprintf(&buf, "tagger %s\n", t.Tagger)
	buf.WriteByte('\n')
	buf.WriteString(t.Message)
	return buf.Bytes(), nil
}
