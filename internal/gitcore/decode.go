package gitcore

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// DecodeObject parses the framed byte form "<type> <size>\0<payload>".
// The hash width used for tree payloads comes from algo — it is never
// inferred from the payload itself. Malformed input yields a typed error;
// decoders do not panic on adversarial bytes.
func DecodeObject(data []byte, algo Algorithm) (Object, error) {
	objType, payload, err := splitFrame(data)
	if err != nil {
		return nil, err
	}
	return decodeBody(objType, payload, algo)
}

// splitFrame validates the "<type> <size>\0" header and returns the type
// and payload. The declared size must match the payload length exactly.
func splitFrame(data []byte) (ObjectType, []byte, error) {
	nullIdx := bytes.IndexByte(data, 0)
	if nullIdx == -1 {
		return NoneObject, nil, fmt.Errorf("%w: missing header terminator", ErrMalformed)
	}

	header := string(data[:nullIdx])
	typeName, sizeStr, found := strings.Cut(header, " ")
	if !found {
		return NoneObject, nil, fmt.Errorf("%w: bad header %q", ErrMalformed, header)
	}

	objType := StrToObjectType(typeName)
	if objType == NoneObject {
		return NoneObject, nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}

	size, err := strconv.Atoi(sizeStr)
	if err != nil || size < 0 {
		return NoneObject, nil, fmt.Errorf("%w: bad size %q", ErrMalformed, sizeStr)
	}

	payload := data[nullIdx+1:]
	if len(payload) != size {
		return NoneObject, nil, fmt.Errorf("%w: header declares %d bytes, payload has %d",
			ErrSizeMismatch, size, len(payload))
	}

	return objType, payload, nil
}

// decodeBody dispatches an unframed payload to the per-type decoder.
func decodeBody(objType ObjectType, payload []byte, algo Algorithm) (Object, error) {
	switch objType {
	case BlobObject:
		data := make([]byte, len(payload))
		copy(data, payload)
		return &Blob{Data: data}, nil
	case TreeObject:
		return parseTreeBody(payload, algo)
	case CommitObject:
		return parseCommitBody(payload)
	case TagObject:
		return parseTagBody(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, objType)
	}
}

// parseTreeBody parses tree entries. The raw hash width is fixed by algo;
// a payload whose entries do not fit that width exactly is malformed.
func parseTreeBody(body []byte, algo Algorithm) (*Tree, error) {
	tree := &Tree{Entries: make([]TreeEntry, 0)}
	rawLen := algo.RawLen()

	rest := body
	for len(rest) > 0 {
		spaceIdx := bytes.IndexByte(rest, ' ')
		if spaceIdx == -1 {
			return nil, fmt.Errorf("%w: tree entry missing mode terminator", ErrMalformed)
		}
		mode, err := ParseFileMode(string(rest[:spaceIdx]))
		if err != nil {
			return nil, err
		}
		rest = rest[spaceIdx+1:]

		nullIdx := bytes.IndexByte(rest, 0)
		if nullIdx == -1 {
			return nil, fmt.Errorf("%w: tree entry missing name terminator", ErrMalformed)
		}
		name := string(rest[:nullIdx])
		if err := validateEntryName(name); err != nil {
			return nil, err
		}
		rest = rest[nullIdx+1:]

		if len(rest) < rawLen {
			return nil, fmt.Errorf("%w: tree entry %q truncated hash", ErrMalformed, name)
		}
		hash, err := NewHashFromBytes(rest[:rawLen])
		if err != nil {
			return nil, fmt.Errorf("tree entry %q: %w", name, err)
		}
		rest = rest[rawLen:]

		tree.Entries = append(tree.Entries, TreeEntry{Mode: mode, Name: name, ID: hash})
	}

	return tree, nil
}

// parseCommitBody parses commit headers up to the first blank line; the
// remainder is the message, preserved byte-for-byte.
func parseCommitBody(body []byte) (*Commit, error) {
	headers, message := splitMessage(body)
	commit := &Commit{Message: message}

	var sawTree, sawAuthor, sawCommitter bool
	for _, line := range headers {
		key, value, found := strings.Cut(line, " ")
		if !found {
			return nil, fmt.Errorf("%w: commit header %q", ErrMalformed, line)
		}
		switch key {
		case "tree":
			tree, err := NewHash(value)
			if err != nil {
				return nil, fmt.Errorf("commit tree: %w", err)
			}
			commit.Tree = tree
			sawTree = true
		case "parent":
			parent, err := NewHash(value)
			if err != nil {
				return nil, fmt.Errorf("commit parent: %w", err)
			}
			commit.Parents = append(commit.Parents, parent)
		case "author":
			author, err := ParseSignature(value)
			if err != nil {
				return nil, fmt.Errorf("commit author: %w", err)
			}
			commit.Author = author
			sawAuthor = true
		case "committer":
			committer, err := ParseSignature(value)
			if err != nil {
				return nil, fmt.Errorf("commit committer: %w", err)
			}
			commit.Committer = committer
			sawCommitter = true
		default:
			return nil, fmt.Errorf("%w: unexpected commit header %q", ErrMalformed, key)
		}
	}

	if !sawTree || !sawAuthor || !sawCommitter {
		return nil, fmt.Errorf("%w: commit missing required headers", ErrMalformed)
	}
	return commit, nil
}

// parseTagBody parses an annotated tag.
func parseTagBody(body []byte) (*Tag, error) {
	headers, message := splitMessage(body)
	tag := &Tag{Message: message}

	var sawObject, sawType bool
	for _, line := range headers {
		key, value, found := strings.Cut(line, " ")
		if !found {
			return nil, fmt.Errorf("%w: tag header %q", ErrMalformed, line)
		}
		switch key {
		case "object":
			object, err := NewHash(value)
			if err != nil {
				return nil, fmt.Errorf("tag object: %w", err)
			}
			tag.Object = object
			sawObject = true
		case "type":
			objType := StrToObjectType(value)
			if objType == NoneObject {
				return nil, fmt.Errorf("%w: tag target type %q", ErrUnknownType, value)
			}
			tag.ObjType = objType
			sawType = true
		case "tag":
			tag.Name = value
		case "tagger":
			tagger, err := ParseSignature(value)
			if err != nil {
				return nil, fmt.Errorf("tagger: %w", err)
			}
			tag.Tagger = tagger
		default:
			return nil, fmt.Errorf("%w: unexpected tag header %q", ErrMalformed, key)
		}
	}

	if !sawObject || !sawType {
		return nil, fmt.Errorf("%w: tag missing required headers", ErrMalformed)
	}
	return tag, nil
}

// splitMessage splits a commit/tag payload into header lines and the
// verbatim message after the first blank line. A payload with no blank line
// has an empty message.
func splitMessage(body []byte) (headers []string, message string) {
	headerBytes := body
	if idx := bytes.Index(body, []byte("\n\n")); idx >= 0 {
		headerBytes = body[:idx]
		message = string(body[idx+2:])
	} else {
		headerBytes = bytes.TrimSuffix(body, []byte("\n"))
	}

	if len(headerBytes) == 0 {
		return nil, message
	}
	return strings.Split(string(headerBytes), "\n"), message
}
