package gitcore

import (
	"context"
	"errors"

	"github.com/rybkr/kvgit/internal/blobstore"
)

// Sentinel errors forming the taxonomy visible at the package boundary.
// Callers dispatch on these with errors.Is; Code maps them to the short
// stable codes used by upper layers.
var (
	ErrNotFound          = errors.New("gitcore: not found")
	ErrAlreadyExists     = errors.New("gitcore: already exists")
	ErrInvalidName       = errors.New("gitcore: invalid name")
	ErrInvalidHash       = errors.New("gitcore: invalid hash")
	ErrMalformed         = errors.New("gitcore: malformed object")
	ErrUnknownType       = errors.New("gitcore: unknown object type")
	ErrSizeMismatch      = errors.New("gitcore: size mismatch")
	ErrBadSignature      = errors.New("gitcore: bad signature")
	ErrCorrupt           = errors.New("gitcore: corrupt object")
	ErrIsDir             = errors.New("gitcore: is a directory")
	ErrNotDir            = errors.New("gitcore: not a directory")
	ErrNotEmpty          = errors.New("gitcore: directory not empty")
	ErrRefUpdateConflict = errors.New("gitcore: ref update conflict")
	ErrCyclicRef         = errors.New("gitcore: cyclic symbolic ref")
	ErrRefTooDeep        = errors.New("gitcore: symbolic ref chain too deep")
	ErrNoCommonAncestor  = errors.New("gitcore: no common ancestor")
	ErrMergeConflict     = errors.New("gitcore: merge conflict")
	ErrDirtyWorkingTree  = errors.New("gitcore: working tree has local changes")
	ErrNotARepo          = errors.New("gitcore: not a repository")
	ErrCancelled         = errors.New("gitcore: operation cancelled")
	ErrNothingToCommit   = errors.New("gitcore: nothing to commit")
	ErrBareRepo          = errors.New("gitcore: bare repository has no working tree")
)

// Stable error codes for programmatic dispatch by upper layers (filesystem
// bindings, RPC surfaces). Every core error maps to exactly one code.
const (
	CodeNotFound         = "ENOENT"
	CodeExists           = "EEXIST"
	CodeIsDir            = "EISDIR"
	CodeNotDir           = "ENOTDIR"
	CodeNotEmpty         = "ENOTEMPTY"
	CodeInvalid          = "EINVAL"
	CodeIO               = "EIO"
	CodeQuotaExceeded    = "QUOTA_EXCEEDED"
	CodeCorrupt          = "CORRUPT"
	CodeMergeConflict    = "MERGE_CONFLICT"
	CodeDirtyWorkingTree = "DIRTY_WORKING_TREE"
	CodeNotARepo         = "NOT_A_REPO"
	CodeConflict         = "CONFLICT"
	CodeCancelled        = "CANCELLED"
)

// Code maps err to its short stable code. Unrecognized errors (including
// wrapped I/O failures from the blob store) report CodeIO.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, blobstore.ErrKeyNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeExists
	case errors.Is(err, ErrIsDir):
		return CodeIsDir
	case errors.Is(err, ErrNotDir):
		return CodeNotDir
	case errors.Is(err, ErrNotEmpty):
		return CodeNotEmpty
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidHash),
		errors.Is(err, ErrMalformed), errors.Is(err, ErrUnknownType),
		errors.Is(err, ErrBadSignature), errors.Is(err, ErrNothingToCommit),
		errors.Is(err, ErrBareRepo):
		return CodeInvalid
	case errors.Is(err, ErrSizeMismatch), errors.Is(err, ErrCorrupt):
		return CodeCorrupt
	case errors.Is(err, blobstore.ErrQuotaExceeded):
		return CodeQuotaExceeded
	case errors.Is(err, ErrMergeConflict), errors.Is(err, ErrNoCommonAncestor):
		return CodeMergeConflict
	case errors.Is(err, ErrDirtyWorkingTree):
		return CodeDirtyWorkingTree
	case errors.Is(err, ErrNotARepo):
		return CodeNotARepo
	case errors.Is(err, ErrRefUpdateConflict), errors.Is(err, ErrCyclicRef),
		errors.Is(err, ErrRefTooDeep):
		return CodeConflict
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return CodeIO
	}
}

// cancelled wraps a context error as ErrCancelled so callers see one
// sentinel regardless of whether the cause was cancel or deadline.
func cancelled(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrCancelled, err)
}
