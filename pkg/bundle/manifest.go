// Package bundle models the content-addressed file tree at the root of every
// evidence bundle and verifies it in a fixed evaluation order.
package bundle

import (
	"errors"
	"sort"
	"strings"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
)

type FileEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

type Manifest struct {
	SchemaVersion string      `json:"schemaVersion"`
	Files         []FileEntry `json:"files"`
	ManifestHash  string      `json:"manifestHash"`
}

const SchemaVersionV1 = "manifest-v1"

// Issue is one structured verification finding. Codes are a public contract.
type Issue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

const (
	CodeSchemaUnsupported = "MANIFEST_SCHEMA_UNSUPPORTED"
	CodePathInvalid       = "MANIFEST_PATH_INVALID"
	CodeDuplicatePath     = "MANIFEST_DUPLICATE_PATH"
	CodePathCaseCollision = "MANIFEST_PATH_CASE_COLLISION"
	CodeSymlinkForbidden  = "MANIFEST_SYMLINK_FORBIDDEN"
	CodeFileHashMismatch  = "FILE_HASH_MISMATCH"
	CodeFileMissing       = "FILE_MISSING"
	CodeManifestMismatch  = "MANIFEST_HASH_MISMATCH"
)

// ReadFile reads the raw bytes of a manifest-listed path. Injected so the
// verifier itself never touches disk.
type ReadFile func(path string) ([]byte, error)

// IsSymlink reports whether a listed path is a symbolic link.
type IsSymlink func(path string) (bool, error)

var ErrManifestRequired = errors.New("manifest is required")

// ValidatePath checks one manifest path against the structural rules:
// '/'-separated, relative, no traversal segments, no backslash/colon/NUL,
// no empty or trailing-slash segments.
func ValidatePath(p string) (reason string, ok bool) {
	if p == "" {
		return "empty path", false
	}
	if strings.ContainsRune(p, '\x00') {
		return "NUL byte in path", false
	}
	if strings.ContainsRune(p, '\\') {
		return "backslash in path", false
	}
	if strings.ContainsRune(p, ':') {
		return "colon in path", false
	}
	if strings.HasPrefix(p, "/") {
		return "absolute path", false
	}
	if strings.HasSuffix(p, "/") {
		return "trailing slash", false
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "":
			return "empty path segment", false
		case ".", "..":
			return "traversal segment", false
		}
	}
	return "", true
}

// Build constructs an immutable manifest for the given relative paths.
// Derived verify/** outputs are excluded by construction so the manifest hash
// never covers artifacts derived from it.
func Build(paths []string, read ReadFile) (Manifest, error) {
	if read == nil {
		return Manifest{}, errors.New("read function is required")
	}
	uniq := make([]string, 0, len(paths))
	seen := map[string]struct{}{}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "verify/") {
			continue
		}
		if reason, ok := ValidatePath(p); !ok {
			return Manifest{}, errors.New("invalid manifest path: " + reason)
		}
		if _, dup := seen[p]; dup {
			return Manifest{}, errors.New("duplicate manifest path: " + p)
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	sort.Strings(uniq)

	m := Manifest{SchemaVersion: SchemaVersionV1, Files: make([]FileEntry, 0, len(uniq))}
	for _, p := range uniq {
		b, err := read(p)
		if err != nil {
			return Manifest{}, err
		}
		m.Files = append(m.Files, FileEntry{
			Path:   p,
			SHA256: canonhash.HashFileBytes(b),
			Bytes:  int64(len(b)),
		})
	}
	hash, err := canonhash.HashCanonical(m, "manifestHash")
	if err != nil {
		return Manifest{}, err
	}
	m.ManifestHash = hash
	return m, nil
}

// Hash recomputes the manifest's own hash with the embedded value excluded.
func Hash(m Manifest) (string, error) {
	return canonhash.HashCanonical(m, "manifestHash")
}

func sortIssues(issues []Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Code < issues[j].Code
	})
}
