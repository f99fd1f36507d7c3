package bundle

import (
	"strings"
	"sync"

	"github.com/nooterra/nooterra-sub010/pkg/canonhash"
)

// VerifyDeps carries the injected I/O the verifier needs. Reads happen only in
// the file-hashing step; everything else is pure.
type VerifyDeps struct {
	Read      ReadFile
	IsSymlink IsSymlink
	// Concurrency bounds the file-hashing worker pool. Zero or negative
	// means sequential.
	Concurrency int
}

// Verify runs the fixed-order manifest state machine and returns the issues
// from the first failing step. The order is a portability contract: path
// structure, duplicates, symlinks, file hashes, then the manifest hash.
// Issues within a step are sorted by (path, code) regardless of the order in
// which workers complete.
func Verify(m Manifest, deps VerifyDeps) []Issue {
	if m.SchemaVersion != SchemaVersionV1 {
		return []Issue{{Code: CodeSchemaUnsupported, Message: "unsupported manifest schemaVersion", Detail: m.SchemaVersion}}
	}

	// Step 1: structural path validation, before any hashing.
	var issues []Issue
	for _, f := range m.Files {
		if reason, ok := ValidatePath(f.Path); !ok {
			issues = append(issues, Issue{Code: CodePathInvalid, Path: f.Path, Message: reason})
		}
	}
	if len(issues) > 0 {
		sortIssues(issues)
		return issues
	}

	// Step 2: exact duplicates, then case-insensitive collisions.
	exact := map[string]int{}
	folded := map[string][]string{}
	for _, f := range m.Files {
		exact[f.Path]++
		lower := strings.ToLower(f.Path)
		folded[lower] = append(folded[lower], f.Path)
	}
	for path, n := range exact {
		if n > 1 {
			issues = append(issues, Issue{Code: CodeDuplicatePath, Path: path, Message: "duplicate path"})
		}
	}
	if len(issues) == 0 {
		for _, paths := range folded {
			if len(paths) > 1 {
				for _, p := range paths {
					issues = append(issues, Issue{Code: CodePathCaseCollision, Path: p, Message: "case-insensitive path collision"})
				}
			}
		}
	}
	if len(issues) > 0 {
		sortIssues(issues)
		return issues
	}

	// Step 3: symlink rejection. Never downgradeable to a warning.
	if deps.IsSymlink != nil {
		for _, f := range m.Files {
			link, err := deps.IsSymlink(f.Path)
			if err != nil {
				issues = append(issues, Issue{Code: CodeFileMissing, Path: f.Path, Message: "missing file", Detail: err.Error()})
				continue
			}
			if link {
				issues = append(issues, Issue{Code: CodeSymlinkForbidden, Path: f.Path, Message: "symlinks are forbidden"})
			}
		}
	}
	if len(issues) > 0 {
		sortIssues(issues)
		return issues
	}

	// Step 4: per-file byte hashing against files[].sha256.
	issues = hashFiles(m.Files, deps)
	if len(issues) > 0 {
		sortIssues(issues)
		return issues
	}

	// Step 5: recompute manifestHash with the embedded value excluded.
	computed, err := Hash(m)
	if err != nil {
		return []Issue{{Code: CodeManifestMismatch, Message: "manifestHash mismatch", Detail: err.Error()}}
	}
	if computed != canonhash.StripPrefix(m.ManifestHash) {
		return []Issue{{
			Code:    CodeManifestMismatch,
			Message: "manifestHash mismatch",
			Detail:  "computed " + computed,
		}}
	}
	return nil
}

// hashFiles hashes every listed file, optionally across a bounded worker
// pool. Completion order never leaks into the result; callers sort.
func hashFiles(files []FileEntry, deps VerifyDeps) []Issue {
	if deps.Read == nil {
		out := make([]Issue, 0, len(files))
		for _, f := range files {
			out = append(out, Issue{Code: CodeFileMissing, Path: f.Path, Message: "missing file", Detail: "no file reader provided"})
		}
		return out
	}

	results := make([][]Issue, len(files))
	workers := deps.Concurrency
	if workers <= 1 || len(files) <= 1 {
		for i, f := range files {
			results[i] = hashOne(f, deps.Read)
		}
	} else {
		if workers > len(files) {
			workers = len(files)
		}
		var wg sync.WaitGroup
		jobs := make(chan int)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					results[i] = hashOne(files[i], deps.Read)
				}
			}()
		}
		for i := range files {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
	}

	var out []Issue
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

func hashOne(f FileEntry, read ReadFile) []Issue {
	b, err := read(f.Path)
	if err != nil {
		return []Issue{{Code: CodeFileMissing, Path: f.Path, Message: "missing file", Detail: err.Error()}}
	}
	computed := canonhash.HashFileBytes(b)
	if computed != canonhash.StripPrefix(f.SHA256) {
		return []Issue{{Code: CodeFileHashMismatch, Path: f.Path, Message: "sha256 mismatch", Detail: "computed " + computed}}
	}
	return nil
}
