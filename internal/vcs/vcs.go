// Package vcs answers one question for incremental runs: which files moved
// since a given ref. It wraps go-git so the caller never touches plumbing.
package vcs

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/panbanda/augur/pkg/parser"
)

// ErrNotRepository is returned when the path is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

func open(repoPath string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{
		DetectDotGit: true,
	})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotRepository
	}
	return repo, err
}

// ChangedFiles returns the paths (relative to the repository root) touched
// between ref and HEAD, plus anything staged, modified, or untracked in the
// worktree. Files deleted since ref are not returned; there is nothing left
// to analyze.
func ChangedFiles(repoPath, ref string) ([]string, error) {
	repo, err := open(repoPath)
	if err != nil {
		return nil, err
	}

	baseHash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", ref, err)
	}
	baseTree, err := treeAt(repo, *baseHash)
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	headTree, err := treeAt(repo, head.Hash())
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return nil, err
	}

	set := map[string]bool{}
	for _, c := range changes {
		if c.To.Name != "" {
			set[c.To.Name] = true
		}
	}

	// Fold in worktree state so uncommitted edits are never silently skipped.
	wt, err := repo.Worktree()
	if err == nil {
		if status, err := wt.Status(); err == nil {
			for path, s := range status {
				if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
					set[path] = true
				}
			}
		}
	}

	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// ChangedTestFiles narrows ChangedFiles to test sources.
func ChangedTestFiles(repoPath, ref string) ([]string, error) {
	files, err := ChangedFiles(repoPath, ref)
	if err != nil {
		return nil, err
	}
	tests := files[:0]
	for _, f := range files {
		if parser.IsTestFile(f) {
			tests = append(tests, f)
		}
	}
	return tests, nil
}

// CurrentRef returns the branch name, or the commit SHA on a detached HEAD.
func CurrentRef(repoPath string) (string, error) {
	repo, err := open(repoPath)
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		return "", err
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return head.Hash().String(), nil
}

// IsDirty reports whether tracked files have uncommitted changes. Untracked
// files do not count.
func IsDirty(repoPath string) (bool, error) {
	repo, err := open(repoPath)
	if err != nil {
		return false, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, err
	}
	for _, s := range status {
		if s.Staging == git.Untracked && s.Worktree == git.Untracked {
			continue
		}
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			return true, nil
		}
	}
	return false, nil
}

func treeAt(repo *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}
