package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitAll(t *testing.T, wt *git.Worktree, msg string) {
	t.Helper()
	_, err := wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// testRepo creates a repository with two commits: the first adds a_test.go,
// the second modifies it and adds b_test.go plus a non-test file.
func testRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	writeFile(t, dir, "a_test.go", "package a\n")
	commitAll(t, wt, "initial")

	writeFile(t, dir, "a_test.go", "package a\n\nfunc TestA() {}\n")
	writeFile(t, dir, "b_test.go", "package a\n")
	writeFile(t, dir, "notes.txt", "not code\n")
	commitAll(t, wt, "second")

	return dir
}

func TestChangedFilesSinceRef(t *testing.T) {
	dir := testRepo(t)

	files, err := ChangedFiles(dir, "HEAD~1")
	require.NoError(t, err)

	assert.Equal(t, []string{"a_test.go", "b_test.go", "notes.txt"}, files)
}

func TestChangedFilesIncludesWorktreeEdits(t *testing.T) {
	dir := testRepo(t)

	writeFile(t, dir, "c_test.go", "package a\n")

	files, err := ChangedFiles(dir, "HEAD")
	require.NoError(t, err)

	assert.Contains(t, files, "c_test.go")
}

func TestChangedTestFilesFiltersNonTests(t *testing.T) {
	dir := testRepo(t)

	files, err := ChangedTestFiles(dir, "HEAD~1")
	require.NoError(t, err)

	assert.Equal(t, []string{"a_test.go", "b_test.go"}, files)
}

func TestChangedFilesBadRef(t *testing.T) {
	dir := testRepo(t)

	_, err := ChangedFiles(dir, "no-such-ref")
	assert.Error(t, err)
}

func TestChangedFilesNotARepository(t *testing.T) {
	_, err := ChangedFiles(t.TempDir(), "HEAD")
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestCurrentRef(t *testing.T) {
	dir := testRepo(t)

	ref, err := CurrentRef(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}

func TestIsDirty(t *testing.T) {
	dir := testRepo(t)

	dirty, err := IsDirty(dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	writeFile(t, dir, "a_test.go", "package a // edited\n")

	dirty, err = IsDirty(dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}
