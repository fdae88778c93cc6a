package driver

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5"

	"ai/interpreter-go/pkg/bytecode"
)

// Revision returns the HEAD commit hash of the git repository containing
// path. It returns "" without error when path is not inside a repository or
// the repository has no commits yet.
func Revision(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("revision: resolve %s: %w", path, err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return "", nil
		}
		return "", fmt.Errorf("revision: open repository at %s: %w", abs, err)
	}
	head, err := repo.Head()
	if err != nil {
		// An empty repository has no HEAD to resolve.
		return "", nil
	}
	return head.Hash().String(), nil
}

// StampRevision records the revision of the repository holding source in
// prog.Meta. A source outside any repository leaves the program unchanged.
func StampRevision(prog *bytecode.Program, source string) error {
	rev, err := Revision(filepath.Dir(source))
	if err != nil {
		return err
	}
	if rev != "" {
		prog.Meta.Revision = rev
	}
	return nil
}
