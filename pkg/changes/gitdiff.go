package changes

import (
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ChangedPaths computes the set of paths changed between two revisions of
// the repository at repoPath. An empty toRev means HEAD. The result is the
// change-set input the detector consumes.
func ChangedPaths(repoPath, fromRev, toRev string) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", repoPath, err)
	}

	if toRev == "" {
		toRev = "HEAD"
	}

	fromTree, err := revTree(repo, fromRev)
	if err != nil {
		return nil, err
	}
	toTree, err := revTree(repo, toRev)
	if err != nil {
		return nil, err
	}

	diff, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", fromRev, toRev, err)
	}

	seen := make(map[string]bool)
	for _, change := range diff {
		if change.From.Name != "" {
			seen[change.From.Name] = true
		}
		if change.To.Name != "" {
			seen[change.To.Name] = true
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	return paths, nil
}

func revTree(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revision %q: %w", rev, err)
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", hash, err)
	}

	return tree, nil
}
