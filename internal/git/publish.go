package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"git.home.luguber.info/inful/docpages/internal/logfields"
)

// CheckoutPublishing checks out the local publishing branch. When the remote
// branch exists the local branch is reset to it; when it does not, an unborn
// orphan branch is prepared so that the first publish commit bootstraps it.
func (c *Client) CheckoutPublishing(ctx context.Context) error {
	if c.repo == nil {
		return fmt.Errorf("repository not opened")
	}
	wt, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}

	localRef := plumbing.NewBranchReferenceName(c.publishing)

	remoteHead, err := c.ResolvePublishingHead()
	if err != nil {
		return err
	}
	if remoteHead.IsZero() {
		// First publish: unborn orphan branch. The next commit has no parents.
		head := plumbing.NewSymbolicReference(plumbing.HEAD, localRef)
		if err := c.repo.Storer.SetReference(head); err != nil {
			return fmt.Errorf("prepare orphan branch %s: %w", c.publishing, err)
		}
		slog.Info("Publishing branch missing on remote, bootstrapping orphan branch",
			logfields.Branch(c.publishing))
		return nil
	}

	// Reset the local branch to the remote head so stale local state from a
	// persistent workspace never diverges.
	if err := c.repo.Storer.SetReference(plumbing.NewHashReference(localRef, remoteHead)); err != nil {
		return fmt.Errorf("update local branch %s: %w", c.publishing, err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Branch: localRef, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", c.publishing, err)
	}
	slog.Debug("Checked out publishing branch",
		logfields.Branch(c.publishing), logfields.Commit(remoteHead.String()[:8]))
	return nil
}

// MergeStable merges the stable head into the publishing branch.
//
// go-git has no merge porcelain, so the merge is realized directly: when the
// publishing head is an ancestor of the stable head the branch fast-forwards;
// otherwise the stable tree is overlaid onto the worktree (preserving the
// output directory, which only the publishing branch owns) and a commit with
// both heads as parents is created.
//
// The returned hash is the new publishing head.
func (c *Client) MergeStable(ctx context.Context, stableHead plumbing.Hash, outputDir string) (plumbing.Hash, error) {
	if c.repo == nil {
		return plumbing.ZeroHash, fmt.Errorf("repository not opened")
	}
	wt, err := c.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("worktree: %w", err)
	}

	localRef := plumbing.NewBranchReferenceName(c.publishing)

	pubRef, err := c.repo.Reference(localRef, true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Orphan bootstrap: materialize the stable tree in the worktree so the
			// first publish commit carries sources plus output.
			if err := c.overlayCommitTree(ctx, wt, stableHead, outputDir); err != nil {
				return plumbing.ZeroHash, err
			}
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", localRef, err)
	}
	pubHead := pubRef.Hash()

	if pubHead == stableHead {
		return pubHead, nil
	}

	pubCommit, err := c.repo.CommitObject(pubHead)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("load publishing commit: %w", err)
	}
	stableCommit, err := c.repo.CommitObject(stableHead)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("load stable commit: %w", err)
	}

	ancestor, err := pubCommit.IsAncestor(stableCommit)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("ancestry check: %w", err)
	}
	if ancestor {
		// Fast-forward: move the branch to the stable head.
		if err := c.repo.Storer.SetReference(plumbing.NewHashReference(localRef, stableHead)); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("fast-forward %s: %w", c.publishing, err)
		}
		if err := wt.Checkout(&gogit.CheckoutOptions{Branch: localRef, Force: true}); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("checkout after fast-forward: %w", err)
		}
		slog.Info("Fast-forwarded publishing branch",
			logfields.Branch(c.publishing), logfields.Commit(stableHead.String()[:8]))
		return stableHead, nil
	}

	// Real merge: overlay the stable tree onto the worktree, keep the output
	// directory, and record both parents.
	if err := c.overlayCommitTree(ctx, wt, stableHead, outputDir); err != nil {
		return plumbing.ZeroHash, err
	}

	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("status after overlay: %w", err)
	}
	if status.IsClean() {
		// Trees already agree; a merge commit still records the ancestry.
		slog.Debug("Stable overlay produced no worktree changes")
	}

	msg := fmt.Sprintf("Merge branch '%s' into %s", c.stable, c.publishing)
	mergeHash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author:            c.signature(),
		Parents:           []plumbing.Hash{pubHead, stableHead},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("merge commit: %w", err)
	}
	slog.Info("Merged stable into publishing branch",
		logfields.Branch(c.publishing), logfields.Commit(mergeHash.String()[:8]))
	return mergeHash, nil
}

// overlayCommitTree writes every file of the commit's tree into the worktree
// and stages it, skipping paths under outputDir.
func (c *Client) overlayCommitTree(ctx context.Context, wt *gogit.Worktree, hash plumbing.Hash, outputDir string) error {
	commit, err := c.repo.CommitObject(hash)
	if err != nil {
		return fmt.Errorf("load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("load tree: %w", err)
	}

	outputPrefix := filepath.ToSlash(filepath.Clean(outputDir)) + "/"

	return tree.Files().ForEach(func(f *object.File) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if outputDir != "" && (strings.HasPrefix(f.Name, outputPrefix) || f.Name == filepath.ToSlash(filepath.Clean(outputDir))) {
			return nil
		}

		contents, err := f.Contents()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
		target := filepath.Join(c.dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return fmt.Errorf("mkdir for %s: %w", f.Name, err)
		}
		mode, err := f.Mode.ToOSFileMode()
		if err != nil {
			mode = 0o644
		}
		if err := os.WriteFile(target, []byte(contents), mode); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
		if _, err := wt.Add(f.Name); err != nil {
			return fmt.Errorf("stage %s: %w", f.Name, err)
		}
		return nil
	})
}

// CommitOutput stages the output directory and commits it. Returns
// ErrNothingToCommit when the build changed nothing.
func (c *Client) CommitOutput(ctx context.Context, message, outputDir string) (plumbing.Hash, error) {
	if c.repo == nil {
		return plumbing.ZeroHash, fmt.Errorf("repository not opened")
	}
	wt, err := c.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("worktree: %w", err)
	}

	if _, err := wt.Add(filepath.ToSlash(filepath.Clean(outputDir))); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("stage output %s: %w", outputDir, err)
	}

	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("status: %w", err)
	}
	if status.IsClean() {
		return plumbing.ZeroHash, ErrNothingToCommit
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{Author: c.signature()})
	if err != nil {
		if errors.Is(err, gogit.ErrEmptyCommit) {
			return plumbing.ZeroHash, ErrNothingToCommit
		}
		return plumbing.ZeroHash, fmt.Errorf("commit output: %w", err)
	}
	slog.Info("Committed build output", logfields.Commit(hash.String()[:8]))
	return hash, nil
}

// Push pushes the publishing branch, retrying transient failures per policy.
// The branch is never force-pushed; a non-fast-forwardable remote yields a
// RemoteDivergedError.
func (c *Client) Push(ctx context.Context) error {
	if c.repo == nil {
		return fmt.Errorf("repository not opened")
	}

	spec := gitcfg.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", c.publishing, c.publishing))

	var lastErr error
	for attempt := 0; attempt <= c.pushPolicy.MaxRetries; attempt++ {
		if attempt > 0 {
			if c.OnPushRetry != nil {
				c.OnPushRetry()
			}
			delay := c.pushPolicy.Delay(attempt)
			slog.Warn("Retrying push", logfields.Branch(c.publishing),
				slog.Int("attempt", attempt), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.repo.PushContext(ctx, &gogit.PushOptions{
			RemoteName: "origin",
			RefSpecs:   []gitcfg.RefSpec{spec},
			Auth:       c.auth,
		})
		if err == nil || errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "non-fast-forward") {
			return &RemoteDivergedError{Op: "push", URL: c.url, Branch: c.publishing, Err: err}
		}
		lastErr = classifyRemoteError("push", c.url, err)
		if IsPermanent(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("push %s failed after retries: %w", c.publishing, lastErr)
}

func (c *Client) signature() *object.Signature {
	return &object.Signature{
		Name:  c.author.Name,
		Email: c.author.Email,
		When:  time.Now(),
	}
}
