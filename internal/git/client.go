package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"git.home.luguber.info/inful/docpages/internal/config"
	"git.home.luguber.info/inful/docpages/internal/logfields"
	"git.home.luguber.info/inful/docpages/internal/retry"
)

// Client drives all repository operations for a single publish run.
type Client struct {
	url        string
	stable     string
	publishing string
	author     config.AuthorConfig
	auth       transport.AuthMethod
	dir        string
	repo       *gogit.Repository
	pushPolicy retry.Policy

	// OnPushRetry is invoked before each push retry attempt (metrics hook).
	OnPushRetry func()
}

// NewClient builds a client from configuration. dir is the checkout directory
// inside the workspace.
func NewClient(cfg *config.Config, dir string) (*Client, error) {
	auth, err := buildAuthMethod(cfg.Source.Auth)
	if err != nil {
		return nil, err
	}
	pushRetries := cfg.Publish.PushRetries
	policy := retry.FromConfig(cfg.Build.Retry)
	policy.MaxRetries = pushRetries

	return &Client{
		url:        cfg.Source.URL,
		stable:     cfg.Source.Branch,
		publishing: cfg.Publish.Branch,
		author:     cfg.Publish.Author,
		auth:       auth,
		dir:        dir,
		pushPolicy: policy,
	}, nil
}

// Dir returns the checkout directory.
func (c *Client) Dir() string { return c.dir }

// StableBranch returns the configured stable branch name.
func (c *Client) StableBranch() string { return c.stable }

// PublishingBranch returns the configured publishing branch name.
func (c *Client) PublishingBranch() string { return c.publishing }

// CloneOrOpen opens an existing clone (persistent workspace) or clones the
// source repository with full history. Merging needs the full history, so no
// shallow clone here.
func (c *Client) CloneOrOpen(ctx context.Context) error {
	repo, err := gogit.PlainOpen(c.dir)
	if err == nil {
		c.repo = repo
		slog.Debug("Opened existing clone", logfields.Path(c.dir))
		return nil
	}
	if !errors.Is(err, gogit.ErrRepositoryNotExists) {
		return fmt.Errorf("open repository %s: %w", c.dir, err)
	}

	slog.Info("Cloning repository", logfields.URL(c.url), logfields.Path(c.dir))
	repo, err = gogit.PlainCloneContext(ctx, c.dir, false, &gogit.CloneOptions{
		URL:  c.url,
		Auth: c.auth,
		Tags: gogit.NoTags,
	})
	if err != nil {
		return classifyRemoteError("clone", c.url, err)
	}
	c.repo = repo

	if ref, herr := repo.Head(); herr == nil {
		slog.Info("Repository cloned successfully", logfields.URL(c.url), logfields.Commit(ref.Hash().String()[:8]))
	}
	return nil
}

// FetchSource fetches all branch heads from origin (no tags).
func (c *Client) FetchSource(ctx context.Context) error {
	if c.repo == nil {
		return fmt.Errorf("repository not opened")
	}
	err := c.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitcfg.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
		Auth:       c.auth,
		Tags:       gogit.NoTags,
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return classifyRemoteError("fetch", c.url, err)
	}
	return nil
}

// CheckoutStable resets the local stable branch to origin/<stable> and checks
// it out, so the worktree reflects the triggering commit.
func (c *Client) CheckoutStable(ctx context.Context) error {
	if c.repo == nil {
		return fmt.Errorf("repository not opened")
	}
	head, err := c.ResolveStableHead()
	if err != nil {
		return err
	}
	wt, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	localRef := plumbing.NewBranchReferenceName(c.stable)
	if err := c.repo.Storer.SetReference(plumbing.NewHashReference(localRef, head)); err != nil {
		return fmt.Errorf("update local branch %s: %w", c.stable, err)
	}
	if err := wt.Checkout(&gogit.CheckoutOptions{Branch: localRef, Force: true}); err != nil {
		return fmt.Errorf("checkout %s: %w", c.stable, err)
	}
	return nil
}

// ResolveStableHead returns the hash of origin/<stable>. This is the
// triggering commit recorded in the publish commit message.
func (c *Client) ResolveStableHead() (plumbing.Hash, error) {
	return c.resolveRemoteBranch(c.stable)
}

// ResolvePublishingHead returns the hash of origin/<publishing>, or
// plumbing.ZeroHash when the remote branch does not exist yet.
func (c *Client) ResolvePublishingHead() (plumbing.Hash, error) {
	h, err := c.resolveRemoteBranch(c.publishing)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, err
	}
	return h, nil
}

func (c *Client) resolveRemoteBranch(branch string) (plumbing.Hash, error) {
	if c.repo == nil {
		return plumbing.ZeroHash, fmt.Errorf("repository not opened")
	}
	ref, err := c.repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve origin/%s: %w", branch, err)
	}
	return ref.Hash(), nil
}

// HeadHash returns the current HEAD commit hash.
func (c *Client) HeadHash() (plumbing.Hash, error) {
	if c.repo == nil {
		return plumbing.ZeroHash, fmt.Errorf("repository not opened")
	}
	ref, err := c.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash(), nil
}
