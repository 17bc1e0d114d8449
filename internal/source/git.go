package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/mcpgateway/gateway/internal/gitauth"
)

// GitSource serves the registry document from a clone of the registry
// repository. A sync manager keeps the clone current.
type GitSource struct {
	config        GitConfig
	repo          *git.Repository
	worktree      *git.Worktree
	currentCommit string
	mu            sync.RWMutex
	logger        *slog.Logger
}

// GitConfig holds git source configuration
type GitConfig struct {
	RepoURL   string
	Branch    string
	FilePath  string
	LocalPath string
	Auth      *gitauth.AppAuth
	Logger    *slog.Logger
}

// NewGit creates a new git source instance
func NewGit(cfg GitConfig) (*GitSource, error) {
	if cfg.RepoURL == "" {
		return nil, errors.New("repo URL is required")
	}
	if cfg.LocalPath == "" {
		return nil, errors.New("local path is required")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.FilePath == "" {
		cfg.FilePath = "registry.yaml"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &GitSource{
		config: cfg,
		logger: cfg.Logger,
	}, nil
}

// Clone performs the initial repository clone with context timeout.
func (s *GitSource) Clone(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.config.LocalPath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	// Clean clone: remove any stale checkout first.
	if err := os.RemoveAll(s.config.LocalPath); err != nil {
		return fmt.Errorf("failed to clean existing directory: %w", err)
	}

	auth, err := s.getAuth(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}

	s.logger.Info("cloning registry repository",
		"repo_url", s.config.RepoURL,
		"branch", s.config.Branch,
	)

	repo, err := git.PlainCloneContext(ctx, s.config.LocalPath, false, &git.CloneOptions{
		URL:           s.config.RepoURL,
		ReferenceName: plumbing.NewBranchReferenceName(s.config.Branch),
		SingleBranch:  true,
		Depth:         1,
		Auth:          auth,
	})
	if err != nil {
		return fmt.Errorf("clone failed: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	s.repo = repo
	s.worktree = worktree

	if err := s.updateCurrentCommit(); err != nil {
		return fmt.Errorf("failed to get current commit: %w", err)
	}

	s.logger.Info("clone completed", "commit", s.currentCommit)
	return nil
}

// Pull fetches and merges changes from the remote. It reports whether HEAD
// moved. One attempt only; the poll loop will try again next tick.
func (s *GitSource) Pull(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		return false, errors.New("repository not initialized")
	}

	oldCommit := s.currentCommit

	auth, err := s.getAuth(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get auth: %w", err)
	}

	err = s.worktree.PullContext(ctx, &git.PullOptions{
		RemoteName: "origin",
		Auth:       auth,
		Force:      true,
	})

	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pull failed: %w", err)
	}

	if err := s.updateCurrentCommit(); err != nil {
		return false, fmt.Errorf("failed to update commit: %w", err)
	}

	changed := oldCommit != s.currentCommit
	if changed {
		s.logger.Info("registry repository updated",
			"old_commit", oldCommit,
			"new_commit", s.currentCommit,
		)
	}

	return changed, nil
}

// Fetch reads the registry file from the current checkout.
func (s *GitSource) Fetch(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.repo == nil {
		return nil, errors.New("repository not initialized")
	}

	return os.ReadFile(filepath.Join(s.config.LocalPath, s.config.FilePath))
}

// Describe names the source for logs.
func (s *GitSource) Describe() string {
	return "git:" + s.config.RepoURL + "#" + s.config.Branch
}

// CurrentCommit returns the current HEAD commit SHA
func (s *GitSource) CurrentCommit() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentCommit
}

// Branch returns the tracked branch
func (s *GitSource) Branch() string {
	return s.config.Branch
}

func (s *GitSource) getAuth(ctx context.Context) (*githttp.BasicAuth, error) {
	if s.config.Auth == nil {
		return nil, nil
	}

	token, err := s.config.Auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	return &githttp.BasicAuth{
		Username: "x-access-token",
		Password: token,
	}, nil
}

func (s *GitSource) updateCurrentCommit() error {
	ref, err := s.repo.Head()
	if err != nil {
		return err
	}
	s.currentCommit = ref.Hash().String()
	return nil
}
