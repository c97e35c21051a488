package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/yz4230/shipyard/internal/entity"
)

// Workspace hands out one isolated directory per pipeline.
type Workspace interface {
	Prepare(ctx context.Context, id entity.ID) (string, error)
	Path(id entity.ID) string
	Remove(ctx context.Context, id entity.ID) error
	// TempPath returns a scratch file path under the workspace root.
	TempPath(name string) string
}

type WorkspaceImpl struct {
	rootDir string
	log     zerolog.Logger
}

// Prepare implements Workspace. Leftovers from an earlier attempt are wiped.
func (w *WorkspaceImpl) Prepare(ctx context.Context, id entity.ID) (string, error) {
	dir := w.Path(id)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clean workspace: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dir), os.ModePerm); err != nil {
		return "", fmt.Errorf("create workspace root: %w", err)
	}
	zerolog.Ctx(ctx).Debug().Str("dir", dir).Msg("prepared workspace")
	return dir, nil
}

// Path implements Workspace.
func (w *WorkspaceImpl) Path(id entity.ID) string {
	return filepath.Join(w.rootDir, "pipeline-"+id.String())
}

// Remove implements Workspace.
func (w *WorkspaceImpl) Remove(ctx context.Context, id entity.ID) error {
	if err := os.RemoveAll(w.Path(id)); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	return nil
}

// TempPath implements Workspace.
func (w *WorkspaceImpl) TempPath(name string) string {
	return filepath.Join(w.rootDir, "tmp", name)
}

func NewWorkspace(root string, log zerolog.Logger) Workspace {
	if root == "" {
		root = filepath.Join(os.TempDir(), "shipyard")
	}
	_ = os.MkdirAll(filepath.Join(root, "tmp"), os.ModePerm)
	return &WorkspaceImpl{
		rootDir: lo.Must(filepath.Abs(root)),
		log:     log,
	}
}
