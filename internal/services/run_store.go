// internal/services/run_store.go
package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ManimStudio/internal/errors"
	"github.com/Corphon/ManimStudio/internal/models"
	"github.com/Corphon/ManimStudio/internal/storage"
	"github.com/Corphon/ManimStudio/internal/utils"
)

const runFileName = "run.json"

// RunStore persists run records as run.json inside each run directory
type RunStore struct {
	files *storage.FileStorage
}

func NewRunStore(files *storage.FileStorage) *RunStore {
	return &RunStore{files: files}
}

// Save writes the run record, stamping UpdatedAt
func (s *RunStore) Save(run *models.Run) error {
	if run == nil || run.ID == "" {
		return apperrors.NewValidationError("run has no id", nil)
	}
	run.UpdatedAt = time.Now()
	if err := s.files.SaveJSONFile(run.ID, runFileName, run); err != nil {
		return apperrors.NewProcessingError("save run record", err)
	}
	return nil
}

// Get loads one run. Ids that are not UUIDs are reported as not found.
func (s *RunStore) Get(id string) (*models.Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", id), nil)
	}
	if !s.files.FileExists(id, runFileName) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", id), nil)
	}

	var run models.Run
	if err := s.files.LoadJSONFile(id, runFileName, &run); err != nil {
		return nil, apperrors.NewProcessingError(fmt.Sprintf("load run %s", id), err)
	}
	return &run, nil
}

// List returns up to limit runs, most recent first. limit <= 0 returns all.
func (s *RunStore) List(limit int) ([]*models.Run, error) {
	dirs, err := s.files.ListDirs("")
	if err != nil {
		return nil, apperrors.NewProcessingError("list runs", err)
	}

	runs := make([]*models.Run, 0, len(dirs))
	for _, dir := range dirs {
		run, err := s.Get(dir)
		if err != nil {
			if !apperrors.IsNotFoundError(err) {
				utils.GetLogger().Warn("skipping unreadable run record", map[string]interface{}{
					"run_id": dir,
					"error":  err.Error(),
				})
			}
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Delete removes a finished run and its whole work directory
func (s *RunStore) Delete(id string) error {
	if _, err := uuid.Parse(id); err != nil || !s.files.DirExists(id) {
		return apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", id), nil)
	}
	if run, err := s.Get(id); err == nil && !run.Status.Terminal() {
		return apperrors.NewValidationError(fmt.Sprintf("run %s is still %s", id, run.Status), nil)
	}
	if err := s.files.DeleteDir(id); err != nil {
		return apperrors.NewProcessingError(fmt.Sprintf("delete run %s", id), err)
	}
	return nil
}

// MarkInterrupted fails every run left in a non-terminal state, which only
// happens when a previous process died mid-run. It returns how many were marked.
func (s *RunStore) MarkInterrupted() (int, error) {
	runs, err := s.List(0)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		run.Error = fmt.Sprintf("interrupted while %s: the server stopped before the run finished", run.Status)
		run.Status = models.RunStatusRenderFailed
		if err := s.Save(run); err != nil {
			return marked, err
		}
		marked++
	}
	return marked, nil
}
