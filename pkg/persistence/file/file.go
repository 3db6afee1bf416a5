// Package file provides file-based persistence for workflow definitions and
// approval requests. It is intended for development and tests.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/procurio/approvalflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
	requestRepo  *RequestRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	// A single lock serializes request mutations across repositories so the
	// version check and the write are one critical section.
	mu := &sync.Mutex{}

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		requestRepo:  NewRequestRepository(cleanRoot, mu),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// WorkflowRepository returns the workflow repository implementation for file persistence.
func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

// RequestRepository returns the request repository implementation for file persistence.
func (fp *Persistence) RequestRepository() persistence.RequestRepository {
	return fp.requestRepo
}
