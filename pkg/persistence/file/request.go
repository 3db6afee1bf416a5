package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
)

// requestRecord is the on-disk shape: the request together with its action
// log, so both always commit in a single file write.
type requestRecord struct {
	Request *models.ApprovalRequest  `json:"request"`
	Actions []*models.ApprovalAction `json:"actions"`
}

// RequestRepository handles approval request file operations.
type RequestRepository struct {
	root string
	mu   *sync.Mutex // Serializes the version check and the write
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(root string, mu *sync.Mutex) *RequestRepository {
	return &RequestRepository{root: root, mu: mu}
}

// Create stores a new approval request with an empty action log.
func (rr *RequestRepository) Create(ctx context.Context, request *models.ApprovalRequest) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	existing, err := rr.load(request.ID)
	if err != nil {
		return err
	}

	if existing != nil {
		return persistence.NewRequestError("Create", request.ID, persistence.ErrRequestAlreadyExists)
	}

	return rr.write(&requestRecord{Request: request, Actions: []*models.ApprovalAction{}})
}

// GetByID retrieves an approval request by its ID.
func (rr *RequestRepository) GetByID(_ context.Context, requestID string) (*models.ApprovalRequest, error) {
	record, err := rr.load(requestID)
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, nil
	}

	return record.Request, nil
}

// List returns all stored approval requests.
func (rr *RequestRepository) List(ctx context.Context) ([]*models.ApprovalRequest, error) {
	records, err := rr.loadAll()
	if err != nil {
		return nil, err
	}

	requests := make([]*models.ApprovalRequest, 0, len(records))
	for _, record := range records {
		requests = append(requests, record.Request)
	}

	return requests, nil
}

// ListByStatus returns all requests with the given status.
func (rr *RequestRepository) ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.ApprovalRequest, error) {
	all, err := rr.List(ctx)
	if err != nil {
		return nil, err
	}

	requests := make([]*models.ApprovalRequest, 0)

	for _, request := range all {
		if request.Status == status {
			requests = append(requests, request)
		}
	}

	return requests, nil
}

// ListByWorkflow returns all requests created against the given workflow.
func (rr *RequestRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.ApprovalRequest, error) {
	all, err := rr.List(ctx)
	if err != nil {
		return nil, err
	}

	requests := make([]*models.ApprovalRequest, 0)

	for _, request := range all {
		if request.WorkflowID == workflowID {
			requests = append(requests, request)
		}
	}

	return requests, nil
}

// ListOverdue returns all in-progress requests whose current step due date
// has passed as of the given time.
func (rr *RequestRepository) ListOverdue(ctx context.Context, asOf time.Time) ([]*models.ApprovalRequest, error) {
	all, err := rr.List(ctx)
	if err != nil {
		return nil, err
	}

	requests := make([]*models.ApprovalRequest, 0)

	for _, request := range all {
		if request.Overdue(asOf) {
			requests = append(requests, request)
		}
	}

	return requests, nil
}

// Update persists a request mutation without an action record, checking the
// optimistic version.
func (rr *RequestRepository) Update(_ context.Context, request *models.ApprovalRequest) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	record, err := rr.checkVersion("Update", request)
	if err != nil {
		return err
	}

	request.Version++
	request.UpdatedAt = time.Now().UTC()
	record.Request = request

	return rr.write(record)
}

// SaveWithAction persists a request mutation together with the action record
// that produced it. Both land in a single file write so the log and the
// request cannot diverge.
func (rr *RequestRepository) SaveWithAction(_ context.Context, request *models.ApprovalRequest, action *models.ApprovalAction) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	record, err := rr.checkVersion("SaveWithAction", request)
	if err != nil {
		return err
	}

	request.Version++
	request.UpdatedAt = time.Now().UTC()
	record.Request = request
	record.Actions = append(record.Actions, action)

	return rr.write(record)
}

// ActionsByRequest returns the action log for a request, oldest first.
func (rr *RequestRepository) ActionsByRequest(_ context.Context, requestID string) ([]*models.ApprovalAction, error) {
	record, err := rr.load(requestID)
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, persistence.NewRequestError("ActionsByRequest", requestID, persistence.ErrRequestNotFound)
	}

	actions := make([]*models.ApprovalAction, len(record.Actions))
	copy(actions, record.Actions)

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})

	return actions, nil
}

// ListActions returns every stored action across all requests.
func (rr *RequestRepository) ListActions(_ context.Context) ([]*models.ApprovalAction, error) {
	records, err := rr.loadAll()
	if err != nil {
		return nil, err
	}

	actions := make([]*models.ApprovalAction, 0)
	for _, record := range records {
		actions = append(actions, record.Actions...)
	}

	sort.Slice(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})

	return actions, nil
}

func (rr *RequestRepository) checkVersion(op string, request *models.ApprovalRequest) (*requestRecord, error) {
	record, err := rr.load(request.ID)
	if err != nil {
		return nil, err
	}

	if record == nil {
		return nil, persistence.NewRequestError(op, request.ID, persistence.ErrRequestNotFound)
	}

	if record.Request.Version != request.Version {
		return nil, persistence.NewRequestError(op, request.ID, persistence.ErrVersionConflict)
	}

	return record, nil
}

func (rr *RequestRepository) load(requestID string) (*requestRecord, error) {
	filePath := filepath.Clean(path.Join(rr.root, "requests", requestID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to fetch request %s: %w", requestID, err)
	}

	var record requestRecord

	err = json.Unmarshal(body, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal request %s: %w", requestID, err)
	}

	return &record, nil
}

func (rr *RequestRepository) loadAll() ([]*requestRecord, error) {
	root := os.DirFS(path.Join(rr.root, "requests"))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list request files: %w", err)
	}

	records := make([]*requestRecord, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		requestID := file[:len(file)-5]

		record, err := rr.load(requestID)
		if err != nil {
			return nil, fmt.Errorf("failed to load request %s: %w", requestID, err)
		}

		if record != nil {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Request.CreatedAt.Before(records[j].Request.CreatedAt)
	})

	return records, nil
}

func (rr *RequestRepository) write(record *requestRecord) error {
	err := os.MkdirAll(path.Join(rr.root, "requests"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create requests directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal request %s: %w", record.Request.ID, err)
	}

	filePath := path.Join(rr.root, "requests", record.Request.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}
