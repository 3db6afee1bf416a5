// Package web provides HTTP handlers and REST API endpoints for the approval
// workflow engine.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/procurio/approvalflow/pkg/models"
	"github.com/procurio/approvalflow/pkg/persistence"
	"github.com/procurio/approvalflow/pkg/services"
)

type APIHandlers struct {
	workflowService *services.Workflow
	requestService  *services.Request
	processor       *services.Processor
	overdueDetector *services.OverdueDetector
	statistics      *services.Statistics
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	requestService *services.Request,
	processor *services.Processor,
	overdueDetector *services.OverdueDetector,
	statistics *services.Statistics,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		requestService:  requestService,
		processor:       processor,
		overdueDetector: overdueDetector,
		statistics:      statistics,
		validator:       validator,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Approvalflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Approvalflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflowService.List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		Steps:       ToModelSteps(req.Steps),
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// ImportWorkflow accepts a raw workflow definition document, validates it
// against the definition schema and creates the workflow from it.
func (h *APIHandlers) ImportWorkflow(c fiber.Ctx) error {
	document := c.Body()

	issues, err := models.ValidateDefinitionDocument(document)
	if err != nil {
		if len(issues) > 0 {
			problemDetail := issues[0]
			for _, issue := range issues[1:] {
				problemDetail += "; " + issue
			}

			return badRequest(c, problemDetail)
		}

		return internalError(c, err)
	}

	var req CreateWorkflowRequest
	if err := json.Unmarshal(document, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	workflow := &models.WorkflowDefinition{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Priority:    req.Priority,
		Steps:       ToModelSteps(req.Steps),
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), id, ToModelSteps(req.Steps))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.Activate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.Deactivate(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AddStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	steps := ToModelSteps([]StepRequest{req})

	workflow, err := h.workflowService.AddStep(c.Context(), id, steps[0])
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	order, err := strconv.Atoi(c.Params("order"))
	if err != nil || order < 1 {
		return badRequest(c, "Step order must be a positive integer")
	}

	var req StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	steps := ToModelSteps([]StepRequest{req})

	workflow, err := h.workflowService.UpdateStep(c.Context(), id, order, steps[0])
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteStep(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	order, err := strconv.Atoi(c.Params("order"))
	if err != nil || order < 1 {
		return badRequest(c, "Step order must be a positive integer")
	}

	workflow, err := h.workflowService.DeleteStep(c.Context(), id, order)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateRequest(c fiber.Ctx) error {
	var req CreateRequestRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.requestService.Create(c.Context(), services.CreateRequestInput{
		WorkflowID:  req.WorkflowID,
		EntityID:    req.EntityID,
		EntityType:  req.EntityType,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetRequests(c fiber.Ctx) error {
	var status *models.RequestStatus

	if statusStr := c.Query("status"); statusStr != "" {
		parsed := models.RequestStatus(statusStr)
		if !parsed.Valid() {
			return badRequest(c, "Unknown status: "+statusStr)
		}

		status = &parsed
	}

	requests, err := h.requestService.List(c.Context(), status)
	if err != nil {
		return internalError(c, err)
	}

	offset, limit, err := parsePage(c.Query("offset"), c.Query("limit"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(pageOf(requests, offset, limit))
}

// parsePage reads optional offset/limit query values. limit 0 means no limit.
func parsePage(offsetStr, limitStr string) (int, int, error) {
	offset, limit := 0, 0

	if offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}

		offset = parsed
	}

	if limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}

		limit = parsed
	}

	return offset, limit, nil
}

func pageOf[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}

	items = items[offset:]

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}

func (h *APIHandlers) GetRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	request, err := h.requestService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsRequestNotFound(err) {
			return notFound(c, "Request not found")
		}

		return internalError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) StartRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	request, err := h.requestService.Start(c.Context(), id)
	if err != nil {
		// A start can commit with no resolvable approver; the request is
		// returned alongside the resolution warning.
		if request != nil && services.IsUnresolvableApprover(err) {
			return c.JSON(fiber.Map{
				"request": request,
				"warning": err.Error(),
			})
		}

		return handleServiceError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) ProcessAction(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	var req ActionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.processor.ProcessAction(c.Context(), services.ActionInput{
		RequestID:      id,
		Type:           models.ActionType(req.Type),
		ActorID:        req.ActorID,
		Comments:       req.Comments,
		DelegateToID:   req.DelegateToID,
		DelegateReason: req.DelegateReason,
	})
	if err != nil {
		if request != nil && services.IsUnresolvableApprover(err) {
			return c.JSON(fiber.Map{
				"request": request,
				"warning": err.Error(),
			})
		}

		return handleServiceError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) GetRequestActions(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	actions, err := h.requestService.Actions(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(actions)
}

func (h *APIHandlers) GetOverdueRequests(c fiber.Ctx) error {
	asOf := time.Now().UTC()

	if asOfStr := c.Query("as_of"); asOfStr != "" {
		parsed, err := time.Parse(time.RFC3339, asOfStr)
		if err != nil {
			return badRequest(c, "as_of must be RFC 3339")
		}

		asOf = parsed
	}

	overdue, err := h.overdueDetector.ListOverdue(c.Context(), asOf)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(overdue)
}

func (h *APIHandlers) GetStatistics(c fiber.Ctx) error {
	stats, err := h.statistics.Engine(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetUserStatistics(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return badRequest(c, "User ID is required")
	}

	stats, err := h.statistics.User(c.Context(), userID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(stats)
}
