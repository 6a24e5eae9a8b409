package server

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/usecase"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
)

type CreateCollectionsRequest struct {
	Collections map[string]models.Schema `json:"collections" validate:"required,min=1,dive,keys,collection,endkeys"`
}

type EnqueueChangesRequest struct {
	Collection string            `json:"-" param:"name" validate:"required,collection"`
	Changes    []models.Document `json:"changes" validate:"required,dive,docid"`
}

type CollectionRequest struct {
	Collection string `json:"-" param:"name" validate:"required,collection"`
}

type FinishedSyncingRequest struct{}

type Controller interface {
	Health(c echo.Context) error
	CreateCollections(c echo.Context, req CreateCollectionsRequest) ([]models.ReplicationStatus, error)
	ListCollections(c echo.Context, req struct{}) ([]models.ReplicationStatus, error)
	EnqueueChanges(c echo.Context, req EnqueueChangesRequest) (models.ReplicationStatus, error)
	GetCheckpoint(c echo.Context, req CollectionRequest) (models.ReplicationStatus, error)
	FinishedSyncing(c echo.Context, req FinishedSyncingRequest) error
}

type controller struct {
	syncUsecase usecase.SyncUsecase
}

func NewHandler(syncUsecase usecase.SyncUsecase) Controller {
	return &controller{
		syncUsecase: syncUsecase,
	}
}

// CreateCollections bootstraps replication and answers once the initial
// sync is done.
func (h *controller) CreateCollections(c echo.Context, req CreateCollectionsRequest) ([]models.ReplicationStatus, error) {
	ctx := c.Request().Context()
	names := make([]string, 0, len(req.Collections))
	for name := range req.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	log.Infow(ctx, "Creating collections from canonical", "collections", names)

	if err := h.syncUsecase.CreateCollectionsFromCanonical(ctx, req.Collections); err != nil {
		return nil, err
	}
	return h.syncUsecase.Status(), nil
}

func (h *controller) ListCollections(c echo.Context, _ struct{}) ([]models.ReplicationStatus, error) {
	return h.syncUsecase.Status(), nil
}

func (h *controller) EnqueueChanges(c echo.Context, req EnqueueChangesRequest) (models.ReplicationStatus, error) {
	ctx := c.Request().Context()
	if err := h.syncUsecase.EnqueueCanonicalChanges(ctx, req.Collection, req.Changes); err != nil {
		return models.ReplicationStatus{}, err
	}
	return h.syncUsecase.CheckpointStatus(req.Collection)
}

func (h *controller) GetCheckpoint(c echo.Context, req CollectionRequest) (models.ReplicationStatus, error) {
	return h.syncUsecase.CheckpointStatus(req.Collection)
}

func (h *controller) FinishedSyncing(c echo.Context, _ FinishedSyncingRequest) error {
	return h.syncUsecase.FinishedSyncingDocsFromCanonical(c.Request().Context())
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "chat-replica",
	})
}
