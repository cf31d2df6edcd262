package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/api/middleware"
	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/delivery"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/utils"
)

// Service is the delivery surface the handlers expose.
type Service interface {
	DownloadFile(ctx context.Context, ownerID, fileID uuid.UUID) (*delivery.FileDownload, error)
	BuildSelected(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) (*delivery.Delivery, error)
	BuildBundle(ctx context.Context, ownerID uuid.UUID, opts delivery.BuildOptions) (*delivery.Delivery, error)
	DownloadAll(ctx context.Context, ownerID uuid.UUID) (*delivery.Delivery, error)
	BundleURL(ctx context.Context, ownerID uuid.UUID) (*delivery.Grant, error)
	BundleStatus(ctx context.Context, ownerID uuid.UUID) (delivery.BundleStatus, error)
	BuildBatch(ctx context.Context, ownerID uuid.UUID, req delivery.BatchRequest) (*delivery.Delivery, error)
	Manifest(ctx context.Context, ownerID uuid.UUID) (*delivery.Manifest, error)
	CreateJob(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) (*delivery.JobView, error)
	JobOwner(ctx context.Context, jobID uuid.UUID) (uuid.UUID, error)
	JobStatus(ctx context.Context, jobID uuid.UUID) (*delivery.JobView, error)
}

type Handler struct {
	svc Service
	log logging.Logger
}

func NewHandler(svc Service, log logging.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// owner resolves the {ownerId} path value and checks that the caller may
// address it. It writes the failure response itself.
func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("ownerId"))
	if err != nil {
		utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
			Success: false,
			Message: "Invalid owner id",
		})
		return uuid.Nil, false
	}
	if !h.allowed(w, r, id) {
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) allowed(w http.ResponseWriter, r *http.Request, ownerID uuid.UUID) bool {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok || !p.CanAccess(ownerID) {
		utils.JSONResponse(w, http.StatusForbidden, utils.Payload{
			Success: false,
			Message: "Access denied",
		})
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if utils.StatusFor(apperr.KindOf(err)) >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	utils.ErrorResponse(w, err)
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func badRequest(w http.ResponseWriter, msg string) {
	utils.JSONResponse(w, http.StatusBadRequest, utils.Payload{
		Success: false,
		Message: msg,
	})
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// respond writes a delivery. Queued builds answer 202 with a Retry-After
// hint; everything else is 200.
func respond(w http.ResponseWriter, d *delivery.Delivery) {
	status := http.StatusOK
	msg := "Archive ready"
	switch d.Mode {
	case delivery.ModeJob:
		status = http.StatusAccepted
		msg = "Build queued"
		if d.Job != nil && d.Job.PollAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(d.Job.PollAfterSeconds))
		}
	case delivery.ModeRedirect:
		msg = "Download URL ready"
	case delivery.ModeManifest:
		msg = "Too large for one archive, download files individually"
	}
	if d.Partial() {
		msg = fmt.Sprintf("%d/%d files included, %d skipped",
			d.FileCount, d.FileCount+len(d.Skipped), len(d.Skipped))
	}
	utils.JSONResponse(w, status, utils.Payload{
		Success: true,
		Message: msg,
		Data:    d,
	})
}
