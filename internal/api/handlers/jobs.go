package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/delivery"
	"github.com/rohits-web03/clientvault/internal/models"
	"github.com/rohits-web03/clientvault/internal/utils"
)

// CreateJob godoc
// @Summary Queue an archive build for a selection
// @Tags Jobs
// @Accept json
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Param body body selectionRequest true "Selected file IDs"
// @Success 202 {object} utils.Payload{data=delivery.JobView}
// @Failure 400 {object} utils.Payload
// @Failure 403 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req selectionRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	ids, err := parseIDs(req.FileIDs)
	if err != nil {
		badRequest(w, "Invalid file id")
		return
	}

	v, err := h.svc.CreateJob(r.Context(), ownerID, ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJob(w, http.StatusAccepted, "Build queued", v)
}

// JobStatus godoc
// @Summary Poll an archive build
// @Description Completed jobs carry a signed URL. Expired jobs answer 410.
// @Tags Jobs
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} utils.Payload{data=delivery.JobView}
// @Failure 403 {object} utils.Payload
// @Failure 404 {object} utils.Payload
// @Failure 410 {object} utils.Payload
// @Router /api/v1/jobs/{jobId} [get]
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("jobId"))
	if err != nil {
		badRequest(w, "Invalid job id")
		return
	}

	ownerID, err := h.svc.JobOwner(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !h.allowed(w, r, ownerID) {
		return
	}

	v, err := h.svc.JobStatus(r.Context(), jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	msg := "Build " + string(v.Status)
	if v.Status == models.JobFailed && v.Error != "" {
		msg = v.Error
	}
	writeJob(w, http.StatusOK, msg, v)
}

func writeJob(w http.ResponseWriter, status int, msg string, v *delivery.JobView) {
	if v.PollAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(v.PollAfterSeconds))
	}
	utils.JSONResponse(w, status, utils.Payload{
		Success: v.Status != models.JobFailed,
		Message: msg,
		Data:    v,
	})
}
