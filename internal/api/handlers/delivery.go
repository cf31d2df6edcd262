package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/rohits-web03/clientvault/internal/delivery"
	"github.com/rohits-web03/clientvault/internal/utils"
)

type bundleRequest struct {
	ForceRebuild bool  `json:"forceRebuild"`
	Fast         bool  `json:"fast"`
	MaxFileBytes int64 `json:"maxFileBytes"`
}

type batchRequest struct {
	BatchNumber  int   `json:"batchNumber"`
	BatchSize    int   `json:"batchSize"`
	MaxFileBytes int64 `json:"maxFileBytes"`
}

type selectionRequest struct {
	FileIDs []string `json:"fileIds"`
}

// BuildBundle godoc
// @Summary Build or fetch the owner's whole-account archive
// @Description Returns the cached bundle while fresh. Large accounts are queued as a job (202); oversized ones get a manifest.
// @Tags Bundles
// @Accept json
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Param body body bundleRequest false "Build options"
// @Success 200 {object} utils.Payload{data=delivery.Delivery}
// @Success 202 {object} utils.Payload{data=delivery.Delivery}
// @Failure 409 {object} utils.Payload
// @Failure 422 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/bundle [post]
func (h *Handler) BuildBundle(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req bundleRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if req.MaxFileBytes < 0 {
		badRequest(w, "maxFileBytes must not be negative")
		return
	}

	d, err := h.svc.BuildBundle(r.Context(), ownerID, delivery.BuildOptions{
		Force:        req.ForceRebuild,
		Fast:         req.Fast,
		MaxFileBytes: req.MaxFileBytes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, d)
}

// BundleStatus godoc
// @Summary Report the owner's current bundle
// @Tags Bundles
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Success 200 {object} utils.Payload{data=delivery.BundleStatus}
// @Router /api/v1/owners/{ownerId}/bundle [get]
func (h *Handler) BundleStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	st, err := h.svc.BundleStatus(r.Context(), ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: "Bundle status",
		Data:    st,
	})
}

// DownloadBundle godoc
// @Summary Redirect to the current bundle
// @Tags Bundles
// @Param ownerId path string true "Owner ID"
// @Success 302
// @Failure 404 {object} utils.Payload
// @Failure 410 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/bundle/download [get]
func (h *Handler) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	g, err := h.svc.BundleURL(r.Context(), ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, g.URL, http.StatusFound)
}

// BuildBatch godoc
// @Summary Build one batch of the owner's files
// @Tags Batches
// @Accept json
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Param body body batchRequest true "Batch selection"
// @Success 200 {object} utils.Payload{data=delivery.Delivery}
// @Failure 400 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/batches [post]
func (h *Handler) BuildBatch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	req := batchRequest{BatchNumber: 1}
	if err := decode(r, &req); err != nil {
		badRequest(w, "Invalid request body")
		return
	}
	if req.BatchSize < 0 || req.MaxFileBytes < 0 {
		badRequest(w, "batchSize and maxFileBytes must not be negative")
		return
	}

	d, err := h.svc.BuildBatch(r.Context(), ownerID, delivery.BatchRequest{
		Number:       req.BatchNumber,
		Size:         req.BatchSize,
		MaxFileBytes: req.MaxFileBytes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, d)
}

// BuildSelected godoc
// @Summary Deliver a selection of files
// @Description One file yields a signed URL, a small selection an ephemeral archive, a large one a job (202).
// @Tags Selection
// @Accept json
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Param body body selectionRequest true "Selected file IDs"
// @Success 200 {object} utils.Payload{data=delivery.Delivery}
// @Success 202 {object} utils.Payload{data=delivery.Delivery}
// @Failure 403 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/selection [post]
func (h *Handler) BuildSelected(w http.ResponseWriter, r *http.Request) {
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

	d, err := h.svc.BuildSelected(r.Context(), ownerID, ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, d)
}

// DownloadAll godoc
// @Summary Deliver every file the owner has
// @Tags Bundles
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Success 200 {object} utils.Payload{data=delivery.Delivery}
// @Success 202 {object} utils.Payload{data=delivery.Delivery}
// @Router /api/v1/owners/{ownerId}/download-all [post]
func (h *Handler) DownloadAll(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	d, err := h.svc.DownloadAll(r.Context(), ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, d)
}

// Manifest godoc
// @Summary List the owner's deliverable files
// @Tags Files
// @Produce json
// @Param ownerId path string true "Owner ID"
// @Success 200 {object} utils.Payload{data=delivery.Manifest}
// @Failure 422 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/manifest [get]
func (h *Handler) Manifest(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Manifest(r.Context(), ownerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	utils.JSONResponse(w, http.StatusOK, utils.Payload{
		Success: true,
		Message: strconv.Itoa(m.TotalFiles) + " files",
		Data:    m,
	})
}

// DownloadFile godoc
// @Summary Download a single file
// @Description Small files are streamed, large ones redirect to a signed URL.
// @Tags Files
// @Produce octet-stream
// @Param ownerId path string true "Owner ID"
// @Param fileId path string true "File ID"
// @Success 200 {file} file
// @Success 302
// @Failure 404 {object} utils.Payload
// @Router /api/v1/owners/{ownerId}/files/{fileId} [get]
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}
	fileID, err := parseIDs([]string{r.PathValue("fileId")})
	if err != nil {
		badRequest(w, "Invalid file id")
		return
	}

	dl, err := h.svc.DownloadFile(r.Context(), ownerID, fileID[0])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if dl.Grant != nil {
		http.Redirect(w, r, dl.Grant.URL, http.StatusFound)
		return
	}
	defer dl.Body.Close()

	contentType := dl.Blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": dl.Blob.DisplayName,
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		// headers are gone, all we can do is log
		h.log.Warn(r.Context(), "stream interrupted", "file", dl.Blob.ID, "error", err)
	}
}
