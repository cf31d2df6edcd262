package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohits-web03/clientvault/internal/api/handlers"
	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/archive"
	"github.com/rohits-web03/clientvault/internal/auth"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/delivery"
	"github.com/rohits-web03/clientvault/internal/logging"
	"github.com/rohits-web03/clientvault/internal/models"
	"github.com/rohits-web03/clientvault/internal/utils"
)

// stubService records the last call and returns canned results.
type stubService struct {
	delivery *delivery.Delivery
	job      *delivery.JobView
	download *delivery.FileDownload
	grant    *delivery.Grant
	err      error
	ownerErr error

	statusCalls int
	gotOwner uuid.UUID
	gotIDs   []uuid.UUID
	gotOpts  delivery.BuildOptions
	gotBatch delivery.BatchRequest
}

func (s *stubService) DownloadFile(_ context.Context, ownerID, fileID uuid.UUID) (*delivery.FileDownload, error) {
	s.gotOwner, s.gotIDs = ownerID, []uuid.UUID{fileID}
	return s.download, s.err
}

func (s *stubService) BuildSelected(_ context.Context, ownerID uuid.UUID, ids []uuid.UUID) (*delivery.Delivery, error) {
	s.gotOwner, s.gotIDs = ownerID, ids
	return s.delivery, s.err
}

func (s *stubService) BuildBundle(_ context.Context, ownerID uuid.UUID, opts delivery.BuildOptions) (*delivery.Delivery, error) {
	s.gotOwner, s.gotOpts = ownerID, opts
	return s.delivery, s.err
}

func (s *stubService) DownloadAll(_ context.Context, ownerID uuid.UUID) (*delivery.Delivery, error) {
	s.gotOwner = ownerID
	return s.delivery, s.err
}

func (s *stubService) BundleURL(_ context.Context, ownerID uuid.UUID) (*delivery.Grant, error) {
	s.gotOwner = ownerID
	return s.grant, s.err
}

func (s *stubService) BundleStatus(_ context.Context, ownerID uuid.UUID) (delivery.BundleStatus, error) {
	s.gotOwner = ownerID
	return delivery.BundleStatus{Exists: true, Fresh: true}, s.err
}

func (s *stubService) BuildBatch(_ context.Context, ownerID uuid.UUID, req delivery.BatchRequest) (*delivery.Delivery, error) {
	s.gotOwner, s.gotBatch = ownerID, req
	return s.delivery, s.err
}

func (s *stubService) Manifest(_ context.Context, ownerID uuid.UUID) (*delivery.Manifest, error) {
	s.gotOwner = ownerID
	return &delivery.Manifest{OwnerID: ownerID, TotalFiles: 2, TotalBytes: 30}, s.err
}

func (s *stubService) CreateJob(_ context.Context, ownerID uuid.UUID, ids []uuid.UUID) (*delivery.JobView, error) {
	s.gotOwner, s.gotIDs = ownerID, ids
	return s.job, s.err
}

func (s *stubService) JobOwner(_ context.Context, _ uuid.UUID) (uuid.UUID, error) {
	if s.ownerErr != nil {
		return uuid.Nil, s.ownerErr
	}
	if s.job == nil {
		return uuid.Nil, apperr.New(apperr.KindNotFound, "stub.jobs", "Job not found")
	}
	return s.job.OwnerID, nil
}

func (s *stubService) JobStatus(_ context.Context, _ uuid.UUID) (*delivery.JobView, error) {
	s.statusCalls++
	return s.job, s.err
}

type testServer struct {
	svc      *stubService
	handler  http.Handler
	verifier *auth.Verifier
	owner    uuid.UUID
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	v := auth.NewVerifier("test-secret", nil)
	owner := uuid.New()
	token, err := v.Issue(owner.String(), auth.RoleCustomer, time.Hour)
	require.NoError(t, err)

	svc := &stubService{}
	h := handlers.NewHandler(svc, logging.Nop())
	return &testServer{
		svc:      svc,
		handler:  SetupRouter(h, v, config.Config{}, logging.Nop()),
		verifier: v,
		owner:    owner,
		token:    token,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.AddCookie(&http.Cookie{Name: auth.TokenCookie, Value: s.token})
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func payload(t *testing.T, rec *httptest.ResponseRecorder) utils.Payload {
	t.Helper()
	var p utils.Payload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func (s *testServer) ownerPath(suffix string) string {
	return "/api/v1/owners/" + s.owner.String() + suffix
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestProtectedRoutesRequireCredentials(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, s.ownerPath("/manifest"), nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCustomerCannotAddressAnotherOwner(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/owners/"+uuid.NewString()+"/manifest", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uuid.Nil, s.svc.gotOwner)
}

func TestAdminMayAddressAnyOwner(t *testing.T) {
	s := newTestServer(t)
	token, err := s.verifier.Issue("staff", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	other := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/owners/"+other.String()+"/manifest", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, other, s.svc.gotOwner)
}

func TestBuildBundle_PassesOptions(t *testing.T) {
	s := newTestServer(t)
	s.svc.delivery = &delivery.Delivery{Mode: delivery.ModeArchive, FileCount: 3, Grant: &delivery.Grant{URL: "https://signed"}}

	rec := s.do(t, http.MethodPost, s.ownerPath("/bundle"), `{"forceRebuild":true,"fast":true,"maxFileBytes":1024}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, delivery.BuildOptions{Force: true, Fast: true, MaxFileBytes: 1024}, s.svc.gotOpts)

	p := payload(t, rec)
	assert.True(t, p.Success)
	assert.Equal(t, "Archive ready", p.Message)
}

func TestBuildBundle_EmptyBodyUsesDefaults(t *testing.T) {
	s := newTestServer(t)
	s.svc.delivery = &delivery.Delivery{Mode: delivery.ModeArchive}

	rec := s.do(t, http.MethodPost, s.ownerPath("/bundle"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, delivery.BuildOptions{}, s.svc.gotOpts)
}

func TestQueuedBuildAnswersAccepted(t *testing.T) {
	s := newTestServer(t)
	s.svc.delivery = &delivery.Delivery{
		Mode: delivery.ModeJob,
		Job: &delivery.JobView{
			Job:              &models.Job{ID: uuid.New(), OwnerID: s.owner, Status: models.JobQueued},
			PollAfterSeconds: 2,
		},
	}

	rec := s.do(t, http.MethodPost, s.ownerPath("/download-all"), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestPartialDeliveryMessage(t *testing.T) {
	s := newTestServer(t)
	s.svc.delivery = &delivery.Delivery{
		Mode:      delivery.ModeArchive,
		FileCount: 12,
		Skipped:   make([]archive.Skipped, 3),
	}

	rec := s.do(t, http.MethodPost, s.ownerPath("/download-all"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12/15 files included, 3 skipped", payload(t, rec).Message)
}

func TestErrorsAreClassified(t *testing.T) {
	s := newTestServer(t)
	s.svc.err = apperr.New(apperr.KindBuildInProgress, "lease", "A build is already running for this account")

	rec := s.do(t, http.MethodPost, s.ownerPath("/bundle"), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	p := payload(t, rec)
	require.NotNil(t, p.Error)
	assert.Equal(t, apperr.KindBuildInProgress, p.Error.Kind)
}

func TestDownloadBundleRedirects(t *testing.T) {
	s := newTestServer(t)
	s.svc.grant = &delivery.Grant{URL: "https://signed.example/bundle.zip"}

	rec := s.do(t, http.MethodGet, s.ownerPath("/bundle/download"), "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://signed.example/bundle.zip", rec.Header().Get("Location"))

	s.svc.err = apperr.New(apperr.KindExpired, "bundles.get", "")
	rec = s.do(t, http.MethodGet, s.ownerPath("/bundle/download"), "")
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestBundleStatus(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, s.ownerPath("/bundle"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"fresh":true`)
}

func TestBuildBatch(t *testing.T) {
	s := newTestServer(t)
	s.svc.delivery = &delivery.Delivery{Mode: delivery.ModeArchive}

	rec := s.do(t, http.MethodPost, s.ownerPath("/batches"), `{"batchNumber":2,"batchSize":25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, delivery.BatchRequest{Number: 2, Size: 25}, s.svc.gotBatch)

	rec = s.do(t, http.MethodPost, s.ownerPath("/batches"), `{"batchSize":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildSelected(t *testing.T) {
	s := newTestServer(t)
	s.svc.delivery = &delivery.Delivery{Mode: delivery.ModeRedirect, FileCount: 1}
	id := uuid.New()

	rec := s.do(t, http.MethodPost, s.ownerPath("/selection"), `{"fileIds":["`+id.String()+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{id}, s.svc.gotIDs)

	rec = s.do(t, http.MethodPost, s.ownerPath("/selection"), `{"fileIds":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, s.ownerPath("/selection"), `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadFile_Streams(t *testing.T) {
	s := newTestServer(t)
	s.svc.download = &delivery.FileDownload{
		Blob: &models.Blob{ID: uuid.New(), DisplayName: "photo 1.jpg", ContentType: "image/jpeg"},
		Body: io.NopCloser(strings.NewReader("jpeg-bytes")),
		Size: 10,
	}

	rec := s.do(t, http.MethodGet, s.ownerPath("/files/"+uuid.NewString()), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Equal(t, `attachment; filename="photo 1.jpg"`, rec.Header().Get("Content-Disposition"))
}

func TestDownloadFile_RedirectsLargeFiles(t *testing.T) {
	s := newTestServer(t)
	s.svc.download = &delivery.FileDownload{
		Blob:  &models.Blob{ID: uuid.New(), DisplayName: "big.mov"},
		Grant: &delivery.Grant{URL: "https://signed.example/big.mov"},
	}

	rec := s.do(t, http.MethodGet, s.ownerPath("/files/"+uuid.NewString()), "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://signed.example/big.mov", rec.Header().Get("Location"))

	rec = s.do(t, http.MethodGet, s.ownerPath("/files/not-a-uuid"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs(t *testing.T) {
	s := newTestServer(t)
	jobID := uuid.New()
	s.svc.job = &delivery.JobView{
		Job:              &models.Job{ID: jobID, OwnerID: s.owner, Status: models.JobProcessing},
		Progress:         40,
		PollAfterSeconds: 2,
	}

	rec := s.do(t, http.MethodPost, s.ownerPath("/jobs"), `{"fileIds":["`+uuid.NewString()+`"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/jobs/"+jobID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"progress":40`)
}

func TestJobStatus_ForeignJobIsDenied(t *testing.T) {
	s := newTestServer(t)
	s.svc.job = &delivery.JobView{Job: &models.Job{ID: uuid.New(), OwnerID: uuid.New(), Status: models.JobCompleted}}

	s.svc.err = apperr.New(apperr.KindExpired, "stub.jobs", "This job's output has expired")

	rec := s.do(t, http.MethodGet, "/api/v1/jobs/"+s.svc.job.ID.String(), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, s.svc.statusCalls)

	s.svc.ownerErr = apperr.New(apperr.KindNotFound, "stub.jobs", "Job not found")
	rec = s.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobStatus_Failed(t *testing.T) {
	s := newTestServer(t)
	s.svc.job = &delivery.JobView{Job: &models.Job{
		ID: uuid.New(), OwnerID: s.owner, Status: models.JobFailed,
		ErrorKind: string(apperr.KindEmptyResult), Error: "None of the selected files could be read",
	}}

	rec := s.do(t, http.MethodGet, "/api/v1/jobs/"+s.svc.job.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	p := payload(t, rec)
	assert.False(t, p.Success)
	assert.Equal(t, "None of the selected files could be read", p.Message)
}
