package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/file-organizer/api/handlers"
	"github.com/feichai0017/file-organizer/api/middleware"
	"github.com/feichai0017/file-organizer/internal/models"
	"github.com/feichai0017/file-organizer/internal/pipeline"
	"github.com/feichai0017/file-organizer/internal/service/files"
	"github.com/feichai0017/file-organizer/pkg/converters"
	"github.com/feichai0017/file-organizer/pkg/logger"
)

type fakeService struct {
	lastID      models.Identity
	lastFileIDs []string
	uploaded    int
	processErr  error
	sessionErr  error
	cancelErr   error
}

func (f *fakeService) Upload(ctx context.Context, id models.Identity, hs []*multipart.FileHeader) ([]*models.FileRecord, error) {
	f.lastID = id
	f.uploaded = len(hs)
	out := make([]*models.FileRecord, len(hs))
	for i, h := range hs {
		out[i] = &models.FileRecord{ID: "f" + h.Filename, Name: h.Filename, Size: h.Size}
	}
	return out, nil
}

func (f *fakeService) Process(ctx context.Context, id models.Identity, ids []string) (*models.ProcessingSession, error) {
	f.lastID = id
	f.lastFileIDs = ids
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &models.ProcessingSession{ID: "s1", TotalFiles: len(ids), Status: models.StatusPending}, nil
}

func (f *fakeService) GetSession(ctx context.Context, id models.Identity, sid string) (*models.ProcessingSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &models.ProcessingSession{ID: sid, Status: models.StatusProcessing, Progress: 40}, nil
}

func (f *fakeService) GetSessionFiles(ctx context.Context, id models.Identity, sid string) ([]*models.FileRecord, error) {
	return []*models.FileRecord{{ID: "a"}}, nil
}

func (f *fakeService) GetReport(ctx context.Context, id models.Identity, sid string) (*converters.SessionReport, []byte, error) {
	return &converters.SessionReport{SessionID: sid}, []byte(`{"sessionId":"` + sid + `"}`), nil
}

func (f *fakeService) CancelSession(ctx context.Context, id models.Identity, sid string) (*models.ProcessingSession, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	return &models.ProcessingSession{ID: sid, Status: models.StatusProcessing, CancelRequested: true}, nil
}

func (f *fakeService) GenerateFilename(ctx context.Context, text, orig string) (string, bool, error) {
	return "Invoice_ACME", false, nil
}

func (f *fakeService) GetUsage(ctx context.Context, id models.Identity) (*files.UsageSummary, error) {
	return &files.UsageSummary{Limit: 5, Remaining: 3}, nil
}

func newRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	SetupRoutes(r, handlers.NewHandlers(svc, logger.NewNop()), nil, logger.NewNop())
	return r
}

func do(r http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestProcessAndIdentity(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	w := do(r, "POST", "/api/v1/files/process", []byte(`{"fileIds":["a","b"]}`),
		map[string]string{"Content-Type": "application/json", middleware.HeaderUserID: "u1"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp handlers.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, 2, resp.TotalFiles)
	assert.Equal(t, models.StatusProcessing, resp.Status)
	assert.Equal(t, "u1", svc.lastID.UserID)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	// guest without id is issued one
	w = do(r, "POST", "/api/v1/files/process", []byte(`{"fileIds":["a"]}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusAccepted, w.Code)
	issued := w.Header().Get(middleware.HeaderGuestID)
	assert.NotEmpty(t, issued)
	assert.Equal(t, issued, svc.lastID.GuestID)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"quota", &pipeline.QuotaExceededError{Remaining: 2, Requested: 3}, http.StatusTooManyRequests},
		{"validation", &pipeline.ValidationError{Field: "fileIds", Message: "empty"}, http.StatusBadRequest},
		{"missing file", pipeline.ErrFileNotFound, http.StatusNotFound},
		{"not owner", pipeline.ErrNotOwner, http.StatusForbidden},
		{"file busy", fmt.Errorf("%w: file a", pipeline.ErrFileBusy), http.StatusConflict},
		{"internal", errors.New("redis down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRouter(&fakeService{processErr: tc.err})
			w := do(r, "POST", "/api/v1/files/process", []byte(`{"fileIds":["a","b","c"]}`),
				map[string]string{"Content-Type": "application/json", middleware.HeaderGuestID: "g1"})
			assert.Equal(t, tc.code, w.Code)

			var resp handlers.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			if tc.code == http.StatusTooManyRequests {
				require.NotNil(t, resp.Remaining)
				assert.Equal(t, 2, *resp.Remaining)
				require.NotNil(t, resp.Requested)
				assert.Equal(t, 3, *resp.Requested)
			}
			if tc.code == http.StatusInternalServerError {
				assert.Equal(t, "internal error", resp.Error)
			}
		})
	}
}

func TestBadJSON(t *testing.T) {
	r := newRouter(&fakeService{})
	w := do(r, "POST", "/api/v1/files/process", []byte(`{`), map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, "POST", "/api/v1/files/generate-filename", []byte(`{}`), map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)
	h := map[string]string{middleware.HeaderUserID: "u1"}

	w := do(r, "GET", "/api/v1/files/processing/s9", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"progress":40`)

	w = do(r, "GET", "/api/v1/files/processing/s9/files", nil, h)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, "GET", "/api/v1/files/processing/s9/report", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "session_s9.json")

	w = do(r, "DELETE", "/api/v1/files/processing/s9", nil, h)
	require.Equal(t, http.StatusOK, w.Code)

	svc.cancelErr = pipeline.ErrSessionTerminal
	w = do(r, "DELETE", "/api/v1/files/processing/s9", nil, h)
	assert.Equal(t, http.StatusConflict, w.Code)

	svc.sessionErr = pipeline.ErrSessionNotFound
	w = do(r, "GET", "/api/v1/files/processing/nope", nil, h)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, "POST", "/api/v1/files/generate-filename", []byte(`{"text":"Invoice ACME"}`), map[string]string{"Content-Type": "application/json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Invoice_ACME")

	w = do(r, "GET", "/api/v1/usage", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"remaining":3`)
}

func TestUpload(t *testing.T) {
	svc := &fakeService{}
	r := newRouter(svc)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"a.pdf", "b.png"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("data"))
	}
	require.NoError(t, mw.Close())

	w := do(r, "POST", "/api/v1/files/upload", body.Bytes(), map[string]string{"Content-Type": mw.FormDataContentType()})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 2, svc.uploaded)
	assert.Contains(t, w.Body.String(), "fa.pdf")
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(&fakeService{})
	assert.Equal(t, http.StatusOK, do(r, "GET", "/healthz", nil, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, "GET", "/api/v1/healthz", nil, nil).Code)

	w := do(r, "GET", "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
