package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"ejsubmit/internal/submit/controller"
	"ejsubmit/internal/submit/queue"
	"ejsubmit/internal/submit/service"
	"ejsubmit/internal/testutil"
	appErr "ejsubmit/pkg/errors"

	"github.com/gin-gonic/gin"
)

type fakeSubmitService struct {
	inputs    []service.SubmitInput
	submitErr error
	rejudged  []int64
	stats     queue.Stats
}

func (f *fakeSubmitService) Submit(_ context.Context, input service.SubmitInput) (int64, error) {
	f.inputs = append(f.inputs, input)
	if f.submitErr != nil {
		return 0, f.submitErr
	}
	return 501, nil
}

func (f *fakeSubmitService) Rejudge(_ context.Context, runID int64) (queue.Job, error) {
	if runID == 404 {
		return queue.Job{}, appErr.New(appErr.RunNotFound).WithMessage("run not found")
	}
	f.rejudged = append(f.rejudged, runID)
	return queue.Job{SequenceID: 9, RecordRef: runID, Destination: "http://judge"}, nil
}

func (f *fakeSubmitService) QueueStats(context.Context) (queue.Stats, error) {
	return f.stats, nil
}

type apiResponse struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

func newRouter(svc controller.SubmitAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	controller.NewSubmitController(svc).Register(router)
	return router
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field failed: %v", err)
		}
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create file failed: %v", err)
		}
		_, _ = part.Write([]byte(content))
	}
	_ = w.Close()
	return body, w.FormDataContentType()
}

func do(router http.Handler, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, apiResponse) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp apiResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestSubmitParsesMultipartForm(t *testing.T) {
	svc := &fakeSubmitService{}
	router := newRouter(svc)
	body, ct := multipartBody(t, map[string]string{
		"lang_id":        "23",
		"user_id":        "7",
		"statement_id":   "40",
		"context_id":     "41",
		"context_source": "3",
		"is_visible":     "false",
	}, "main.py", "print(1)\n")

	rec, resp := do(router, http.MethodPost, "/problem/trusted/3/submit_v2", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	testutil.AssertEqual(t, string(resp.Data), `{"run_id":501}`)

	in := svc.inputs[0]
	testutil.AssertEqual(t, in.ProblemID, int64(3))
	testutil.AssertEqual(t, in.LanguageID, int64(23))
	testutil.AssertEqual(t, in.UserID, int64(7))
	testutil.AssertEqual(t, in.StatementID, int64(40))
	testutil.AssertEqual(t, in.ContextID, int64(41))
	testutil.AssertEqual(t, in.ContextSource, 3)
	testutil.AssertEqual(t, in.Filename, "main.py")
	testutil.AssertEqual(t, string(in.Source), "print(1)\n")
	if in.IsVisible == nil || *in.IsVisible {
		t.Fatalf("expected is_visible=false, got %v", in.IsVisible)
	}
}

func TestSubmitRequiresFile(t *testing.T) {
	router := newRouter(&fakeSubmitService{})
	body, ct := multipartBody(t, map[string]string{"lang_id": "23", "user_id": "7"}, "", "")
	rec, resp := do(router, http.MethodPost, "/problem/trusted/3/submit_v2", body, ct)
	if rec.Code != http.StatusBadRequest || resp.Code != int(appErr.ValidationFailed) {
		t.Fatalf("expected validation failure, got %d %+v", rec.Code, resp)
	}
}

func TestSubmitRejectsBadProblemID(t *testing.T) {
	router := newRouter(&fakeSubmitService{})
	body, ct := multipartBody(t, map[string]string{"lang_id": "23", "user_id": "7"}, "a.py", "print(1)")
	rec, _ := do(router, http.MethodPost, "/problem/trusted/abc/submit_v2", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rec.Code)
	}
}

func TestSubmitMapsServiceErrors(t *testing.T) {
	svc := &fakeSubmitService{submitErr: appErr.New(appErr.DuplicateSubmission).WithMessage("duplicate")}
	router := newRouter(svc)
	body, ct := multipartBody(t, map[string]string{"lang_id": "23", "user_id": "7"}, "a.py", "print(1)")
	rec, resp := do(router, http.MethodPost, "/problem/trusted/3/submit_v2", body, ct)
	testutil.AssertEqual(t, resp.Code, int(appErr.DuplicateSubmission))
	testutil.AssertEqual(t, rec.Code, appErr.DuplicateSubmission.HTTPStatus())
}

func TestRejudge(t *testing.T) {
	svc := &fakeSubmitService{}
	router := newRouter(svc)

	rec, resp := do(router, http.MethodPost, "/problem/run/77/action/rejudge", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	testutil.AssertEqual(t, string(resp.Data), `{"run_id":77,"sequence_id":9}`)
	testutil.AssertEqual(t, svc.rejudged, []int64{77})

	rec, resp = do(router, http.MethodPost, "/problem/run/404/action/rejudge", nil, "")
	testutil.AssertEqual(t, resp.Code, int(appErr.RunNotFound))
	testutil.AssertEqual(t, rec.Code, http.StatusNotFound)
}

func TestQueueStats(t *testing.T) {
	svc := &fakeSubmitService{stats: queue.Stats{Namespace: "submit.queue", LastPutID: 5, LastGetID: 3, Length: 2}}
	router := newRouter(svc)
	_, resp := do(router, http.MethodGet, "/queue/stats", nil, "")
	testutil.AssertEqual(t, string(resp.Data), `{"namespace":"submit.queue","last_put_id":5,"last_get_id":3,"length":2}`)
}
