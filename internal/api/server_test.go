package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"litagent/internal/assistant"
	"litagent/internal/config"
	"litagent/internal/ingest"
	"litagent/internal/models"
	"litagent/internal/util"
	"litagent/internal/workflows"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

type stubAssistant struct {
	askReq  assistant.AskRequest
	askResp assistant.AskResponse
	err     error
	papers  []models.Paper
	history []models.Transcript
	upload  struct {
		userID   string
		filename string
		data     []byte
	}
}

func (s *stubAssistant) Ask(_ context.Context, req assistant.AskRequest) (assistant.AskResponse, error) {
	s.askReq = req
	return s.askResp, s.err
}

func (s *stubAssistant) IngestByKeyword(_ context.Context, userID, keyword string, _ int) ([]ingest.Outcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []ingest.Outcome{{ExternalID: "2101.00001", Status: ingest.StatusIngested, Title: keyword + " for " + userID}}, nil
}

func (s *stubAssistant) Upload(_ context.Context, userID, filename string, data []byte) (ingest.Outcome, error) {
	s.upload.userID, s.upload.filename, s.upload.data = userID, filename, data
	if s.err != nil {
		return ingest.Outcome{Status: ingest.StatusFailed}, s.err
	}
	return ingest.Outcome{PaperID: "p-up", Title: "Uploaded", Status: ingest.StatusIngested}, nil
}

func (s *stubAssistant) Library(_ context.Context, userID string) ([]models.Paper, error) {
	if userID == "" {
		return nil, fmt.Errorf("library: user_id is required: %w", util.ErrInvalidInput)
	}
	return s.papers, s.err
}

func (s *stubAssistant) Summaries(context.Context, string, string) ([]models.Summary, error) {
	return []models.Summary{{Kind: models.SummaryKindStructured, Text: "notes"}}, s.err
}

func (s *stubAssistant) Chunks(context.Context, string, string) ([]models.Chunk, error) {
	return []models.Chunk{{Ordinal: 0, Text: "first"}, {Ordinal: 1, Text: "second"}}, s.err
}

func (s *stubAssistant) Sessions(context.Context, string) ([]models.SessionInfo, error) {
	return []models.SessionInfo{{SessionID: "s1", Turns: 2}}, s.err
}

func (s *stubAssistant) History(_ context.Context, _, sessionID string) ([]models.Transcript, error) {
	if sessionID == "missing" {
		return nil, fmt.Errorf("session missing: %w", util.ErrNotFound)
	}
	return s.history, s.err
}

type fakeRun struct{ id string }

func (f fakeRun) GetID() string                       { return f.id }
func (f fakeRun) GetRunID() string                    { return "run-1" }
func (f fakeRun) Get(context.Context, interface{}) error { return nil }
func (f fakeRun) GetWithOptions(context.Context, interface{}, tclient.WorkflowRunGetOptions) error {
	return nil
}

type fakeValue struct{ v any }

func (f fakeValue) HasValue() bool { return f.v != nil }
func (f fakeValue) Get(ptr interface{}) error {
	data, err := json.Marshal(f.v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, ptr)
}

type fakeTemporal struct {
	started  []workflows.LibraryGrowthInput
	opts     tclient.StartWorkflowOptions
	progress map[string]workflows.GrowthProgress
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, opts tclient.StartWorkflowOptions, _ interface{}, args ...interface{}) (tclient.WorkflowRun, error) {
	f.opts = opts
	f.started = append(f.started, args[0].(workflows.LibraryGrowthInput))
	return fakeRun{id: opts.ID}, nil
}

func (f *fakeTemporal) QueryWorkflow(_ context.Context, workflowID, _, queryType string, _ ...interface{}) (converter.EncodedValue, error) {
	if queryType != workflows.QueryGetProgress {
		return nil, errors.New("unknown query")
	}
	p, ok := f.progress[workflowID]
	if !ok {
		return nil, errors.New("workflow not found")
	}
	return fakeValue{v: p}, nil
}

func newTestServer(svc Assistant, tc WorkflowClient) *httptest.Server {
	cfg := config.Config{TemporalTaskQueue: "litagent-test"}
	return httptest.NewServer(NewServer(cfg, svc, tc, nil).Routes())
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "body has no error: %v", body)
	return e["code"].(string)
}

func TestAskEndpoint(t *testing.T) {
	svc := &stubAssistant{askResp: assistant.AskResponse{Answer: "## Answer\nX", SessionID: "s1", Mode: models.ModeMultiStage}}
	srv := newTestServer(svc, nil)
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/ask", `{"user_id":"u1","query":"what is X?","reasoning_mode":"single_shot"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "## Answer\nX", body["answer"])
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, models.ModeSingleShot, svc.askReq.Mode)
	assert.Equal(t, "what is X?", svc.askReq.Query)
}

func TestAskEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
		code   string
	}{
		{name: "malformed json", body: `{`, status: http.StatusBadRequest, code: "LA-API-4001"},
		{name: "invalid input", err: fmt.Errorf("ask: user_id and query are required: %w", util.ErrInvalidInput), body: `{}`, status: http.StatusBadRequest, code: "LA-API-4001"},
		{name: "unknown session", err: fmt.Errorf("session s9: %w", util.ErrNotFound), body: `{}`, status: http.StatusNotFound, code: "LA-API-4004"},
		{name: "store down", err: fmt.Errorf("%w: save turn: boom", util.ErrStoreUnavailable), body: `{}`, status: http.StatusServiceUnavailable, code: "LA-DB-5030"},
		{name: "timeout", err: context.DeadlineExceeded, body: `{}`, status: http.StatusGatewayTimeout, code: "LA-API-5040"},
		{name: "other", err: errors.New("boom"), body: `{}`, status: http.StatusInternalServerError, code: "LA-API-5000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&stubAssistant{err: tt.err}, nil)
			defer srv.Close()
			code, body := do(t, srv, http.MethodPost, "/ask", tt.body)
			assert.Equal(t, tt.status, code)
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestValidationMessageNamesMissingFields(t *testing.T) {
	apiErr := toAPIError(http.StatusBadRequest, fmt.Errorf("ask: user_id and query are required: %w", util.ErrInvalidInput))
	assert.Equal(t, "Required fields are missing: user_id and query.", apiErr.Message)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(&stubAssistant{}, nil)
	defer srv.Close()
	code, body := do(t, srv, http.MethodGet, "/ask", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, "LA-API-4005", errorCode(t, body))
}

func TestLibraryEndpoints(t *testing.T) {
	svc := &stubAssistant{papers: []models.Paper{{PaperID: "p1", Title: "Recent Work on X"}}}
	srv := newTestServer(svc, nil)
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/library?user_id=u1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["papers"], 1)

	code, body = do(t, srv, http.MethodGet, "/library", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "LA-API-4001", errorCode(t, body))

	code, body = do(t, srv, http.MethodPost, "/library/ingest", `{"user_id":"u1","keyword":"graphs"}`)
	require.Equal(t, http.StatusOK, code)
	outcomes := body["outcomes"].([]any)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "ingested", outcomes[0].(map[string]any)["status"])

	code, body = do(t, srv, http.MethodGet, "/library/p1/summaries?user_id=u1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["summaries"], 1)

	code, body = do(t, srv, http.MethodGet, "/library/p1/chunks?user_id=u1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["chunks"], 2)
}

func TestSessionEndpoints(t *testing.T) {
	svc := &stubAssistant{history: []models.Transcript{{TranscriptID: "t1", Query: "q"}}}
	srv := newTestServer(svc, nil)
	defer srv.Close()

	code, body := do(t, srv, http.MethodGet, "/sessions?user_id=u1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["sessions"], 1)

	code, body = do(t, srv, http.MethodGet, "/sessions/s1?user_id=u1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s1", body["session_id"])
	assert.Len(t, body["turns"], 1)

	code, body = do(t, srv, http.MethodGet, "/sessions/missing?user_id=u1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "LA-API-4004", errorCode(t, body))
}

func TestGrowEndpoints(t *testing.T) {
	tc := &fakeTemporal{progress: map[string]workflows.GrowthProgress{}}
	srv := newTestServer(&stubAssistant{}, tc)
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/library/grow", `{"user_id":"u1","keyword":"graphs","external_ids":["arXiv:2101.00001v2"]}`)
	require.Equal(t, http.StatusAccepted, code)
	wfID := body["workflow_id"].(string)
	assert.True(t, strings.HasPrefix(wfID, "grow-u1-"))
	require.Len(t, tc.started, 1)
	assert.Equal(t, []string{"2101.00001"}, tc.started[0].ExternalIDs)
	assert.Equal(t, "litagent-test", tc.opts.TaskQueue)

	tc.progress[wfID] = workflows.GrowthProgress{UserID: "u1", Stage: "ingesting", Total: 3, Done: 1}
	code, body = do(t, srv, http.MethodGet, "/library/grow/"+wfID+"?user_id=u1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ingesting", body["stage"])

	code, _ = do(t, srv, http.MethodGet, "/library/grow/"+wfID+"?user_id=u2", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = do(t, srv, http.MethodPost, "/library/grow", `{"user_id":"u1","external_ids":["not-an-id"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "One or more paper identifiers are malformed.", body["error"].(map[string]any)["message"])
}

func TestGrowWithoutTemporal(t *testing.T) {
	srv := newTestServer(&stubAssistant{}, nil)
	defer srv.Close()
	code, body := do(t, srv, http.MethodPost, "/library/grow", `{"user_id":"u1","keyword":"graphs"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "LA-WF-5031", errorCode(t, body))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&stubAssistant{}, nil)
	defer srv.Close()
	code, _ := do(t, srv, http.MethodOptions, "/ask", "")
	assert.Equal(t, http.StatusNoContent, code)
}

func postUpload(t *testing.T, srv *httptest.Server, userID, filename, contentType string, data []byte) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("user_id", userID))
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := srv.Client().Post(srv.URL+"/library/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestUploadEndpoint(t *testing.T) {
	svc := &stubAssistant{}
	srv := newTestServer(svc, nil)
	defer srv.Close()

	code, body := postUpload(t, srv, "u1", "paper.pdf", "application/pdf", []byte("%PDF-1.4 data"))
	require.Equal(t, http.StatusCreated, code)
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, "p-up", outcome["paper_id"])
	assert.Equal(t, "u1", svc.upload.userID)
	assert.Equal(t, "paper.pdf", svc.upload.filename)
	assert.Equal(t, []byte("%PDF-1.4 data"), svc.upload.data)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	svc := &stubAssistant{}
	srv := newTestServer(svc, nil)
	defer srv.Close()

	code, body := postUpload(t, srv, "u1", "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "LA-API-4001", errorCode(t, body))
	assert.Equal(t, "Only PDF uploads are supported.", body["error"].(map[string]any)["message"])
	assert.Empty(t, svc.upload.filename)
}

func TestUploadWithoutTextIsUnprocessable(t *testing.T) {
	svc := &stubAssistant{err: fmt.Errorf("%w: extract upload scan.pdf: %w", util.ErrPartialIngestion, util.ErrNoExtractableText)}
	srv := newTestServer(svc, nil)
	defer srv.Close()

	code, body := postUpload(t, srv, "u1", "scan.pdf", "application/octet-stream", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "LA-API-4022", errorCode(t, body))
}

func TestUploadRequiresFile(t *testing.T) {
	srv := newTestServer(&stubAssistant{}, nil)
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/library/upload", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Required fields are missing: file.", body["error"].(map[string]any)["message"])
}
