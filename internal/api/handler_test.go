package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"veil/internal/audit"
	"veil/internal/budget"
	"veil/internal/pipeline"
	"veil/pkg/domain"
	dErrors "veil/pkg/domain-errors"
)

type fakePipeline struct {
	state     pipeline.State
	submitted []domain.RawEvent
	submitErr error
}

func (f *fakePipeline) Submit(_ context.Context, ev domain.RawEvent) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, ev)
	return nil
}

func (f *fakePipeline) State() pipeline.State { return f.state }

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type HandlerSuite struct {
	suite.Suite
	fake    *fakePipeline
	budget  *budget.Manager
	auditor *audit.InMemoryStore
	server  *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.fake = &fakePipeline{state: pipeline.StateActive}
	s.auditor = audit.NewInMemoryStore()
	publisher := audit.NewPublisher(s.auditor)

	var err error
	s.budget, err = budget.NewManager(context.Background(), budget.NewInMemoryStore(), 1.0, 0.01,
		budget.WithAuditPublisher(publisher))
	s.Require().NoError(err)

	handler := New(s.fake, s.budget, publisher, slogDiscard())
	s.server = httptest.NewServer(NewRouter(handler, prometheus.NewRegistry()))
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
}

func (s *HandlerSuite) post(path, body string) *http.Response {
	resp, err := http.Post(s.server.URL+path, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) get(path string) *http.Response {
	resp, err := http.Get(s.server.URL + path)
	s.Require().NoError(err)
	return resp
}

const validEvent = `{
	"type": "screen_view",
	"fields": {"screen_count": 4, "screen_name": "journal"},
	"attributes": {
		"age": 31, "location": "CA", "platform": "ios",
		"app_version": "2.1.3", "contributor_key": "contributor-1"
	}
}`

func (s *HandlerSuite) TestSubmitAccepted() {
	resp := s.post("/v1/events", validEvent)
	defer resp.Body.Close()

	s.Equal(http.StatusAccepted, resp.StatusCode)
	s.Require().Len(s.fake.submitted, 1)

	ev := s.fake.submitted[0]
	s.Equal(domain.EventScreenView, ev.Type)
	s.NotZero(ev.ID)
	s.Equal(31, ev.Attributes.Age)
	s.InDelta(4, ev.Fields["screen_count"].Num, 1e-9)
}

func (s *HandlerSuite) TestSubmitRejectsMalformedBody() {
	resp := s.post("/v1/events", `{not json`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Empty(s.fake.submitted)
}

func (s *HandlerSuite) TestSubmitRejectsUnknownEventType() {
	resp := s.post("/v1/events", `{"type":"keystroke_log","attributes":{"age":31}}`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	entries, err := s.auditor.ListRecent(context.Background(), 1)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionEventRejected, entries[0].Action)
}

func (s *HandlerSuite) TestSubmitRefusedWhenPipelineDisabled() {
	s.fake.submitErr = dErrors.New(dErrors.CodePipelineDisabled, "pipeline is not accepting events")

	resp := s.post("/v1/events", validEvent)
	defer resp.Body.Close()
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}

func (s *HandlerSuite) TestBudgetStatus() {
	s.Require().NoError(s.budget.Allocate(context.Background(), 0.3))

	resp := s.get("/v1/budget")
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var status budget.Status
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&status))
	s.InDelta(0.3, status.Spent, 1e-9)
	s.InDelta(0.7, status.Remaining, 1e-9)
}

func (s *HandlerSuite) TestBudgetReset() {
	s.Require().NoError(s.budget.Allocate(context.Background(), 0.3))

	resp := s.post("/v1/budget/reset", `{"ceiling": 1.0}`)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Zero(s.budget.Status().Spent)
}

func (s *HandlerSuite) TestBudgetResetRejectsNonPositiveCeiling() {
	resp := s.post("/v1/budget/reset", `{"ceiling": 0}`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestAuditRecent() {
	s.Require().NoError(s.budget.Allocate(context.Background(), 0.1))

	resp := s.get("/v1/audit/recent?limit=5")
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []audit.Entry `json:"entries"`
	}
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Require().NotEmpty(body.Entries)
	s.Equal(audit.ActionEpsilonAllocated, body.Entries[0].Action)
}

func (s *HandlerSuite) TestAuditRecentRejectsBadLimit() {
	resp := s.get("/v1/audit/recent?limit=zero")
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *HandlerSuite) TestHealthReflectsPipelineState() {
	resp := s.get("/healthz")
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.fake.state = pipeline.StateDisabled
	resp = s.get("/healthz")
	defer resp.Body.Close()
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal("disabled", body["state"])
}

func (s *HandlerSuite) TestMetricsExposed() {
	resp := s.get("/metrics")
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}
