package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"devguard/internal/audit"
	jwttoken "devguard/internal/jwt_token"
	"devguard/internal/platform/metrics"
	"devguard/internal/workflow"
	"devguard/internal/workflow/history"
	dErrors "devguard/pkg/domain-errors"
	"devguard/pkg/platform/sentinel"
	"devguard/pkg/testutil"
)

type fakeAudit struct {
	filter   audit.Filter
	records  []audit.Record
	from, to time.Time
	err      error
}

func (f *fakeAudit) GetShadowLogs(_ context.Context, filter audit.Filter) ([]audit.Record, error) {
	f.filter = filter
	return f.records, f.err
}

func (f *fakeAudit) GetAnalytics(_ context.Context, from, to time.Time) (audit.Analytics, error) {
	f.from, f.to = from, to
	return audit.Analytics{From: from, To: to, TotalOperations: len(f.records)}, f.err
}

type fakeRuns struct {
	byDevice map[string][]history.Run
	recent   []history.Run
	limit    int
}

func (f *fakeRuns) Get(_ context.Context, id string) (history.Run, error) {
	for _, r := range f.recent {
		if r.ExecutionID == id {
			return r, nil
		}
	}
	return history.Run{}, sentinel.ErrNotFound
}

func (f *fakeRuns) ListByDevice(_ context.Context, device string, limit int) ([]history.Run, error) {
	f.limit = limit
	return f.byDevice[device], nil
}

func (f *fakeRuns) ListRecent(_ context.Context, limit int) ([]history.Run, error) {
	f.limit = limit
	return f.recent, nil
}

type fakeDefs struct{}

func (fakeDefs) Load(_ context.Context, c workflow.Category, id string) (workflow.Definition, error) {
	if id != "unlock" {
		return workflow.Definition{}, dErrors.New(dErrors.CodeNotFound, "workflow not found")
	}
	return workflow.Definition{ID: id, Name: "Unlock", Category: c}, nil
}

func (fakeDefs) List(_ context.Context, c workflow.Category) ([]workflow.Summary, error) {
	return []workflow.Summary{{ID: "unlock", Name: "Unlock", Category: c}}, nil
}

type RouterSuite struct {
	suite.Suite
	jwt    *jwttoken.JWTService
	audit  *fakeAudit
	runs   *fakeRuns
	ready  error
	router http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.jwt = jwttoken.NewJWTService("router-test-key", "devguard")
	s.audit = &fakeAudit{records: []audit.Record{{Operation: "workflow_start", DeviceSerial: "SER1"}}}
	s.runs = &fakeRuns{
		byDevice: map[string][]history.Run{"SER1": {{DeviceID: "SER1"}}},
		recent:   []history.Run{{Result: workflow.Result{ExecutionID: "exec-1"}}},
	}
	s.ready = nil
	s.router = NewRouter(Deps{
		Registry:  metrics.New(),
		Validator: jwttoken.NewJWTServiceAdapter(s.jwt),
		Health: NewHealthHandler(map[string]ReadinessCheck{
			"audit_key": func(context.Context) error { return s.ready },
		}),
		Audit:     NewAuditHandler(s.audit, nil),
		Runs:      NewRunsHandler(s.runs, nil),
		Workflows: NewWorkflowsHandler(fakeDefs{}, nil),
	})
}

func (s *RouterSuite) token(role string) string {
	tok, err := s.jwt.GenerateToken("op-1", role, time.Hour)
	s.Require().NoError(err)
	return tok
}

func (s *RouterSuite) do(path, token string) *httptest.ResponseRecorder {
	req := testutil.WithBearer(testutil.NewRequest(s.T(), http.MethodGet, path), token)
	return testutil.DoRequest(s.router, req)
}

func (s *RouterSuite) decode(w *httptest.ResponseRecorder) map[string]any {
	return *testutil.UnmarshalResponse[map[string]any](s.T(), w)
}

// =============================================================================
// Health
// =============================================================================

func (s *RouterSuite) TestHealthEndpoints() {
	s.Run("healthz is open", func() {
		s.Equal(http.StatusOK, s.do("/healthz", "").Code)
	})

	s.Run("readyz reports failing checks", func() {
		s.ready = errors.New("running on an ephemeral shadow key")
		w := s.do("/readyz", "")
		s.Equal(http.StatusServiceUnavailable, w.Code)
		s.Contains(w.Body.String(), "ephemeral shadow key")
	})

	s.Run("readyz ok", func() {
		s.ready = nil
		s.Equal(http.StatusOK, s.do("/readyz", "").Code)
	})

	s.Run("metrics exposes http counters", func() {
		s.do("/healthz", "")
		w := s.do("/metrics", "")
		s.Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `devguard_http_requests_total{route="/healthz",status="200"}`)
	})
}

// =============================================================================
// Admin guard
// =============================================================================

func (s *RouterSuite) TestAdminGuard() {
	s.Run("missing token", func() {
		testutil.AssertStatusAndError(s.T(), s.do("/admin/runs", ""), http.StatusUnauthorized, "unauthorized")
	})

	s.Run("wrong role", func() {
		testutil.AssertStatusAndError(s.T(), s.do("/admin/runs", s.token("viewer")), http.StatusForbidden, "forbidden")
	})

	s.Run("admin role", func() {
		s.Equal(http.StatusOK, s.do("/admin/runs", s.token("admin")).Code)
	})
}

// =============================================================================
// Audit
// =============================================================================

func (s *RouterSuite) TestAuditShadow() {
	w := s.do("/admin/audit/shadow?device=SER1&operation=workflow_start&from=2026-01-01&to=2026-01-02&limit=5", s.token("admin"))
	s.Equal(http.StatusOK, w.Code)

	f := s.audit.filter
	s.Equal("SER1", f.DeviceSerial)
	s.Equal("workflow_start", f.Operation)
	s.Equal(5, f.Limit)
	s.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.From)
	s.Equal(time.Date(2026, 1, 2, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC), f.To)

	records := s.decode(w)["records"].([]any)
	s.Len(records, 1)
}

func (s *RouterSuite) TestAuditShadowBadParams() {
	s.Equal(http.StatusBadRequest, s.do("/admin/audit/shadow?from=yesterday", s.token("admin")).Code)
	s.Equal(http.StatusBadRequest, s.do("/admin/audit/shadow?limit=-1", s.token("admin")).Code)
}

func (s *RouterSuite) TestAuditAnalyticsDefaultWindow() {
	w := s.do("/admin/audit/analytics", s.token("admin"))
	s.Equal(http.StatusOK, w.Code)
	s.Equal(DefaultAnalyticsWindow, s.audit.to.Sub(s.audit.from))
	s.EqualValues(1, s.decode(w)["totalOperations"])
}

func (s *RouterSuite) TestAuditReadFailureHidesDetail() {
	s.audit.err = dErrors.Wrap(errors.New("disk gone"), dErrors.CodeInternal, "list shadow partitions")
	w := s.do("/admin/audit/analytics", s.token("admin"))
	s.Equal(http.StatusInternalServerError, w.Code)
	s.NotContains(w.Body.String(), "disk gone")
}

// =============================================================================
// Runs and workflows
// =============================================================================

func (s *RouterSuite) TestRuns() {
	s.Run("by device", func() {
		w := s.do("/admin/runs?device=SER1&limit=3", s.token("admin"))
		s.Equal(http.StatusOK, w.Code)
		s.Equal(3, s.runs.limit)
		s.Len(s.decode(w)["runs"].([]any), 1)
	})

	s.Run("get by id", func() {
		w := s.do("/admin/runs/exec-1", s.token("admin"))
		s.Equal(http.StatusOK, w.Code)
		s.Equal("exec-1", s.decode(w)["executionId"])
	})

	s.Run("unknown id", func() {
		s.Equal(http.StatusNotFound, s.do("/admin/runs/nope", s.token("admin")).Code)
	})
}

func (s *RouterSuite) TestWorkflows() {
	s.Run("list", func() {
		w := s.do("/admin/workflows/bootloader", s.token("admin"))
		s.Equal(http.StatusOK, w.Code)
		s.Len(s.decode(w)["workflows"].([]any), 1)
	})

	s.Run("unknown category", func() {
		s.Equal(http.StatusNotFound, s.do("/admin/workflows/toaster", s.token("admin")).Code)
	})

	s.Run("get definition", func() {
		s.Equal(http.StatusOK, s.do("/admin/workflows/bootloader/unlock", s.token("admin")).Code)
		s.Equal(http.StatusNotFound, s.do("/admin/workflows/bootloader/other", s.token("admin")).Code)
	})
}
