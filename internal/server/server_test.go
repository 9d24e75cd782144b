package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrametric/carbon-cli/internal/boq"
	"github.com/terrametric/carbon-cli/internal/catalog"
	"github.com/terrametric/carbon-cli/internal/compliance"
	"github.com/terrametric/carbon-cli/internal/extract"
	"github.com/terrametric/carbon-cli/internal/model"
	"github.com/terrametric/carbon-cli/internal/pipeline"
	"github.com/terrametric/carbon-cli/internal/resilience"
	"github.com/terrametric/carbon-cli/internal/store"
	"github.com/terrametric/carbon-cli/pkg/anthropic"
)

const testToken = "test-token-1"

// stubAI answers every extraction call with the same canned response.
type stubAI struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (s *stubAI) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &anthropic.MessageResponse{Text: s.response}, nil
}

func (s *stubAI) CreateDocumentMessage(context.Context, anthropic.DocumentRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{Text: ""}, nil
}

func newTestServer(t *testing.T, ai anthropic.Client, opts Options) (*Server, store.Store) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cat := catalog.New([]model.ReferenceMaterial{
		{ID: "6f1f8a1e-9a1e-4f6e-8d3a-111111111111", Name: "Concrete 32MPa", Category: "concrete", Unit: "m3", Factor: 300, Source: "NGA 2024"},
	})

	docs := extract.New(ai, extract.Options{})
	boqx := boq.NewExtractor(ai, boq.Options{Model: "claude-sonnet-4-5"})
	pipe := pipeline.New(docs, boqx, cat, nil, pipeline.Options{})

	checker, err := compliance.New()
	require.NoError(t, err)

	if opts.APITokens == nil {
		opts.APITokens = []string{testToken}
	}
	return New(pipe, st, checker, opts), st
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})
	router := s.Router()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/materials", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthorized")

	rec = doJSON(t, router, http.MethodGet, "/api/v1/materials", "wrong-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImportText(t *testing.T) {
	ai := &stubAI{response: `[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`}
	s, _ := newTestServer(t, ai, Options{})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/import", testToken,
		map[string]string{"text": "Concrete slab 10 m3"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Materials []model.ValidatedLineItem `json:"materials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Materials, 1)
	require.NotNil(t, resp.Materials[0].Factor)
	assert.Equal(t, 300.0, *resp.Materials[0].Factor)
}

func TestImportEmptyTextRejected(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/import", testToken,
		map[string]string{"text": ""})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")
}

func TestImportMultipartFile(t *testing.T) {
	ai := &stubAI{response: `[{"name":"Concrete slab","category":"concrete","unit":"m3","quantity":10}]`}
	s, _ := newTestServer(t, ai, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "boq.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("description,quantity,unit\nConcrete slab,10,m3\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Concrete slab")
}

func TestImportUnsupportedFileType(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "photo.gif")
	require.NoError(t, err)
	_, err = fw.Write([]byte("GIF89a"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")
}

func TestImportUpstreamRateLimit(t *testing.T) {
	ai := &stubAI{err: &resilience.RateLimitError{Err: assert.AnError, RetryAfter: 30 * time.Second}}
	s, _ := newTestServer(t, ai, Options{})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/import", testToken,
		map[string]string{"text": "Concrete slab 10 m3"})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "upstream_rate_limited")
	assert.Contains(t, rec.Body.String(), `"retryAfter":30`)
}

func TestImportUpstreamQuota(t *testing.T) {
	ai := &stubAI{err: &resilience.QuotaError{Err: assert.AnError}}
	s, _ := newTestServer(t, ai, Options{})

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/import", testToken,
		map[string]string{"text": "Concrete slab 10 m3"})

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota_exhausted")
}

func TestImportPerUserRateLimit(t *testing.T) {
	ai := &stubAI{response: `[]`}
	s, _ := newTestServer(t, ai, Options{RateMax: 2, RateWindow: time.Minute})
	router := s.Router()

	remaining := []string{"1", "0"}
	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/import", testToken,
			map[string]string{"text": "some boq text"})
		require.Equal(t, http.StatusOK, rec.Code, "request %d within the window", i)
		assert.Equal(t, remaining[i], rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/import", testToken,
		map[string]string{"text": "some boq text"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
	assert.Equal(t, 2, ai.calls, "limited request never reaches the pipeline")
}

func TestCreateAndGetCalculation(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})
	router := s.Router()

	factor := 300.0
	body := map[string]any{
		"project": model.Project{ID: "p1", Name: "Tower A", State: "NSW", FloorAreaM2: 1000},
		"inputs": model.CalculationInputs{
			Materials: []model.ValidatedLineItem{
				{Name: "Concrete slab", Category: "concrete", Unit: "m3", Quantity: 10, Factor: &factor, MatchType: model.MatchProxy, Confidence: model.ConfidenceMedium, IsCustom: true},
			},
		},
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/calculations", testToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.CalculationRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 3000.0, created.Totals.Total)
	assert.NotEmpty(t, created.Compliance, "compliance section populated")

	got := doJSON(t, router, http.MethodGet, "/api/v1/calculations/"+created.ID, testToken, nil)
	require.Equal(t, http.StatusOK, got.Code)

	var fetched model.CalculationRecord
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, created.Totals, fetched.Totals)
}

func TestCreateCalculationRejectsNegativeQuantity(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})

	factor := 300.0
	body := map[string]any{
		"inputs": model.CalculationInputs{
			Materials: []model.ValidatedLineItem{
				{Name: "Concrete", Quantity: -5, Factor: &factor},
			},
		},
	}

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/calculations", testToken, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "negative quantity")
}

func TestGetCalculationNotFound(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/calculations/missing-id", testToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestListCalculationsScopedToUser(t *testing.T) {
	s, st := newTestServer(t, &stubAI{}, Options{})
	router := s.Router()

	// A record owned by someone else, inserted directly.
	_, err := st.CreateRecord(context.Background(), model.CalculationRecord{
		ProjectID: "p-other", UserID: "someone-else",
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/calculations", testToken, map[string]any{
		"project": model.Project{ID: "p1"},
		"inputs":  model.CalculationInputs{},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	list := doJSON(t, router, http.MethodGet, "/api/v1/calculations", testToken, nil)
	require.Equal(t, http.StatusOK, list.Code)

	var resp struct {
		Calculations []model.CalculationRecord `json:"calculations"`
	}
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &resp))
	require.Len(t, resp.Calculations, 1, "other users' records hidden")
	assert.Equal(t, "p1", resp.Calculations[0].ProjectID)
}

func TestListMaterials(t *testing.T) {
	s, st := newTestServer(t, &stubAI{}, Options{})

	_, err := st.UpsertMaterials(context.Background(), []model.ReferenceMaterial{
		{ID: "m1", Name: "Concrete 32MPa", Category: "concrete", Unit: "m3", Factor: 300},
		{ID: "m2", Name: "Structural steel", Category: "steel", Unit: "t", Factor: 2500},
	})
	require.NoError(t, err)

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/materials?category=steel", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Materials []model.ReferenceMaterial `json:"materials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Materials, 1)
	assert.Equal(t, "m2", resp.Materials[0].ID)
}

func TestMaterialsEmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t, &stubAI{}, Options{})

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/materials", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, strings.TrimSpace(rec.Body.String()), `"materials":[]`)
}

func TestDistinctTokensGetDistinctRateWindows(t *testing.T) {
	ai := &stubAI{response: `[]`}
	s, _ := newTestServer(t, ai, Options{
		APITokens:  []string{"token-a", "token-b"},
		RateMax:    1,
		RateWindow: time.Minute,
	})
	router := s.Router()

	recA := doJSON(t, router, http.MethodPost, "/api/v1/import", "token-a",
		map[string]string{"text": "boq"})
	require.Equal(t, http.StatusOK, recA.Code)

	recA2 := doJSON(t, router, http.MethodPost, "/api/v1/import", "token-a",
		map[string]string{"text": "boq"})
	require.Equal(t, http.StatusTooManyRequests, recA2.Code)

	recB := doJSON(t, router, http.MethodPost, "/api/v1/import", "token-b",
		map[string]string{"text": "boq"})
	assert.Equal(t, http.StatusOK, recB.Code, "second user has an independent window")
}

func TestHealthReportsDegradedStore(t *testing.T) {
	s, st := newTestServer(t, &stubAI{}, Options{})
	require.NoError(t, st.Close())

	rec := doJSON(t, s.Router(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}
