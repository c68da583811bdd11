package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strata-data/extract-engine/pkg/models"
	"github.com/strata-data/extract-engine/pkg/services/depgraph"
)

type memDepRepo struct {
	deps map[uuid.UUID]*models.Dependency
}

func newMemDepRepo() *memDepRepo {
	return &memDepRepo{deps: make(map[uuid.UUID]*models.Dependency)}
}

func (r *memDepRepo) Create(_ context.Context, dep *models.Dependency) error {
	cp := *dep
	r.deps[dep.ID] = &cp
	return nil
}

func (r *memDepRepo) Deactivate(_ context.Context, id uuid.UUID) (bool, error) {
	dep, ok := r.deps[id]
	if !ok || !dep.Active {
		return false, nil
	}
	dep.Active = false
	return true, nil
}

func (r *memDepRepo) ListActive(_ context.Context) ([]*models.Dependency, error) {
	var out []*models.Dependency
	for _, dep := range r.deps {
		if dep.Active {
			cp := *dep
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memDepRepo) ListAll(_ context.Context) ([]*models.Dependency, error) {
	var out []*models.Dependency
	for _, dep := range r.deps {
		cp := *dep
		out = append(out, &cp)
	}
	return out, nil
}

func newDependencyServer(t *testing.T) (*depgraph.Manager, *httptest.Server) {
	t.Helper()
	repo := newMemDepRepo()
	mgr := depgraph.NewManager(repo, zap.NewNop())
	mux := http.NewServeMux()
	NewDependencyHandler(mgr, repo, zap.NewNop()).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return mgr, srv
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestRegisterAndListDependencies(t *testing.T) {
	_, srv := newDependencyServer(t)

	resp := postJSON(t, srv.URL+"/api/dependencies",
		`{"source_id":"reports","target_id":"orders-db","type":"data"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	_, err := uuid.Parse(body["dependency_id"].(string))
	require.NoError(t, err)

	listResp, err := http.Get(srv.URL + "/api/dependencies?source_id=reports")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	listBody := decodeBody(t, listResp)
	assert.Len(t, listBody["dependencies"], 1)
}

func TestRegisterRejectsSelfDependency(t *testing.T) {
	_, srv := newDependencyServer(t)

	resp := postJSON(t, srv.URL+"/api/dependencies",
		`{"source_id":"a","target_id":"a","type":"data"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemoveDependency(t *testing.T) {
	mgr, srv := newDependencyServer(t)

	id, err := mgr.Register(context.Background(), "reports", "orders-db", models.DependencyTypeData, nil, true)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/dependencies/"+id.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// second delete finds nothing active
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckSatisfaction(t *testing.T) {
	mgr, srv := newDependencyServer(t)

	_, err := mgr.Register(context.Background(), "reports", "orders-db", models.DependencyTypeData, nil, true)
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/dependencies/check",
		`{"source_id":"reports","context":{"orders-db":{"data_available":true}}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["satisfied"])

	resp = postJSON(t, srv.URL+"/api/dependencies/check",
		`{"source_id":"reports","context":{}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, false, body["satisfied"])
	assert.Len(t, body["unsatisfied"], 1)
}

func TestExecutionOrderEndpoint(t *testing.T) {
	mgr, srv := newDependencyServer(t)

	ctx := context.Background()
	_, err := mgr.Register(ctx, "reports", "orders-db", models.DependencyTypeExecution, nil, true)
	require.NoError(t, err)
	_, err = mgr.Register(ctx, "orders-db", "raw-feed", models.DependencyTypeExecution, nil, true)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/execution-order?ids=reports,orders-db,raw-feed")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, []any{"raw-feed", "orders-db", "reports"}, body["order"])
}

func TestExecutionOrderReportsCycle(t *testing.T) {
	mgr, srv := newDependencyServer(t)

	ctx := context.Background()
	_, err := mgr.Register(ctx, "a", "b", models.DependencyTypeExecution, nil, true)
	require.NoError(t, err)
	_, err = mgr.Register(ctx, "b", "a", models.DependencyTypeExecution, nil, true)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/execution-order?ids=a,b")
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "cycle_detected", body["error"])
	assert.NotEmpty(t, body["cycles"])
}

func TestImpactEndpoint(t *testing.T) {
	mgr, srv := newDependencyServer(t)

	ctx := context.Background()
	_, err := mgr.Register(ctx, "reports", "orders-db", models.DependencyTypeData, nil, true)
	require.NoError(t, err)
	_, err = mgr.Register(ctx, "dashboard", "reports", models.DependencyTypeData, nil, true)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/impact/orders-db")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report models.ImpactReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, []string{"reports"}, report.DirectDependents)
	assert.Equal(t, []string{"dashboard", "reports"}, report.TransitiveDependents)
}

func TestImpactOfLeafIsEmpty(t *testing.T) {
	_, srv := newDependencyServer(t)

	resp, err := http.Get(srv.URL + "/api/impact/unknown")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report models.ImpactReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Empty(t, report.DirectDependents)
	assert.Empty(t, report.TransitiveDependents)
}

func TestDependencyHistoryKeepsDeactivated(t *testing.T) {
	mgr, srv := newDependencyServer(t)

	ctx := context.Background()
	removed, err := mgr.Register(ctx, "reports", "orders-db", models.DependencyTypeData, nil, true)
	require.NoError(t, err)
	_, err = mgr.Register(ctx, "dashboard", "reports", models.DependencyTypeData, nil, true)
	require.NoError(t, err)

	ok, err := mgr.Remove(ctx, removed)
	require.NoError(t, err)
	require.True(t, ok)

	listResp, err := http.Get(srv.URL + "/api/dependencies?source_id=reports")
	require.NoError(t, err)
	assert.Empty(t, decodeBody(t, listResp)["dependencies"])

	histResp, err := http.Get(srv.URL + "/api/dependencies/history")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, histResp.StatusCode)
	assert.Len(t, decodeBody(t, histResp)["dependencies"], 2)
}

func TestRegisterIdempotentReturnsSameID(t *testing.T) {
	_, srv := newDependencyServer(t)

	payload := `{"source_id":"reports","target_id":"orders-db","type":"data"}`
	first := decodeBody(t, postJSON(t, srv.URL+"/api/dependencies", payload))
	second := decodeBody(t, postJSON(t, srv.URL+"/api/dependencies", payload))
	assert.Equal(t, fmt.Sprint(first["dependency_id"]), fmt.Sprint(second["dependency_id"]))
}
