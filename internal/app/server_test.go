package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yashubustudio/qalens/qalens"
)

const scoresCSV = "expert_id,score,task_id,reviewer\nE1,4,T1,R1\nE2,2,T1,R2\nE3,4,T1,R3\n"

func newTestServer(t *testing.T) (*Server, *Service) {
	t.Helper()
	svc, err := NewService(qalens.Config{}, nil, zap.NewNop())
	require.NoError(t, err)
	return NewServer(svc, zap.NewNop()), svc
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func upload(t *testing.T, h http.Handler, name, body string) tableResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/tables?name="+name, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[tableResponse](t, rec)
}

func TestServerCatalog(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[catalogResponse](t, rec)
	assert.NotEmpty(t, got.ProjectTypes)
	assert.NotEmpty(t, got.QualityTypes)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServerUploadAndResults(t *testing.T) {
	srv, _ := newTestServer(t)
	created := upload(t, srv, "scores.csv", scoresCSV)
	assert.Equal(t, 3, created.Table.Rows)
	assert.Equal(t, "expert_id", created.Mapping.Column(qalens.RoleExpertID))

	rec := do(t, srv, http.MethodGet, "/api/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]qalens.TableInfo](t, rec), 1)

	rec = do(t, srv, http.MethodGet, "/api/results/normalized/"+created.Table.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[qalens.NormalizeResult](t, rec).Records, 3)

	rec = do(t, srv, http.MethodGet, "/api/results/consensus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	consensus := decodeBody[qalens.ConsensusReport](t, rec)
	require.Len(t, consensus.Groups, 1)
	assert.Equal(t, qalens.OutcomePass, consensus.Groups[0].Modal)

	rec = do(t, srv, http.MethodGet, "/api/results/aggregates", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decodeBody[qalens.Aggregates](t, rec).Overall.Total)

	rec = do(t, srv, http.MethodGet, "/api/results/joined", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/results/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[qalens.Snapshot](t, rec)
	assert.Len(t, snap.Records, 3)
	assert.Empty(t, snap.Error)
}

func TestServerMappingEdits(t *testing.T) {
	srv, _ := newTestServer(t)
	created := upload(t, srv, "odd.csv", "person,score\nE1,4\n")
	id := created.Table.ID

	rec := do(t, srv, http.MethodGet, "/api/results/normalized/"+id, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	gap := decodeBody[errorResponse](t, rec)
	assert.Equal(t, []qalens.Role{qalens.RoleExpertID}, gap.Missing)

	rec = do(t, srv, http.MethodPatch, "/api/tables/"+id+"/mapping", `{"role":"expertId","column":"person","origin":"assistant"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	mapping := decodeBody[qalens.ColumnMapping](t, rec)
	assert.Equal(t, "person", mapping.Column(qalens.RoleExpertID))
	assert.Equal(t, qalens.OriginAssistant, mapping.Entries[qalens.RoleExpertID].Origin)

	rec = do(t, srv, http.MethodGet, "/api/results/normalized/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPatch, "/api/tables/"+id+"/mapping", `{"role":"expertId","column":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPatch, "/api/tables/"+id+"/mapping", `{"role":"expertId","colum":"typo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/tables/"+id+"/mapping/redetect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[qalens.ColumnMapping](t, rec).Column(qalens.RoleExpertID))
}

func TestServerSample(t *testing.T) {
	srv, _ := newTestServer(t)
	created := upload(t, srv, "scores.csv", scoresCSV)

	rec := do(t, srv, http.MethodGet, "/api/tables/"+created.Table.ID+"/sample?n=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sample := decodeBody[sampleResponse](t, rec)
	assert.Len(t, sample.Rows, 2)
	assert.Equal(t, "E1", sample.Rows[0]["expert_id"].String())

	rec = do(t, srv, http.MethodGet, "/api/tables/"+created.Table.ID+"/sample?n=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerConfigChanges(t *testing.T) {
	srv, svc := newTestServer(t)
	upload(t, srv, "scores.csv", scoresCSV)

	rec := do(t, srv, http.MethodPut, "/api/config/quality", `{"override":{"id":"strict","isNumeric":true,"failThreshold":4.5,"minorThreshold":4.8}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	agg, err := svc.Session().Aggregates()
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Overall.Fail)

	rec = do(t, srv, http.MethodPut, "/api/config/quality", `{"id":"numeric_1_5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "numeric_1_5", decodeBody[qalens.QualityTypeConfig](t, rec).ID)

	rec = do(t, srv, http.MethodPut, "/api/config/quality", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPut, "/api/config/project", `{"id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, srv, http.MethodPut, "/api/config/project", `{"id":"video_generation"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPut, "/api/config/combine", `{"mode":"append","maxMatchesPerKey":3}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decodeBody[qalens.Config](t, rec)
	assert.Equal(t, qalens.CombineAppend, cfg.Combine)
	assert.Equal(t, qalens.RoleExpertID, cfg.JoinRole)
	assert.Equal(t, 3, cfg.MaxMatchesPerKey)

	rec = do(t, srv, http.MethodPut, "/api/config/aggregate", `{"granularity":"month"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, qalens.GranularityMonth, decodeBody[qalens.Config](t, rec).Aggregate.Granularity)

	rec = do(t, srv, http.MethodPut, "/api/config/consensus", `{"raterRole":"category"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerUnknownTable(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, target := range []string{"/api/tables/missing/mapping", "/api/results/normalized/missing", "/api/tables/missing/sample"} {
		rec := do(t, srv, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
	rec := do(t, srv, http.MethodDelete, "/api/tables/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerUploadErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/tables", "a,b\n").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/tables?name=x.pdf", "a,b\n").Code)
	assert.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/tables?name=export&format=tsv", "expert_id\tscore\nE1\t3\n").Code)
}

func TestServerDeleteTable(t *testing.T) {
	srv, _ := newTestServer(t)
	created := upload(t, srv, "scores.csv", scoresCSV)
	rec := do(t, srv, http.MethodDelete, "/api/tables/"+created.Table.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/results/aggregates", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "no table is ready")
}
