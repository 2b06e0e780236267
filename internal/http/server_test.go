//nolint:hugeParam // test only
package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"nsmeta/pkg/cluster"
	"nsmeta/pkg/metadata"
)

var (
	testDB = uuid.MustParse("00000000-0000-0000-0000-0000000000db")
	testDC = uuid.MustParse("00000000-0000-0000-0000-0000000000dc")
)

func newTestServer(t *testing.T) (*Server, *cluster.Node) {
	t.Helper()
	node := cluster.NewNode(cluster.NodeConfig{ID: "n1", Datacenter: testDC})
	return NewServer(node, nil, ""), node
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
	return resp
}

// decodeData достаёт поле data ответа в конкретный тип
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var resp struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v, body=%s", err, rr.Body.String())
	}
}

func createTable(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/tables",
		`{"name":"`+name+`","database":"`+testDB.String()+`","primary_key":"id"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	return decodeResp(t, rr).Value
}

func TestHealthHandler(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodGet, "/health", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	resp := decodeResp(t, rr)
	if resp.Status != StatusOK {
		t.Fatalf("expected status %s, got %s", StatusOK, resp.Status)
	}
}

func TestTableLifecycle(t *testing.T) {
	s, node := newTestServer(t)
	h := s.Handler()

	id := createTable(t, h, "users")

	// LIST
	rr := do(t, h, http.MethodGet, "/api/tables", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var tables []tableSummary
	decodeData(t, rr, &tables)
	if len(tables) != 1 || tables[0].Name != "users" || tables[0].ID.String() != id {
		t.Fatalf("list: unexpected tables %+v", tables)
	}

	// GET table
	rr = do(t, h, http.MethodGet, "/api/tables/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var view struct {
		Fields []metadata.FieldView `json:"fields"`
	}
	decodeData(t, rr, &view)
	if len(view.Fields) != len(metadata.FieldNames()) {
		t.Fatalf("get: expected %d fields, got %d", len(metadata.FieldNames()), len(view.Fields))
	}

	// PUT field
	rr = do(t, h, http.MethodPut, "/api/tables/"+id+"/name", `"accounts"`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	var field metadata.FieldView
	decodeData(t, rr, &field)
	if field.Value != "accounts" || field.Clock["n1"] != 2 {
		t.Fatalf("put: unexpected view %+v", field)
	}

	// GET field
	rr = do(t, h, http.MethodGet, "/api/tables/"+id+"/ack_expectations", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get field: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	decodeData(t, rr, &field)
	acks, ok := field.Value.(map[string]any)
	if !ok || len(acks) != 1 {
		t.Fatalf("get field: unexpected ack expectations %#v", field.Value)
	}

	// DELETE
	rr = do(t, h, http.MethodDelete, "/api/tables/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if node.Snapshot().Len() != 1 || len(node.Snapshot().Live()) != 0 {
		t.Fatalf("delete: table must stay as a tombstone")
	}

	// GET after delete -> 410
	rr = do(t, h, http.MethodGet, "/api/tables/"+id, "")
	if rr.Code != http.StatusGone {
		t.Fatalf("get-after-delete: expected 410, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestErrorStatuses(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	id := createTable(t, h, "users")
	missing := uuid.MustParse("00000000-0000-0000-0000-00000000ffff").String()

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"bad id", http.MethodGet, "/api/tables/not-a-uuid", "", http.StatusBadRequest},
		{"missing table", http.MethodGet, "/api/tables/" + missing, "", http.StatusNotFound},
		{"unknown field", http.MethodGet, "/api/tables/" + id + "/colour", "", http.StatusNotFound},
		{"invalid name", http.MethodPut, "/api/tables/" + id + "/name", `"has space"`, http.StatusBadRequest},
		{"wrong type", http.MethodPut, "/api/tables/" + id + "/shards", `"x"`, http.StatusBadRequest},
		{"primary key change", http.MethodPut, "/api/tables/" + id + "/primary_key", `"other"`, http.StatusBadRequest},
		{"empty value", http.MethodPut, "/api/tables/" + id + "/name", "", http.StatusBadRequest},
		{"taken name", http.MethodPost, "/api/tables", `{"name":"users","database":"` + testDB.String() + `","primary_key":"id"}`, http.StatusConflict},
		{"no database", http.MethodPost, "/api/tables", `{"name":"orders","primary_key":"id"}`, http.StatusBadRequest},
		{"unknown body field", http.MethodPost, "/api/tables", `{"name":"orders","colour":"red"}`, http.StatusBadRequest},
		{"method not allowed", http.MethodPost, "/health", "", http.StatusMethodNotAllowed},
		{"no gossip endpoint", http.MethodPost, "/api/internal/gossip", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, tt.method, tt.target, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestConflictsEndpoint(t *testing.T) {
	s, node := newTestServer(t)
	h := s.Handler()

	rr := do(t, h, http.MethodGet, "/api/conflicts", "")
	var conflicts []metadata.Conflict
	decodeData(t, rr, &conflicts)
	if len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}

	// вторая нода создаёт ту же таблицу и переименовывает её параллельно
	id := createTable(t, h, "users")
	other := cluster.NewNode(cluster.NodeConfig{ID: "n2", Datacenter: testDC})
	if _, err := other.Merge(node.Snapshot()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	tableID := uuid.MustParse(id)
	if _, err := other.ProposeField(tableID, "name", []byte(`"people"`)); err != nil {
		t.Fatalf("propose on n2: %v", err)
	}
	if rr := do(t, h, http.MethodPut, "/api/tables/"+id+"/name", `"accounts"`); rr.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rr.Code, rr.Body.String())
	}
	if _, err := node.Merge(other.Snapshot()); err != nil {
		t.Fatalf("merge back: %v", err)
	}

	rr = do(t, h, http.MethodGet, "/api/conflicts", "")
	decodeData(t, rr, &conflicts)
	if len(conflicts) != 1 || conflicts[0].Field != "name" || conflicts[0].Candidates != 2 {
		t.Fatalf("unexpected conflicts %+v", conflicts)
	}

	rr = do(t, h, http.MethodGet, "/api/tables/"+id+"/name", "")
	var field metadata.FieldView
	decodeData(t, rr, &field)
	if !field.Conflicted || field.Value != "people" {
		t.Fatalf("unexpected resolved view %+v", field)
	}
}

func TestDirectoryEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	table := uuid.MustParse("00000000-0000-0000-0000-00000000000a")

	rr := do(t, h, http.MethodPut, "/api/directory/"+table.String(), "primary")
	if rr.Code != http.StatusOK {
		t.Fatalf("announce: expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPut, "/api/directory/"+table.String(), "secondary")
	var a announcementView
	decodeData(t, rr, &a)
	if a.Seq != 2 || a.Origin != "n1" {
		t.Fatalf("announce: unexpected %+v", a)
	}

	rr = do(t, h, http.MethodGet, "/api/directory?table="+table.String(), "")
	var anns []announcementView
	decodeData(t, rr, &anns)
	if len(anns) != 1 || string(anns[0].Payload) != "secondary" {
		t.Fatalf("directory: unexpected %+v", anns)
	}

	rr = do(t, h, http.MethodGet, "/api/directory?table=nope", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("directory bad table: expected 400, got %d", rr.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()
	createTable(t, h, "users")

	rr := do(t, h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "nsmeta_live_tables 1") {
		t.Fatalf("unexpected metrics: %d %s", rr.Code, rr.Body.String())
	}
}
