package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/vladfaust/simularity-sub001/internal/config"
	"github.com/vladfaust/simularity-sub001/internal/gpt"
	"github.com/vladfaust/simularity-sub001/internal/nodeapi"
	"github.com/vladfaust/simularity-sub001/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const nodeSecret = "node-secret"

func newTestRouter(t *testing.T, jwtSecret string) (*gin.Engine, registry.Registry) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gpt.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	reg := registry.NewMemoryRegistry(time.Minute, nil)

	svc := gpt.NewService(gpt.NewRepo(db), reg, nodeapi.NewClient(nodeSecret), gpt.Options{
		Attempts: 1,
	})

	cfg := config.Config{
		InferenceNodeSecret: nodeSecret,
		JWTSecret:           jwtSecret,
	}
	return NewRouter(cfg, svc, reg), reg
}

// fakeNode serves the inference-node protocol well enough for the
// session lifecycle to run end to end.
func fakeNode(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/gpts":
			fmt.Fprintln(w, `{"type":"SessionLoad","progress":0.5}`)
			fmt.Fprintln(w, `{"type":"Epilogue","contextLength":128}`)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/decode"):
			fmt.Fprintln(w, `{"type":"Epilogue","duration":100,"contextLength":64}`)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/infer"):
			fmt.Fprintln(w, `{"type":"Inference","content":"ok"}`)
			fmt.Fprintln(w, `{"type":"Epilogue","duration":50,"tokenLength":1,"contextLength":65}`)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func nodeAuth() http.Header {
	return http.Header{"Authorization": {"Token " + nodeSecret}}
}

func TestPing(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodGet, "/ping", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRegisterNode(t *testing.T) {
	router, _ := newTestRouter(t, "")

	body := `{"id":"node-http-1","baseUrl":"http://10.0.0.5:8000","gptModel":"writer-7b"}`

	// no shared secret
	rec := doJSON(t, router, http.MethodPost, "/inference-nodes", body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}

	// wrong scheme
	rec = doJSON(t, router, http.MethodPost, "/inference-nodes", body,
		http.Header{"Authorization": {"Bearer " + nodeSecret}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bearer scheme, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/inference-nodes", body, nodeAuth())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	// duplicate while alive
	rec = doJSON(t, router, http.MethodPost, "/inference-nodes", body, nodeAuth())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on duplicate, got %d", rec.Code)
	}

	// malformed node
	rec = doJSON(t, router, http.MethodPost, "/inference-nodes",
		`{"id":"bad id!","baseUrl":"http://x","gptModel":"m"}`, nodeAuth())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on invalid id, got %d", rec.Code)
	}
}

func TestNodeHeartbeat(t *testing.T) {
	router, reg := newTestRouter(t, "")

	if err := reg.Register(context.Background(), registry.Node{ID: "hb-1", BaseURL: "http://x:1", GptModel: "m"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := doJSON(t, router, http.MethodHead, "/inference-nodes/hb-1/heartbeat", "", nodeAuth())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodHead, "/inference-nodes/unknown/heartbeat", "", nodeAuth())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown node, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodHead, "/inference-nodes/hb-1/heartbeat", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without secret, got %d", rec.Code)
	}
}

func TestCreateSession_NoNode(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/gpts", `{"model":"missing"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, "")

	node := fakeNode(t)
	defer node.Close()

	rec := doJSON(t, router, http.MethodPost, "/inference-nodes",
		fmt.Sprintf(`{"id":"life-1","baseUrl":"%s","gptModel":"writer-7b"}`, node.URL), nodeAuth())
	if rec.Code != http.StatusCreated {
		t.Fatalf("register node: %d", rec.Code)
	}

	// create, parsing the NDJSON stream
	rec = doJSON(t, router, http.MethodPost, "/gpts", `{"model":"writer-7b"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("expected ndjson content type, got %q", ct)
	}

	var sessionID string
	sc := bufio.NewScanner(rec.Body)
	var types []string
	for sc.Scan() {
		var line struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("malformed stream line %q: %v", sc.Text(), err)
		}
		types = append(types, line.Type)
		if line.Type == "epilogue" {
			sessionID = line.SessionID
		}
	}
	if len(types) != 2 || types[0] != "sessionLoadProgress" || types[1] != "epilogue" {
		t.Fatalf("unexpected stream: %v", types)
	}
	if sessionID == "" {
		t.Fatalf("epilogue carried no session id")
	}

	// liveness
	rec = doJSON(t, router, http.MethodHead, "/gpts/"+sessionID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", rec.Code)
	}

	// decode
	rec = doJSON(t, router, http.MethodPost, "/gpts/"+sessionID+"/decode", `{"prompt":"hello"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("decode: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	var decodeResp struct {
		DecodingID  string `json:"decodingId"`
		KvCacheSize int    `json:"kvCacheSize"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &decodeResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decodeResp.DecodingID == "" || decodeResp.KvCacheSize != 64 {
		t.Fatalf("unexpected decode response: %+v", decodeResp)
	}

	// infer streams content
	rec = doJSON(t, router, http.MethodPost, "/gpts/"+sessionID+"/infer", `{"nEval":8}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("infer: expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"content":"ok"`) {
		t.Fatalf("expected inference content in stream, got %s", rec.Body.String())
	}

	// delete, then everything else 404s
	rec = doJSON(t, router, http.MethodDelete, "/gpts/"+sessionID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/gpts/"+sessionID+"/decode", `{"prompt":"x"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("decode after delete: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodHead, "/gpts/"+sessionID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("check after delete: expected 404, got %d", rec.Code)
	}
}

func TestSessionEndpoints_InvalidID(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := doJSON(t, router, http.MethodPost, "/gpts/not-a-uuid/decode", `{"prompt":"x"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid id, got %d", rec.Code)
	}
}

func TestClientAuth(t *testing.T) {
	const secret = "jwt-secret"
	router, _ := newTestRouter(t, secret)

	// unauthenticated
	rec := doJSON(t, router, http.MethodPost, "/gpts", `{"model":"m"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// bad signature
	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).
		SignedString([]byte("wrong"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = doJSON(t, router, http.MethodPost, "/gpts", `{"model":"m"}`,
		http.Header{"Authorization": {"Bearer " + badToken}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad signature, got %d", rec.Code)
	}

	// valid token reaches the handler (503: no node for the model)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u1"}).
		SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = doJSON(t, router, http.MethodPost, "/gpts", `{"model":"m"}`,
		http.Header{"Authorization": {"Bearer " + token}})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 past auth, got %d", rec.Code)
	}
}
