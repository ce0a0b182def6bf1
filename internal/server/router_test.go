package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/operkit/operkit/internal/daemon"
	"github.com/operkit/operkit/internal/object"
)

func testBody(uid string) object.Body {
	return object.Body{
		"metadata": map[string]any{"uid": uid, "name": "obj-" + uid},
	}
}

func setupRouter(t *testing.T, base string) (http.Handler, *daemon.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := daemon.New(daemon.Config{})
	r := NewRouter(sup, base)
	return r.Handler(), sup
}

func doReq(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h, _ := setupRouter(t, "/ops")
	rec := doReq(t, h, "/ops/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusEmpty(t *testing.T) {
	h, sup := setupRouter(t, "")
	rec := doReq(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var st statusResp
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if st.RunID != sup.RunID() {
		t.Fatalf("run id mismatch: %q vs %q", st.RunID, sup.RunID())
	}
	if st.TrackedObjects != 0 || st.ActiveDaemons != 0 {
		t.Fatalf("expected empty counts, got %+v", st)
	}
}

func TestStatusAndMemoriesWithDaemon(t *testing.T) {
	h, sup := setupRouter(t, "")

	body := testBody("uid-1")
	mem := sup.Memories().Recall(body, false)
	started := make(chan struct{})
	err := sup.EnsureDaemons(mem, body, []daemon.Spec{{
		ID: "poller",
		Fn: func(ctx context.Context, req *daemon.Request) error {
			close(started)
			<-req.Stop.Done()
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("EnsureDaemons: %v", err)
	}
	<-started

	rec := doReq(t, h, "/status")
	var st statusResp
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if st.TrackedObjects != 1 || st.ActiveDaemons != 1 {
		t.Fatalf("unexpected counts: %+v", st)
	}

	rec = doReq(t, h, "/memories")
	var mems []memoryResp
	if err := json.Unmarshal(rec.Body.Bytes(), &mems); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if len(mems) != 1 || mems[0].Key != "uid-1" {
		t.Fatalf("unexpected memories: %+v", mems)
	}
	if len(mems[0].Daemons) != 1 || mems[0].Daemons[0].ID != "poller" || !mems[0].Daemons[0].Running {
		t.Fatalf("unexpected daemons: %+v", mems[0].Daemons)
	}
}

func TestMetricsExposed(t *testing.T) {
	h, _ := setupRouter(t, "")
	rec := doReq(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
