package client

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/operkit/operkit/internal/daemon"
	"github.com/operkit/operkit/internal/object"
	"github.com/operkit/operkit/internal/server"
)

func startAgent(t *testing.T) (*Client, *daemon.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := daemon.New(daemon.Config{})
	ts := httptest.NewServer(server.NewRouter(sup, "").Handler())
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL}), sup
}

func TestIsReachable(t *testing.T) {
	c, _ := startAgent(t)
	if !c.IsReachable(context.Background()) {
		t.Fatal("expected agent to be reachable")
	}
}

func TestNotReachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	if c.IsReachable(context.Background()) {
		t.Fatal("expected unreachable agent")
	}
}

func TestStatusAndMemories(t *testing.T) {
	c, sup := startAgent(t)

	body := object.Body{"metadata": map[string]any{"uid": "uid-1", "name": "obj"}}
	mem := sup.Memories().Recall(body, false)
	started := make(chan struct{})
	err := sup.EnsureDaemons(mem, body, []daemon.Spec{{
		ID: "poller",
		Fn: func(ctx context.Context, r *daemon.Request) error {
			close(started)
			<-r.Stop.Done()
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("EnsureDaemons: %v", err)
	}
	<-started

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.RunID != sup.RunID() || st.TrackedObjects != 1 || st.ActiveDaemons != 1 {
		t.Fatalf("unexpected status: %+v", st)
	}

	mems, err := c.Memories(context.Background())
	if err != nil {
		t.Fatalf("Memories: %v", err)
	}
	if len(mems) != 1 || mems[0].Key != "uid-1" {
		t.Fatalf("unexpected memories: %+v", mems)
	}
	if len(mems[0].Daemons) != 1 || mems[0].Daemons[0].ID != "poller" || !mems[0].Daemons[0].Running {
		t.Fatalf("unexpected daemon state: %+v", mems[0].Daemons)
	}
}
