package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/operkit/operkit/internal/daemon"
	"github.com/operkit/operkit/internal/metrics"
)

// Router provides embeddable HTTP handlers for inspecting a running supervisor.
// Endpoints:
//   GET {basePath}/healthz    liveness probe
//   GET {basePath}/status     run id plus aggregate counts
//   GET {basePath}/memories   per-object daemon states
//   GET {basePath}/metrics    prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *daemon.Supervisor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/ops" results in /ops/status, /ops/memories.
func NewRouter(sup *daemon.Supervisor, basePath string) *Router {
	bp := sanitizeBase(basePath)
	return &Router{sup: sup, basePath: bp}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.GET("/memories", r.handleMemories)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr, basePath string, sup *daemon.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type statusResp struct {
	RunID          string `json:"run_id"`
	TrackedObjects int    `json:"tracked_objects"`
	ActiveDaemons  int    `json:"active_daemons"`
}

type daemonResp struct {
	ID        string `json:"id"`
	Running   bool   `json:"running"`
	Stopping  string `json:"stopping,omitempty"`
	Cancelled bool   `json:"cancelled"`
}

type memoryResp struct {
	Key            string       `json:"key"`
	NoticedByList  bool         `json:"noticed_by_listing"`
	ForeverStopped []string     `json:"forever_stopped,omitempty"`
	Daemons        []daemonResp `json:"daemons"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleStatus(c *gin.Context) {
	snap := r.sup.Memories().Snapshot()
	active := 0
	for _, mem := range snap {
		for _, d := range mem.DaemonSnapshot() {
			if !d.Task.IsDone() {
				active++
			}
		}
	}
	c.JSON(http.StatusOK, statusResp{
		RunID:          r.sup.RunID(),
		TrackedObjects: len(snap),
		ActiveDaemons:  active,
	})
}

func (r *Router) handleMemories(c *gin.Context) {
	snap := r.sup.Memories().Snapshot()
	out := make([]memoryResp, 0, len(snap))
	for key, mem := range snap {
		mr := memoryResp{Key: key, NoticedByList: mem.NoticedByListing}
		mr.ForeverStopped = mem.ForeverStoppedIDs()
		for id, d := range mem.DaemonSnapshot() {
			dr := daemonResp{ID: id, Running: !d.Task.IsDone()}
			if reason, ok := d.Stop.Reason(); ok {
				dr.Stopping = string(reason)
			}
			_, dr.Cancelled = d.Stop.Cancelled()
			mr.Daemons = append(mr.Daemons, dr)
		}
		sort.Slice(mr.Daemons, func(i, j int) bool { return mr.Daemons[i].ID < mr.Daemons[j].ID })
		out = append(out, mr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	c.JSON(http.StatusOK, out)
}
