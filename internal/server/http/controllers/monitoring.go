package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/flojobs/internal/connection"
	"github.com/rzbill/flojobs/internal/runtime"
	"github.com/rzbill/flojobs/pkg/log"
)

// MonitoringController exposes read-only views of servers, queues and
// jobs.
type MonitoringController struct {
	conn   *connection.Connection
	logger log.Logger
}

func NewMonitoringController(rt *runtime.Runtime, logger log.Logger) *MonitoringController {
	return &MonitoringController{conn: rt.Connection(), logger: logger}
}

func (c *MonitoringController) RegisterRoutes(r chi.Router) {
	r.Get("/v1/servers", c.handleListServers)
	r.Get("/v1/servers/{id}", c.handleGetServer)
	r.Get("/v1/queues", c.handleListQueues)
	r.Get("/v1/queues/{name}/jobs", c.handleListQueueJobs)
	r.Get("/v1/jobs/{id}", c.handleGetJob)
}

func (c *MonitoringController) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := c.conn.Registry().List(r.Context())
	if err != nil {
		c.logger.Error("list servers failed", log.Err(err))
		writeStoreError(w, err)
		return
	}
	writeJSON(w, serversResponse{Servers: servers})
}

func (c *MonitoringController) handleGetServer(w http.ResponseWriter, r *http.Request) {
	info, err := c.conn.Registry().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "server not found")
		return
	}
	writeJSON(w, info)
}

func (c *MonitoringController) handleListQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := c.conn.QueueStats(r.Context())
	if err != nil {
		c.logger.Error("queue stats failed", log.Err(err))
		writeStoreError(w, err)
		return
	}
	writeJSON(w, queuesResponse{Queues: stats})
}

// handleListQueueJobs accepts ?filter=<cel expression>&limit=<n>.
func (c *MonitoringController) handleListQueueJobs(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "name")
	filter, err := connection.NewJobFilter(r.URL.Query().Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobs, err := c.conn.ListQueueJobs(r.Context(), queue, filter, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, queueJobsResponse{Queue: queue, Jobs: jobs})
}

func (c *MonitoringController) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()
	d, err := c.conn.GetJobData(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	st, err := c.conn.GetStateData(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	history, err := c.conn.GetStateHistory(ctx, id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, newJobResponse(d, st, history))
}
