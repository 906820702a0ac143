package controllers

import (
	"time"

	"github.com/rzbill/flojobs/internal/connection"
	"github.com/rzbill/flojobs/internal/job"
	"github.com/rzbill/flojobs/internal/registry"
)

type serversResponse struct {
	Servers []registry.ServerInfo `json:"servers"`
}

type queuesResponse struct {
	Queues []connection.QueueStat `json:"queues"`
}

type queueJobsResponse struct {
	Queue string                  `json:"queue"`
	Jobs  []connection.JobSummary `json:"jobs"`
}

type stateResponse struct {
	Name   string            `json:"name"`
	Reason string            `json:"reason,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

// JobResponse is the body of GET /v1/jobs/{id}.
type JobResponse struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"`
	Method         string            `json:"method"`
	ParameterTypes string            `json:"parameterTypes,omitempty"`
	Arguments      string            `json:"arguments,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	FetchedAt      *time.Time        `json:"fetchedAt,omitempty"`
	State          *stateResponse    `json:"state,omitempty"`
	History        []job.StateData   `json:"history,omitempty"`
	LoadError      string            `json:"loadError,omitempty"`
}

func newJobResponse(d *job.Data, st *job.StateData, history []job.StateData) JobResponse {
	resp := JobResponse{
		ID:             d.ID,
		Type:           d.Invocation.Type,
		Method:         d.Invocation.Method,
		ParameterTypes: d.Invocation.ParameterTypes,
		Arguments:      d.Invocation.Arguments,
		Parameters:     d.Parameters,
		CreatedAt:      d.CreatedAt,
		History:        history,
	}
	if !d.Fetched.IsZero() {
		f := d.Fetched
		resp.FetchedAt = &f
	}
	if st != nil {
		resp.State = &stateResponse{Name: st.Name, Reason: st.Reason, Data: st.Data}
	}
	if d.LoadError != nil {
		resp.LoadError = d.LoadError.Err.Error()
	}
	return resp
}
