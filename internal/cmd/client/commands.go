package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// NewServersCommand lists registered servers or shows one of them.
func NewServersCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "servers [id]",
		Short: "List registered servers, or show one server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := trimBase(baseURL) + "/v1/servers"
			if len(args) == 1 {
				u += "/" + url.PathEscape(args[0])
			}
			var data any
			if err := getJSON(cmd.Context(), u, &data); err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
}

// NewQueuesCommand lists queues with their depths; "queues jobs <name>"
// lists the jobs of one queue.
func NewQueuesCommand(baseURL BaseURLFunc) *cobra.Command {
	queuesCmd := &cobra.Command{
		Use:   "queues",
		Short: "List queues with enqueued and fetched counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var data any
			if err := getJSON(cmd.Context(), trimBase(baseURL)+"/v1/queues", &data); err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}

	jobsCmd := &cobra.Command{
		Use:   "jobs <queue>",
		Short: "List jobs in a queue, fetched ones first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			q := url.Values{}
			if filter != "" {
				q.Set("filter", filter)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			u := fmt.Sprintf("%s/v1/queues/%s/jobs", trimBase(baseURL), url.PathEscape(args[0]))
			if len(q) > 0 {
				u += "?" + q.Encode()
			}
			var data any
			if err := getJSON(cmd.Context(), u, &data); err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
	jobsCmd.Flags().String("filter", "", `CEL expression over id, state, queue, job_type, method, created_ms, fetched_ms, in_flight, params, now_ms (e.g. 'in_flight && now_ms - fetched_ms > 60000')`)
	jobsCmd.Flags().Int("limit", 0, "Maximum number of jobs to return (server default when 0)")
	queuesCmd.AddCommand(jobsCmd)
	return queuesCmd
}

// NewJobCommand shows one job with its state and state history.
func NewJobCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a job, its current state and state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data any
			if err := getJSON(cmd.Context(), trimBase(baseURL)+"/v1/jobs/"+url.PathEscape(args[0]), &data); err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
}

// NewHealthCommand queries the standard gRPC health service.
func NewHealthCommand() *cobra.Command {
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health over gRPC",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, _ := cmd.Flags().GetString("service")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			conn, err := dialGRPC()
			if err != nil {
				return err
			}
			defer func() { _ = conn.Close() }()
			res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(res)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("server is %s", res.GetStatus())
			}
			return nil
		},
	}
	healthCmd.Flags().String("service", "", "Health service name (empty for overall status)")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	return healthCmd
}
