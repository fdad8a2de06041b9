package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"writerctl/internal/controller"
	"writerctl/internal/monitor"
	"writerctl/internal/structure"
)

// client is a thin caller of the service API.
type client struct {
	base   string
	apiKey string
	http   *http.Client
}

func newClient() *client {
	return &client{
		base:   strings.TrimRight(flagServer, "/"),
		apiKey: flagAPIKey,
		// Covers the service's own acknowledgement wait
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStartCmd() *cobra.Command {
	var (
		req  controller.StartRequest
		meta map[string]string
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start writing a new file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(meta) > 0 {
				req.Metadata = make(structure.Metadata, len(meta))
				for k, v := range meta {
					req.Metadata[k] = v
				}
			}
			var res controller.StartResult
			if err := newClient().do(cmd.Context(), http.MethodPost, "/v1/jobs", req, &res); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVar(&req.Counter, "counter", 0, "dataset counter")
	cmd.Flags().StringVar(&req.Filename, "filename", "", "output filename (default: from the filename template)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "metadata for the structure template (key=value)")
	cmd.Flags().BoolVar(&req.AllowConcurrent, "allow-concurrent", false, "start even if another job is active")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop [job-id]",
		Short: "Stop a job, or the only active job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/jobs"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			var res controller.StopResult
			if err := newClient().do(cmd.Context(), http.MethodDelete, path, nil, &res); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs [job-id]",
		Short: "List tracked jobs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/jobs"
			if len(args) == 1 {
				path += "/" + url.PathEscape(args[0])
			}
			var res json.RawMessage
			if err := newClient().do(cmd.Context(), http.MethodGet, path, nil, &res); err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the aggregate writer status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st monitor.Status
			if err := newClient().do(cmd.Context(), http.MethodGet, "/v1/status", nil, &st); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), st.String())
			return err
		},
	}
}
