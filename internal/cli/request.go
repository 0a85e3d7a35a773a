package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tillpoint/posadmin/internal/api"
)

type requestFlags struct {
	params   []string
	headers  []string
	data     string
	dataFile string
	cache    bool
	cacheTTL time.Duration
	schema   string
	retries  int
	timeout  time.Duration
	raw      bool
}

func (r *runner) verbCommand(method string) *cobra.Command {
	var f requestFlags

	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " PATH",
		Short: fmt.Sprintf("Send a %s request", method),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}

			body, err := f.body()
			if err != nil {
				return err
			}

			resp, err := r.app.Client.Do(cmd.Context(), api.Request{
				Method: method,
				URL:    args[0],
				Body:   body,
				Config: cfg,
			})
			if err != nil {
				return err
			}

			return r.writeResponse(resp, f.raw)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&f.params, "param", nil, "Query parameter as key=value (repeatable)")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, "Request header as key=value (repeatable)")
	flags.DurationVar(&f.timeout, "timeout", 0, "Override the request timeout")
	flags.IntVar(&f.retries, "retries", 0, "Retries when no response is received")
	flags.BoolVar(&f.raw, "raw", false, "Print only the response data")

	switch method {
	case "GET":
		flags.BoolVar(&f.cache, "cache", false, "Serve from and store in the response cache")
		flags.DurationVar(&f.cacheTTL, "cache-ttl", 0, "Cache entry lifetime")
	case "POST", "PUT", "PATCH":
		flags.StringVarP(&f.data, "data", "d", "", "JSON request body")
		flags.StringVar(&f.dataFile, "data-file", "", "Read the JSON request body from a file")
		flags.StringVar(&f.schema, "schema", "", "Validate the body against a registered schema first")
	}

	return cmd
}

func (f *requestFlags) config() (api.RequestConfig, error) {
	params, err := pairs(f.params)
	if err != nil {
		return api.RequestConfig{}, err
	}
	headers, err := pairs(f.headers)
	if err != nil {
		return api.RequestConfig{}, err
	}

	cfg := api.RequestConfig{
		Headers:  map[string]string{},
		Cache:    f.cache,
		CacheTTL: f.cacheTTL,
		Schema:   f.schema,
		Retries:  f.retries,
		Timeout:  f.timeout,
	}
	if len(params) > 0 {
		cfg.Params = make(map[string]any, len(params))
		for k, v := range params {
			cfg.Params[k] = v
		}
	}
	for k, v := range headers {
		cfg.Headers[k] = v
	}

	return cfg, nil
}

// body decodes the JSON body so that schema validation sees plain values.
func (f *requestFlags) body() (any, error) {
	raw := f.data
	if f.dataFile != "" {
		b, err := os.ReadFile(f.dataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		raw = string(b)
	}

	if raw == "" {
		return nil, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	return v, nil
}

func pairs(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, kv := range values {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", kv)
		}
		out[k] = v
	}
	return out, nil
}

func (r *runner) uploadCommand() *cobra.Command {
	var fields []string
	var progress, raw bool

	cmd := &cobra.Command{
		Use:   "upload PATH FILE...",
		Short: "Upload one or more files as a multipart form",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := pairs(fields)
			if err != nil {
				return err
			}
			extra := make(map[string]any, len(values))
			for k, v := range values {
				extra[k] = v
			}

			var files []api.File
			for _, path := range args[1:] {
				fh, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open upload: %w", err)
				}
				defer fh.Close()
				files = append(files, api.File{Name: filepath.Base(path), Content: fh})
			}

			var onProgress func(api.UploadProgress)
			if progress {
				onProgress = func(p api.UploadProgress) {
					fmt.Fprintf(r.stderr, "\r%3d%% (%d/%d bytes)", p.Percentage, p.Loaded, p.Total)
					if p.Percentage >= 100 {
						fmt.Fprintln(r.stderr)
					}
				}
			}

			var resp *api.Response
			if len(files) == 1 {
				resp, err = r.app.Client.UploadFile(cmd.Context(), args[0], files[0], extra, onProgress)
			} else {
				resp, err = r.app.Client.UploadMultipleFiles(cmd.Context(), args[0], files, extra, onProgress)
			}
			if err != nil {
				return err
			}

			return r.writeResponse(resp, raw)
		},
	}

	cmd.Flags().StringArrayVarP(&fields, "field", "F", nil, "Extra form field as key=value (repeatable)")
	cmd.Flags().BoolVar(&progress, "progress", false, "Report upload progress on stderr")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the response data")

	return cmd
}

func (r *runner) downloadCommand() *cobra.Command {
	var params []string
	var output string

	cmd := &cobra.Command{
		Use:   "download PATH",
		Short: "Stream a file or export to disk or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := pairs(params)
			if err != nil {
				return err
			}
			var query map[string]any
			if len(values) > 0 {
				query = make(map[string]any, len(values))
				for k, v := range values {
					query[k] = v
				}
			}

			if output == "" || output == "-" {
				_, err := r.app.Client.Download(cmd.Context(), args[0], query, r.stdout)
				return err
			}

			fh, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("failed to create download file: %w", err)
			}

			n, err := r.app.Client.Download(cmd.Context(), args[0], query, fh)
			if closeErr := fh.Close(); err == nil && closeErr != nil {
				err = fmt.Errorf("failed to write download file: %w", closeErr)
			}
			if err != nil {
				_ = os.Remove(output)
				return err
			}

			fmt.Fprintf(r.stderr, "Saved %d bytes to %s\n", n, output)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&params, "param", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&output, "output-file", "O", "", "Write to this file instead of stdout")

	return cmd
}

func (r *runner) validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate SCHEMA JSON",
		Short: "Check a JSON value against a registered schema without sending it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !r.app.Validator.HasSchema(args[0]) {
				return fmt.Errorf("unknown schema %q", args[0])
			}

			var data any
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				// bare words are taken as strings
				data = args[1]
			}

			parsed, err := r.app.Validator.Validate(args[0], data)
			if err != nil {
				return r.app.Errors.Normalize(err, "validate "+args[0])
			}

			return r.write(r.stdout, parsed)
		},
	}
}
