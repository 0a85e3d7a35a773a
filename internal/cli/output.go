package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/tillpoint/posadmin/internal/api"
	"gopkg.in/yaml.v3"
)

type responseView struct {
	Status    int       `json:"status" yaml:"status"`
	Message   string    `json:"message" yaml:"message"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Data      any       `json:"data" yaml:"data"`
}

func (r *runner) writeResponse(resp *api.Response, raw bool) error {
	var data any
	if err := resp.Decode(&data); err != nil {
		return err
	}

	if raw {
		return r.write(r.stdout, data)
	}

	return r.write(r.stdout, responseView{
		Status:    resp.Status,
		Message:   resp.Message,
		Timestamp: resp.Timestamp,
		Data:      data,
	})
}

// write renders v in the selected output format.
func (r *runner) write(w io.Writer, v any) error {
	switch r.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to render output: %w", err)
		}
		return enc.Close()
	}
}
