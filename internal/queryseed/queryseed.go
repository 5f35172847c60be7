// Package queryseed loads saved broker queries from a YAML file and
// upserts them into the catalog.
//
// File format:
//
//	queries:
//	  - name: Fast risers
//	    broker: Lasair
//	    parameters:
//	      stream: lasair_2fast_risers
//	      query_name: Fast risers
//	      limit: 500
package queryseed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/sdtom/internal/catalog"
)

// QueryConfig is one entry of the seed file.
type QueryConfig struct {
	Name       string         `yaml:"name"`
	Broker     string         `yaml:"broker"`
	Parameters map[string]any `yaml:"parameters"`
}

// File is the top-level document.
type File struct {
	Queries []QueryConfig `yaml:"queries"`
}

// Writer is the part of catalog.Store used for seeding.
type Writer interface {
	SaveBrokerQuery(ctx context.Context, q *catalog.BrokerQuery) error
}

// Load reads and validates the seed file at path.
func Load(path string) ([]*catalog.BrokerQuery, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied config
	if err != nil {
		return nil, fmt.Errorf("read queries file: %w", err)
	}
	qs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return qs, nil
}

// Parse decodes a seed document. Unknown keys are rejected. A query without
// a query_name parameter is tagged with its own name.
func Parse(data []byte) ([]*catalog.BrokerQuery, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if len(f.Queries) == 0 {
		return nil, errors.New("no queries defined")
	}

	var (
		errs []error
		out  = make([]*catalog.BrokerQuery, 0, len(f.Queries))
		seen = make(map[string]bool, len(f.Queries))
	)
	for i, qc := range f.Queries {
		name := strings.TrimSpace(qc.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("queries[%d]: name is required", i))
			continue
		case strings.TrimSpace(qc.Broker) == "":
			errs = append(errs, fmt.Errorf("queries[%d] %q: broker is required", i, name))
			continue
		case seen[name]:
			errs = append(errs, fmt.Errorf("queries[%d]: duplicate name %q", i, name))
			continue
		}
		seen[name] = true

		params := make(map[string]any, len(qc.Parameters)+1)
		for k, v := range qc.Parameters {
			params[k] = v
		}
		if s, _ := params[catalog.ExtraQueryName].(string); strings.TrimSpace(s) == "" {
			params[catalog.ExtraQueryName] = name
		}

		out = append(out, &catalog.BrokerQuery{
			Name:       name,
			Broker:     strings.TrimSpace(qc.Broker),
			Parameters: params,
		})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Seed upserts each query by name. Stored queries keep their LastRun.
func Seed(ctx context.Context, w Writer, logger log.Logger, queries []*catalog.BrokerQuery) error {
	if logger == nil {
		logger = log.Nop()
	}
	for _, q := range queries {
		if err := w.SaveBrokerQuery(ctx, q); err != nil {
			return fmt.Errorf("save query %q: %w", q.Name, err)
		}
		logger.Info(ctx, "seeded broker query", "query", q.Name, "broker", q.Broker, "query_id", q.ID)
	}
	return nil
}
