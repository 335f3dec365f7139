// Package export renders raw metrics records as downloadable JSON or CSV.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kalambet/pdfqa/internal/metrics"
)

// Validation errors returned by ParseDataType and ParseFormat.
var (
	ErrInvalidDataType = errors.New("data_type must be one of: queries, errors, documents")
	ErrInvalidFormat   = errors.New("export_format must be one of: json, csv")
)

// DataType selects which records are exported.
type DataType string

const (
	Queries   DataType = "queries"
	Errors    DataType = "errors"
	Documents DataType = "documents"
)

// Format is the rendering of an export.
type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
)

// ParseDataType validates s as a DataType.
func ParseDataType(s string) (DataType, error) {
	switch dt := DataType(s); dt {
	case Queries, Errors, Documents:
		return dt, nil
	}
	return "", ErrInvalidDataType
}

// ParseFormat validates s as a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case JSON, CSV:
		return f, nil
	}
	return "", ErrInvalidFormat
}

// Fieldnames is the fixed CSV column order for each data type.
var Fieldnames = map[DataType][]string{
	Queries:   {"id", "user_id", "question", "top_k", "response_time_ms", "success", "error_message", "sources_count", "created_at"},
	Errors:    {"id", "user_id", "endpoint", "error_type", "error_message", "status_code", "created_at"},
	Documents: {"id", "query_id", "user_id", "question", "source_path", "page", "created_at", "query_created_at"},
}

// Source supplies raw records. *metrics.Store implements it.
type Source interface {
	Queries(ctx context.Context, f metrics.Filter) ([]metrics.QueryRecord, error)
	Errors(ctx context.Context, days int) ([]metrics.ErrorRecord, error)
	DocumentUsage(ctx context.Context, days int) ([]metrics.DocumentUsageRow, error)
}

// Request selects what to export. UserID narrows queries only; Days == 0
// exports all time.
type Request struct {
	DataType DataType
	Format   Format
	UserID   string
	Days     int
}

// Filename returns "{data_type}_metrics_{days}d.{format}", or
// "{data_type}_metrics_all.{format}" for an all-time export.
func (r Request) Filename() string {
	if r.Days <= 0 {
		return fmt.Sprintf("%s_metrics_all.%s", r.DataType, r.Format)
	}
	return fmt.Sprintf("%s_metrics_%dd.%s", r.DataType, r.Days, r.Format)
}

// Payload is a rendered export.
type Payload struct {
	Filename    string
	ContentType string
	Body        []byte
}

// Export loads the requested records from src and renders them.
func Export(ctx context.Context, src Source, req Request) (*Payload, error) {
	if _, err := ParseDataType(string(req.DataType)); err != nil {
		return nil, err
	}
	if _, err := ParseFormat(string(req.Format)); err != nil {
		return nil, err
	}

	records, rows, err := load(ctx, src, req)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.DataType, err)
	}

	p := &Payload{Filename: req.Filename()}
	switch req.Format {
	case CSV:
		p.ContentType = "text/csv"
		p.Body, err = renderCSV(Fieldnames[req.DataType], rows)
	default:
		p.ContentType = "application/json"
		p.Body, err = json.MarshalIndent(records, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", req.Format, err)
	}
	return p, nil
}

// load returns the records for JSON rendering and their flattened rows
// (in Fieldnames order) for CSV rendering.
func load(ctx context.Context, src Source, req Request) (any, [][]string, error) {
	switch req.DataType {
	case Queries:
		recs, err := src.Queries(ctx, metrics.Filter{UserID: req.UserID, Days: req.Days})
		if err != nil {
			return nil, nil, err
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				itoa64(r.ID), str(r.UserID), r.Question, strconv.Itoa(r.TopK),
				strconv.FormatFloat(r.ResponseTimeMs, 'f', -1, 64), strconv.FormatBool(r.Success),
				str(r.ErrorMessage), strconv.Itoa(r.SourcesCount), r.CreatedAt,
			})
		}
		return recs, rows, nil

	case Errors:
		recs, err := src.Errors(ctx, req.Days)
		if err != nil {
			return nil, nil, err
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				itoa64(r.ID), str(r.UserID), r.Endpoint, r.ErrorType, r.ErrorMessage, num(r.StatusCode), r.CreatedAt,
			})
		}
		return recs, rows, nil

	default:
		recs, err := src.DocumentUsage(ctx, req.Days)
		if err != nil {
			return nil, nil, err
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				itoa64(r.ID), itoa64(r.QueryID), str(r.UserID), str(r.Question),
				r.SourcePath, num(r.Page), r.CreatedAt, str(r.QueryCreatedAt),
			})
		}
		return recs, rows, nil
	}
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func num(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
