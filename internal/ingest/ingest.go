package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/miradorstack/mirador-triage/internal/embedding"
	"github.com/miradorstack/mirador-triage/internal/metrics"
	"github.com/miradorstack/mirador-triage/internal/models"
	"github.com/miradorstack/mirador-triage/internal/store"
)

// Catalog is the ledger used to skip incidents that were already ingested.
type Catalog interface {
	KnownIDs(ctx context.Context) (map[string]struct{}, error)
	InsertBatch(ctx context.Context, records []models.IncidentRecord) (int, error)
}

// Options controls an ingestion run.
type Options struct {
	BatchSize int
	// JSONDir, when set, receives one JSON file per ingested record.
	JSONDir string
	// Progress is called after each batch with the number of processed and total new rows.
	Progress func(done, total int)
}

// Result summarises an ingestion run.
type Result struct {
	Rows        int `json:"rows"`
	Indexed     int `json:"indexed"`
	CatalogOnly int `json:"catalogOnly"`
	Duplicates  int `json:"duplicates"`
	Skipped     int `json:"skipped"`
	Failed      int `json:"failed"`
}

// Ingester embeds new incidents and writes them to the vector index and the catalog.
type Ingester struct {
	embedder embedding.Embedder
	index    store.Writer
	catalog  Catalog
	opts     Options
	logger   *slog.Logger
}

// NewIngester constructs an Ingester.
func NewIngester(embedder embedding.Embedder, index store.Writer, catalog Catalog, opts Options, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Ingester{embedder: embedder, index: index, catalog: catalog, opts: opts, logger: logger}
}

// IngestFile reads an .xlsx export and ingests every row not yet in the catalog.
func (i *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	wb, err := ReadWorkbook(path)
	if err != nil {
		return Result{}, err
	}
	i.logger.Info("workbook loaded",
		slog.String("path", path),
		slog.String("sheet", wb.Sheet),
		slog.Int("rows", len(wb.Records)),
		slog.Int("skipped", wb.Skipped))

	res, err := i.Ingest(ctx, wb.Records)
	res.Skipped += wb.Skipped
	metrics.ObserveIngested(metrics.IngestSkipped, wb.Skipped)
	return res, err
}

// Ingest processes records in batches. An index or catalog write failure aborts the run;
// an embedding failure only drops that record so a later run can retry it.
func (i *Ingester) Ingest(ctx context.Context, records []models.IncidentRecord) (Result, error) {
	res := Result{Rows: len(records)}

	known, err := i.catalog.KnownIDs(ctx)
	if err != nil {
		return res, fmt.Errorf("load catalog ids: %w", err)
	}

	pending := make([]models.IncidentRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := known[rec.ID]; ok {
			res.Duplicates++
			continue
		}
		known[rec.ID] = struct{}{}
		pending = append(pending, rec)
	}
	metrics.ObserveIngested(metrics.IngestDuplicate, res.Duplicates)

	if i.opts.JSONDir != "" {
		if err := os.MkdirAll(i.opts.JSONDir, 0o755); err != nil {
			return res, fmt.Errorf("create json export dir: %w", err)
		}
	}

	for start := 0; start < len(pending); start += i.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := start + i.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := i.ingestBatch(ctx, pending[start:end], &res); err != nil {
			return res, err
		}
		if i.opts.Progress != nil {
			i.opts.Progress(end, len(pending))
		}
	}

	i.logger.Info("ingestion finished",
		slog.Int("indexed", res.Indexed),
		slog.Int("catalog_only", res.CatalogOnly),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("failed", res.Failed))
	return res, nil
}

func (i *Ingester) ingestBatch(ctx context.Context, batch []models.IncidentRecord, res *Result) error {
	ready := make([]models.IncidentRecord, 0, len(batch))
	indexable := make([]models.IncidentRecord, 0, len(batch))
	failed := 0

	for _, rec := range batch {
		if strings.TrimSpace(rec.ShortDescription) == "" {
			ready = append(ready, rec)
			continue
		}
		vec, err := i.embedder.Embed(ctx, rec.ShortDescription)
		if err != nil {
			failed++
			i.logger.Warn("embedding failed, record left for a later run",
				slog.String("incident_id", rec.ID),
				slog.Any("error", err))
			continue
		}
		if dims := i.embedder.Dimensions(); len(vec) == 0 || (dims > 0 && len(vec) != dims) {
			failed++
			i.logger.Warn("embedding has wrong dimensions, record left for a later run",
				slog.String("incident_id", rec.ID),
				slog.Int("got", len(vec)),
				slog.Int("want", dims))
			continue
		}
		rec.Embedding = vec
		ready = append(ready, rec)
		indexable = append(indexable, rec)
	}

	if len(indexable) > 0 {
		if err := i.index.Upsert(ctx, indexable); err != nil {
			return fmt.Errorf("write %d records to index: %w", len(indexable), err)
		}
	}
	if _, err := i.catalog.InsertBatch(ctx, ready); err != nil {
		return fmt.Errorf("write %d records to catalog: %w", len(ready), err)
	}

	if i.opts.JSONDir != "" {
		for _, rec := range ready {
			if err := writeJSON(i.opts.JSONDir, rec); err != nil {
				i.logger.Warn("json export failed", slog.String("incident_id", rec.ID), slog.Any("error", err))
			}
		}
	}

	res.Indexed += len(indexable)
	res.CatalogOnly += len(ready) - len(indexable)
	res.Failed += failed
	metrics.ObserveIngested(metrics.IngestIndexed, len(indexable))
	metrics.ObserveIngested(metrics.IngestCatalog, len(ready)-len(indexable))
	metrics.ObserveIngested(metrics.IngestFailed, failed)
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func writeJSON(dir string, rec models.IncidentRecord) error {
	name := unsafeFileChars.ReplaceAllString(rec.ID, "_") + ".json"
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
