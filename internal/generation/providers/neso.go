package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/generation-mix/internal/generation"
	"github.com/i474232898/generation-mix/internal/metrics"
)

const (
	// DefaultNESOBaseURL is the CKAN SQL search endpoint of the NESO data portal.
	DefaultNESOBaseURL = "https://api.neso.energy/api/3/action/datastore_search_sql"
	// DefaultNESOResourceID identifies the historic generation mix dataset.
	DefaultNESOResourceID = "f93d1835-75bc-43e5-84ad-12472b180a98"

	// DefaultBatchSize is the page size; the datastore caps responses at roughly 30k rows.
	DefaultBatchSize = 30_000
)

const providerName = "neso"

// NESOConfig configures the NESO fetcher.
type NESOConfig struct {
	BaseURL    string
	ResourceID string
	Backoff    BackoffConfig
}

// DefaultNESOConfig returns the production endpoint with five tries per page.
func DefaultNESOConfig() NESOConfig {
	return NESOConfig{
		BaseURL:    DefaultNESOBaseURL,
		ResourceID: DefaultNESOResourceID,
		Backoff: BackoffConfig{
			MaxRetries:      4,
			InitialInterval: 1 * time.Second,
			MaxInterval:     30 * time.Second,
		},
	}
}

// NESOProvider implements generation.Fetcher against the NESO datastore.
type NESOProvider struct {
	baseURL    string
	resourceID string
	httpCfg    HTTPClientConfig
	circuit    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewNESOProvider(client *http.Client, cfg NESOConfig, logger *zap.Logger) *NESOProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultNESOBaseURL
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = DefaultNESOResourceID
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &NESOProvider{
		baseURL:    cfg.BaseURL,
		resourceID: cfg.ResourceID,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: cfg.Backoff,
		},
		circuit: cb,
		logger:  logger.Named("fetch").With(zap.String("provider", providerName)),
	}
}

// Fetch pages through records with _id greater than lastID in ascending _id order.
// It stops on an empty page, a short page, or once maxRecords (if > 0) is reached,
// and returns either every record fetched or an error wrapping ErrFetch.
func (p *NESOProvider) Fetch(ctx context.Context, lastID int64, batchSize, maxRecords int) ([]generation.RawRecord, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	p.logger.Info("starting fetch", zap.Int64("after_id", lastID), zap.Int("batch_size", batchSize))

	var all []generation.RawRecord
	cursor := lastID

	for {
		records, err := p.fetchPage(ctx, cursor, batchSize)
		if err != nil {
			return nil, fmt.Errorf("%w: page after _id %d: %w", ErrFetch, cursor, err)
		}

		if len(records) == 0 {
			p.logger.Info("no more records to fetch")
			break
		}

		next := cursor
		for _, r := range records {
			if id, ok := recordID(r); ok && id > next {
				next = id
			}
		}
		if next == cursor {
			return nil, fmt.Errorf("%w: page after _id %d did not advance the cursor", ErrFetch, cursor)
		}
		cursor = next

		all = append(all, records...)
		metrics.RecordsFetchedTotal.Add(float64(len(records)))

		p.logger.Info("fetched page",
			zap.Int("records", len(records)),
			zap.Int64("latest_id", cursor),
			zap.Int("total", len(all)),
		)

		if maxRecords > 0 && len(all) >= maxRecords {
			p.logger.Info("reached max records, stopping", zap.Int("max_records", maxRecords))
			break
		}

		// A short page means there is nothing more upstream.
		if len(records) < batchSize {
			break
		}
	}

	p.logger.Info("completed fetch", zap.Int("records", len(all)), zap.Int64("last_id", cursor))
	return all, nil
}

func (p *NESOProvider) fetchPage(ctx context.Context, afterID int64, limit int) ([]generation.RawRecord, error) {
	query := fmt.Sprintf(
		`SELECT * FROM "%s" WHERE "_id" > %d ORDER BY "_id" ASC LIMIT %d`,
		p.resourceID, afterID, limit,
	)

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("sql", query)

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	var records []generation.RawRecord
	decode := func(resp *http.Response) error {
		var payload struct {
			Success bool `json:"success"`
			Result  struct {
				Records []generation.RawRecord `json:"records"`
			} `json:"result"`
		}

		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if !payload.Success {
			return errUpstream
		}

		records = payload.Result.Records
		return nil
	}

	if err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.logger, buildRequest, decode); err != nil {
		return nil, err
	}
	return records, nil
}

func recordID(r generation.RawRecord) (int64, bool) {
	switch v := r[generation.IDColumn].(type) {
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	case float64:
		return int64(v), v == float64(int64(v))
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}
