// Package metrics queries a Prometheus server for aggregated optimizer metrics.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Summary is the aggregate view of every optimizer session Prometheus has scraped.
type Summary struct {
	Sessions         map[string]int64   `json:"sessions_by_status"`
	AvgFinalScore    float64            `json:"avg_final_score"`
	AvgIterations    float64            `json:"avg_iterations"`
	StepErrors       map[string]int64   `json:"step_errors_by_agent"`
	CacheHits        map[string]int64   `json:"cache_hits_by_agent"`
	PromptTokens     int64              `json:"prompt_tokens"`
	CompletionTokens int64              `json:"completion_tokens"`
	TotalTokens      int64              `json:"total_tokens"`
	CostByModel      map[string]float64 `json:"cost_by_model_usd"`
	TotalCost        float64            `json:"total_cost_usd"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client    api.Client
	queryAPI  v1.API
	namespace string
	now       func() time.Time
}

// NewQueryService creates a new metrics query service. namespace is the prefix the run
// registered its collectors under.
func NewQueryService(prometheusURL, namespace string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:    client,
		queryAPI:  v1.NewAPI(client),
		namespace: namespace,
		now:       time.Now,
	}, nil
}

func (q *QueryService) metric(name string) string {
	if q.namespace == "" {
		return name
	}
	return q.namespace + "_" + name
}

// GetSummary aggregates session outcomes, per-agent failures, cache hits and generation usage.
func (q *QueryService) GetSummary(ctx context.Context) (*Summary, error) {
	s := &Summary{}
	var err error

	if s.Sessions, err = q.byLabel(ctx, fmt.Sprintf(`sum by (status) (%s)`, q.metric("sessions_total")), "status"); err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	if s.StepErrors, err = q.byLabel(ctx, fmt.Sprintf(`sum by (agent) (%s)`, q.metric("agent_step_errors_total")), "agent"); err != nil {
		return nil, fmt.Errorf("failed to query step errors: %w", err)
	}
	if s.CacheHits, err = q.byLabel(ctx, fmt.Sprintf(`sum by (agent) (%s)`, q.metric("pattern_cache_hits_total")), "agent"); err != nil {
		return nil, fmt.Errorf("failed to query cache hits: %w", err)
	}

	if s.AvgFinalScore, err = q.ratio(ctx, "session_final_score"); err != nil {
		return nil, fmt.Errorf("failed to query final score: %w", err)
	}
	if s.AvgIterations, err = q.ratio(ctx, "session_iterations"); err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{type="prompt"})`, q.metric("llm_tokens_total")))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(%s{type="completion"})`, q.metric("llm_tokens_total")))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	s.PromptTokens = int64(prompt)
	s.CompletionTokens = int64(completion)
	s.TotalTokens = s.PromptTokens + s.CompletionTokens

	costs, err := q.query(ctx, fmt.Sprintf(`sum by (model) (%s)`, q.metric("llm_costs_total")))
	if err != nil {
		return nil, fmt.Errorf("failed to query cost: %w", err)
	}
	s.CostByModel = make(map[string]float64, len(costs))
	for _, sample := range costs {
		name := string(sample.Metric["model"])
		s.CostByModel[name] = float64(sample.Value)
		s.TotalCost += float64(sample.Value)
	}

	return s, nil
}

// Models lists the models that served generation requests, sorted.
func (q *QueryService) Models(ctx context.Context) ([]string, error) {
	vector, err := q.query(ctx, fmt.Sprintf(`group by (model) (%s)`, q.metric("llm_requests_total")))
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	models := make([]string, 0, len(vector))
	for _, sample := range vector {
		if name, ok := sample.Metric["model"]; ok {
			models = append(models, string(name))
		}
	}
	sort.Strings(models)
	return models, nil
}

// ratio returns sum/count for a histogram, 0 when nothing was observed.
func (q *QueryService) ratio(ctx context.Context, histogram string) (float64, error) {
	sum, err := q.scalar(ctx, fmt.Sprintf(`sum(%s_sum)`, q.metric(histogram)))
	if err != nil {
		return 0, err
	}
	count, err := q.scalar(ctx, fmt.Sprintf(`sum(%s_count)`, q.metric(histogram)))
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return sum / count, nil
}

func (q *QueryService) scalar(ctx context.Context, promql string) (float64, error) {
	vector, err := q.query(ctx, promql)
	if err != nil {
		return 0, err
	}
	if len(vector) == 0 {
		return 0, nil
	}
	return float64(vector[0].Value), nil
}

func (q *QueryService) byLabel(ctx context.Context, promql string, label model.LabelName) (map[string]int64, error) {
	vector, err := q.query(ctx, promql)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(vector))
	for _, sample := range vector {
		out[string(sample.Metric[label])] = int64(sample.Value)
	}
	return out, nil
}

func (q *QueryService) query(ctx context.Context, promql string) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, promql, q.now())
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add the query context
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, nil
	}
	return vector, nil
}
