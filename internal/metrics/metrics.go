// Package metrics aggregates fleet-wide usage samples and exposes them as
// Prometheus series.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	v1 "github.com/jeffjacobsen/orchestrator/pkg/api/v1"
)

// maxSamples caps the in-memory sample ring. Older samples fall off the
// front once the cap is reached.
const maxSamples = 1000

var (
	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_tokens_total",
		Help: "Tokens consumed by agents, by token type.",
	}, []string{"type"})

	costTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_cost_usd_total",
		Help: "Cumulative agent spend in USD.",
	})

	toolCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_tool_calls_total",
		Help: "Tool invocations made by agents.",
	})

	agentsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_agents_created_total",
		Help: "Agents created since startup.",
	})

	activeAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_active_agents",
		Help: "Agents currently running or waiting.",
	})
)

// Sample is one recorded usage observation, typically an agent finishing a
// task.
type Sample struct {
	AgentID   string    `json:"agent_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Tokens    int64     `json:"tokens"`
	CostUSD   float64   `json:"cost_usd"`
	ToolCalls int       `json:"tool_calls"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the aggregate over all recorded samples.
type Summary struct {
	Samples       int     `json:"samples"`
	TotalTokens   int64   `json:"total_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	ToolCalls     int     `json:"tool_calls"`
	AgentsCreated int     `json:"agents_created"`
}

// Collector records usage samples and mirrors them into Prometheus.
type Collector struct {
	mu            sync.Mutex
	samples       []Sample
	totalTokens   int64
	totalCost     float64
	toolCalls     int
	agentsCreated int
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordAgentCreated bumps the creation counter.
func (c *Collector) RecordAgentCreated() {
	c.mu.Lock()
	c.agentsCreated++
	c.mu.Unlock()
	agentsCreatedTotal.Inc()
}

// RecordUsage folds one agent's metrics into the aggregate.
func (c *Collector) RecordUsage(agentID, taskID string, m v1.AgentMetrics) {
	sample := Sample{
		AgentID:   agentID,
		TaskID:    taskID,
		Tokens:    m.TotalTokens,
		CostUSD:   m.TotalCostUSD,
		ToolCalls: m.ToolCallCount,
		Timestamp: time.Now().UTC(),
	}

	c.mu.Lock()
	c.samples = append(c.samples, sample)
	if len(c.samples) > maxSamples {
		c.samples = c.samples[len(c.samples)-maxSamples:]
	}
	c.totalTokens += m.TotalTokens
	c.totalCost += m.TotalCostUSD
	c.toolCalls += m.ToolCallCount
	c.mu.Unlock()

	tokensTotal.WithLabelValues("input").Add(float64(m.InputTokens))
	tokensTotal.WithLabelValues("output").Add(float64(m.OutputTokens))
	tokensTotal.WithLabelValues("cache_creation").Add(float64(m.CacheCreationTokens))
	tokensTotal.WithLabelValues("cache_read").Add(float64(m.CacheReadTokens))
	costTotal.Add(m.TotalCostUSD)
	toolCallsTotal.Add(float64(m.ToolCallCount))
}

// SetActiveAgents updates the active-agent gauge.
func (c *Collector) SetActiveAgents(n int) {
	activeAgents.Set(float64(n))
}

// Summary returns the aggregate over everything recorded so far.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		Samples:       len(c.samples),
		TotalTokens:   c.totalTokens,
		TotalCostUSD:  c.totalCost,
		ToolCalls:     c.toolCalls,
		AgentsCreated: c.agentsCreated,
	}
}

// Recent returns up to n samples, newest last.
func (c *Collector) Recent(n int) []Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.samples) {
		n = len(c.samples)
	}
	out := make([]Sample, n)
	copy(out, c.samples[len(c.samples)-n:])
	return out
}
