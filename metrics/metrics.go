// Package metrics collects operational counters, gauges and timings for the
// coordination engine and its transport: request throughput and latency,
// agent connection churn, task lifecycle outcomes and message volume. A
// Prometheus text exposition is available for scraping.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// maxSamples bounds the retained duration samples per series; once exceeded
// the newest half is kept.
const maxSamples = 1000

// Timing aggregates duration samples for one series.
type Timing struct {
	Count int           `json:"count"`
	Sum   time.Duration `json:"sum"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`

	samples []time.Duration
}

// RequestStats summarizes transport request handling.
type RequestStats struct {
	Total       int            `json:"total"`
	ByType      map[string]int `json:"by_type"`
	Errors      int            `json:"errors"`
	ErrorRate   float64        `json:"error_rate"`
	AvgDuration time.Duration  `json:"avg_duration"`
}

// AgentStats summarizes agent connection churn and per-agent message counts.
type AgentStats struct {
	Connections       int            `json:"connections"`
	Disconnections    int            `json:"disconnections"`
	ActiveConnections int            `json:"active_connections"`
	MessagesByAgent   map[string]int `json:"messages_by_agent"`
}

// TaskStats summarizes task lifecycle outcomes.
type TaskStats struct {
	Created     int           `json:"created"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// MessageStats summarizes bus traffic.
type MessageStats struct {
	Sent       int `json:"sent"`
	Broadcasts int `json:"broadcasts"`
}

// Summary is a point-in-time rollup of everything the collector tracks.
type Summary struct {
	Uptime   time.Duration      `json:"uptime"`
	Requests RequestStats       `json:"requests"`
	Agents   AgentStats         `json:"agents"`
	Tasks    TaskStats          `json:"tasks"`
	Messages MessageStats       `json:"messages"`
	Counters map[string]int     `json:"counters"`
	Gauges   map[string]float64 `json:"gauges"`
}

// Collector accumulates metrics. It is safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time

	counters map[string]int
	gauges   map[string]float64
	timings  map[string]*Timing

	requestCounts    map[string]int
	errorCounts      map[string]int
	requestDurations []time.Duration

	agentConnections    int
	agentDisconnections int
	messagesByAgent     map[string]int

	tasksCreated  int
	tasksFinished int
	tasksFailed   int
	taskDurations []time.Duration

	messagesSent      int
	messagesBroadcast int
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		startTime:       time.Now(),
		counters:        make(map[string]int),
		gauges:          make(map[string]float64),
		timings:         make(map[string]*Timing),
		requestCounts:   make(map[string]int),
		errorCounts:     make(map[string]int),
		messagesByAgent: make(map[string]int),
	}
}

// IncrementCounter adds one to a named counter.
func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	key := keyWithLabels(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
}

// SetGauge records the current value of a named gauge.
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	key := keyWithLabels(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] = value
}

// RecordTiming adds a duration sample to a named series, maintaining count,
// sum, min/max/avg and p50/p95/p99 over the retained window.
func (c *Collector) RecordTiming(name string, d time.Duration, labels map[string]string) {
	key := keyWithLabels(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.timings[key]
	if !ok {
		t = &Timing{Min: d, Max: d}
		c.timings[key] = t
	}
	t.samples = append(t.samples, d)
	t.Count++
	t.Sum += d
	if d < t.Min {
		t.Min = d
	}
	if d > t.Max {
		t.Max = d
	}
	t.Avg = t.Sum / time.Duration(t.Count)

	if len(t.samples) >= 10 {
		sorted := append([]time.Duration(nil), t.samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		t.P50 = percentile(sorted, 0.5)
		t.P95 = percentile(sorted, 0.95)
		t.P99 = percentile(sorted, 0.99)
		if len(t.samples) > maxSamples {
			t.samples = sorted[len(sorted)-maxSamples/2:]
		}
	}
}

// RecordRequest tracks one transport request of the given type.
func (c *Collector) RecordRequest(reqType string, d time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCounts[reqType]++
	c.requestDurations = appendBounded(c.requestDurations, d)
	if failed {
		c.errorCounts[reqType]++
	}
}

// RecordAgentConnect tracks one agent connection.
func (c *Collector) RecordAgentConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentConnections++
}

// RecordAgentDisconnect tracks one agent disconnection.
func (c *Collector) RecordAgentDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentDisconnections++
}

// RecordTaskCreated tracks one task creation.
func (c *Collector) RecordTaskCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksCreated++
}

// RecordTaskCompleted tracks one finished task with its total lifetime.
func (c *Collector) RecordTaskCompleted(d time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksFinished++
	c.taskDurations = appendBounded(c.taskDurations, d)
	if !success {
		c.tasksFailed++
	}
}

// RecordMessageSent tracks one message attributed to the sending agent.
func (c *Collector) RecordMessageSent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesSent++
	c.messagesByAgent[agentID]++
}

// RecordBroadcast tracks one broadcast message.
func (c *Collector) RecordBroadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesBroadcast++
}

// GetSummary returns a snapshot rollup of all tracked metrics.
func (c *Collector) GetSummary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	totalRequests := 0
	for _, n := range c.requestCounts {
		totalRequests += n
	}
	totalErrors := 0
	for _, n := range c.errorCounts {
		totalErrors += n
	}

	s := Summary{
		Uptime: time.Since(c.startTime),
		Requests: RequestStats{
			Total:       totalRequests,
			ByType:      copyIntMap(c.requestCounts),
			Errors:      totalErrors,
			AvgDuration: avg(c.requestDurations),
		},
		Agents: AgentStats{
			Connections:       c.agentConnections,
			Disconnections:    c.agentDisconnections,
			ActiveConnections: c.agentConnections - c.agentDisconnections,
			MessagesByAgent:   copyIntMap(c.messagesByAgent),
		},
		Tasks: TaskStats{
			Created:     c.tasksCreated,
			Completed:   c.tasksFinished,
			Failed:      c.tasksFailed,
			AvgDuration: avg(c.taskDurations),
		},
		Messages: MessageStats{
			Sent:       c.messagesSent,
			Broadcasts: c.messagesBroadcast,
		},
		Counters: copyIntMap(c.counters),
		Gauges:   copyFloatMap(c.gauges),
	}
	if totalRequests > 0 {
		s.Requests.ErrorRate = float64(totalErrors) / float64(totalRequests)
	}
	if c.tasksFinished > 0 {
		s.Tasks.SuccessRate = float64(c.tasksFinished-c.tasksFailed) / float64(c.tasksFinished)
	}
	return s
}

// Prometheus renders the counters, gauges and timing summaries in Prometheus
// text exposition format.
func (c *Collector) Prometheus() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	for _, key := range sortedKeys(c.counters) {
		name, labels := splitKey(key)
		fmt.Fprintf(&b, "# TYPE %s counter\n", name)
		fmt.Fprintf(&b, "%s%s %d\n", name, labels, c.counters[key])
	}
	gaugeKeys := make([]string, 0, len(c.gauges))
	for k := range c.gauges {
		gaugeKeys = append(gaugeKeys, k)
	}
	sort.Strings(gaugeKeys)
	for _, key := range gaugeKeys {
		name, labels := splitKey(key)
		fmt.Fprintf(&b, "# TYPE %s gauge\n", name)
		fmt.Fprintf(&b, "%s%s %g\n", name, labels, c.gauges[key])
	}
	timingKeys := make([]string, 0, len(c.timings))
	for k := range c.timings {
		timingKeys = append(timingKeys, k)
	}
	sort.Strings(timingKeys)
	for _, key := range timingKeys {
		name, labels := splitKey(key)
		t := c.timings[key]
		fmt.Fprintf(&b, "# TYPE %s summary\n", name)
		fmt.Fprintf(&b, "%s_count%s %d\n", name, labels, t.Count)
		fmt.Fprintf(&b, "%s_sum%s %g\n", name, labels, t.Sum.Seconds())
		fmt.Fprintf(&b, "%s{quantile=\"0.5\"} %g\n", name, t.P50.Seconds())
		fmt.Fprintf(&b, "%s{quantile=\"0.95\"} %g\n", name, t.P95.Seconds())
		fmt.Fprintf(&b, "%s{quantile=\"0.99\"} %g\n", name, t.P99.Seconds())
	}
	return b.String()
}

// Reset clears all accumulated metrics and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.counters = make(map[string]int)
	c.gauges = make(map[string]float64)
	c.timings = make(map[string]*Timing)
	c.requestCounts = make(map[string]int)
	c.errorCounts = make(map[string]int)
	c.requestDurations = nil
	c.agentConnections = 0
	c.agentDisconnections = 0
	c.messagesByAgent = make(map[string]int)
	c.tasksCreated = 0
	c.tasksFinished = 0
	c.tasksFailed = 0
	c.taskDurations = nil
	c.messagesSent = 0
	c.messagesBroadcast = 0
}

func keyWithLabels(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return name + "#{" + strings.Join(pairs, ",") + "}"
}

func splitKey(key string) (name, labels string) {
	if i := strings.Index(key, "#"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func avg(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}

func appendBounded(ds []time.Duration, d time.Duration) []time.Duration {
	ds = append(ds, d)
	if len(ds) > maxSamples {
		ds = ds[len(ds)-maxSamples/2:]
	}
	return ds
}

func copyIntMap(m map[string]int) map[string]int {
	cp := make(map[string]int, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
