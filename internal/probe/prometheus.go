package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"controlroom/internal/models"
)

// MetricSelector picks samples of one metric family by exact label match.
type MetricSelector struct {
	Name   string
	Labels map[string]string
}

// ParseSelector parses `name` or `name{label="value",...}`.
func ParseSelector(raw string) (MetricSelector, error) {
	raw = strings.TrimSpace(raw)
	sel := MetricSelector{Labels: map[string]string{}}
	name, rest, hasLabels := strings.Cut(raw, "{")
	sel.Name = strings.TrimSpace(name)
	if sel.Name == "" {
		return sel, errors.New("metric name is empty")
	}
	if !hasLabels {
		return sel, nil
	}
	body, found := strings.CutSuffix(strings.TrimSpace(rest), "}")
	if !found {
		return sel, fmt.Errorf("unterminated label set in %q", raw)
	}
	for _, pair := range strings.Split(body, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return sel, fmt.Errorf("bad label matcher %q", pair)
		}
		sel.Labels[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return sel, nil
}

func (s MetricSelector) matches(m *dto.Metric) bool {
	if len(s.Labels) == 0 {
		return true
	}
	found := 0
	for _, lp := range m.GetLabel() {
		if want, ok := s.Labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			found++
		}
	}
	return found == len(s.Labels)
}

// PrometheusChecker scrapes a text exposition endpoint and reads one metric.
// Targets look like `http://host:9100/metrics#node_load1`.
type PrometheusChecker struct {
	client *http.Client
}

// NewPrometheusChecker builds a checker. A nil client gets the default pooled one.
func NewPrometheusChecker(client *http.Client) *PrometheusChecker {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &PrometheusChecker{client: client}
}

// Check implements Checker. Matching samples are summed.
func (c *PrometheusChecker) Check(ctx context.Context, p models.Probe) Observation {
	url, rawSelector, found := strings.Cut(p.Target, "#")
	if !found {
		return failed(errors.New("target must be URL#metric"))
	}
	sel, err := ParseSelector(rawSelector)
	if err != nil {
		return failed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failed(err)
	}
	req.Header.Set("Accept", "text/plain;version=0.0.4")
	resp, err := c.client.Do(req)
	if err != nil {
		return failed(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Observation{Outcome: models.OutcomeDegraded, Err: fmt.Errorf("scrape returned http %d", resp.StatusCode)}
	}

	value, err := ReadMetric(io.LimitReader(resp.Body, 16<<20), sel)
	if err != nil {
		return parseFailed(err)
	}
	return ok(value)
}

// ReadMetric parses the text exposition format and sums the samples that
// match sel.
func ReadMetric(r io.Reader, sel MetricSelector) (float64, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return 0, err
	}
	family, found := families[sel.Name]
	if !found {
		return 0, fmt.Errorf("metric %s not exposed", sel.Name)
	}

	var (
		sum     float64
		matched int
	)
	for _, m := range family.GetMetric() {
		if !sel.matches(m) {
			continue
		}
		switch family.GetType() {
		case dto.MetricType_GAUGE:
			sum += m.GetGauge().GetValue()
		case dto.MetricType_COUNTER:
			sum += m.GetCounter().GetValue()
		case dto.MetricType_UNTYPED:
			sum += m.GetUntyped().GetValue()
		default:
			return 0, fmt.Errorf("metric %s has unsupported type %s", sel.Name, family.GetType())
		}
		matched++
	}
	if matched == 0 {
		return 0, fmt.Errorf("metric %s has no sample matching %v", sel.Name, sel.Labels)
	}
	return sum, nil
}
