package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/carebook/carebook-backend/internal/api/respond"
	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// Snapshot flattens every gathered metric family into name → value
// pairs for the ops endpoint. Vector metrics render one entry per label
// set; histograms render their _count and _sum.
func Snapshot(g prometheus.Gatherer) (map[string]float64, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + labelSuffix(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name] = m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] = m.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[name+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[name+"_sum"] = m.GetHistogram().GetSampleSum()
			case dto.MetricType_SUMMARY:
				out[name+"_count"] = float64(m.GetSummary().GetSampleCount())
				out[name+"_sum"] = m.GetSummary().GetSampleSum()
			case dto.MetricType_UNTYPED:
				out[name] = m.GetUntyped().GetValue()
			}
		}
	}
	return out, nil
}

func labelSuffix(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// OpsHandler serves the flattened snapshot as JSON. The prometheus
// exposition endpoint stays the scrape surface; this one feeds the ops
// dashboard.
func OpsHandler(g prometheus.Gatherer, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := Snapshot(g)
		if err != nil {
			respond.Error(w, r, logger, apperror.Internal(err))
			return
		}
		respond.OK(w, http.StatusOK, map[string]any{
			"metrics":      snap,
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
