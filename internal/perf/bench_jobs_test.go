package perf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/snies/snies-admin/internal/audit"
	jobmetrics "github.com/snies/snies-admin/internal/jobs"
	"github.com/snies/snies-admin/jobs"
)

type slowRepo struct {
	mu      sync.Mutex
	delay   time.Duration
	fail    bool
	entries []audit.Entry
}

func (r *slowRepo) Insert(ctx context.Context, entry audit.Entry) error {
	time.Sleep(r.delay)
	if r.fail {
		return errors.New("connection reset")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *slowRepo) List(ctx context.Context, filters audit.Filters, limit, offset int) ([]audit.Entry, int, error) {
	return nil, 0, nil
}

func (r *slowRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := int64(len(r.entries))
	r.entries = nil
	return removed, nil
}

func TestAuditJobThroughputAndReliability(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	healthy := &slowRepo{delay: 2 * time.Millisecond}
	record := audit.NewRecordJob(healthy, logger, metrics)
	for i := 0; i < 40; i++ {
		task, err := jobs.NewAuditRecordTask(jobs.AuditRecordPayload{
			ActorID: int64(i), Action: audit.ActionDenied, Entity: "module", EntityID: "courses", At: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("build task: %v", err)
		}
		if err := record.Handle(ctx, task); err != nil {
			t.Fatalf("unexpected record error: %v", err)
		}
	}

	// A flaky database must surface as job failures, not silent drops.
	flaky := audit.NewRecordJob(&slowRepo{fail: true}, logger, metrics)
	for i := 0; i < 2; i++ {
		task, _ := jobs.NewAuditRecordTask(jobs.AuditRecordPayload{Action: audit.ActionDenied, At: time.Now().UTC()})
		if err := flaky.Handle(ctx, task); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	prune := audit.NewPruneJob(healthy, logger, metrics)
	task, _ := jobs.NewAuditPruneTask(30)
	if err := prune.Handle(ctx, task); err != nil {
		t.Fatalf("unexpected prune error: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "snies_jobs_total", map[string]string{"job": jobs.TaskAuditRecord, "status": "success"})
	failure := metricValue(t, families, "snies_jobs_total", map[string]string{"job": jobs.TaskAuditRecord, "status": "failure"})
	if success != 40 || failure != 2 {
		t.Fatalf("unexpected record outcomes: success=%v failure=%v", success, failure)
	}
	if ratio := success / (success + failure); ratio < 0.9 {
		t.Fatalf("record success ratio too low: %f", ratio)
	}

	removed := metricValue(t, families, "snies_job_rows_total", map[string]string{"job": jobs.TaskAuditPrune})
	if removed != 40 {
		t.Fatalf("prune removed %v rows, want 40", removed)
	}

	recordDuration := histogramMean(t, families, "snies_job_duration_seconds", map[string]string{"job": jobs.TaskAuditRecord})
	if recordDuration > 0.5 {
		t.Fatalf("record duration above budget: %f", recordDuration)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	matched := 0
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
