package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名のメトリクスファミリーを取得する。
func findMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("%s metric not found", name)
	return nil
}

// labelValue はメトリクスから指定ラベルの値を返す。
func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// 同じレジストリに二重登録するとpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

func TestRecordCartMutation_LabelsOpAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCartMutation("add", true)
	c.RecordCartMutation("add", true)
	c.RecordCartMutation("add", false)

	mf := findMetric(t, reg, "foodfusion_cart_mutations_total")
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("expected 2 series, got %d", len(mf.GetMetric()))
	}
	for _, m := range mf.GetMetric() {
		if labelValue(m, "op") != "add" {
			t.Errorf("op label = %q, want add", labelValue(m, "op"))
		}
		want := 1.0
		if labelValue(m, "result") == "success" {
			want = 2
		}
		if got := m.GetCounter().GetValue(); got != want {
			t.Errorf("result=%s value = %v, want %v", labelValue(m, "result"), got, want)
		}
	}
}

func TestRecordCheckout_IncrementsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCheckout(CheckoutPlaced)
	c.RecordCheckout(CheckoutSMSFailed)
	c.RecordCheckout(CheckoutPlaced)

	mf := findMetric(t, reg, "foodfusion_checkout_total")
	values := map[string]float64{}
	for _, m := range mf.GetMetric() {
		values[labelValue(m, "result")] = m.GetCounter().GetValue()
	}
	if values[CheckoutPlaced] != 2 || values[CheckoutSMSFailed] != 1 {
		t.Errorf("checkout values = %v", values)
	}
}

func TestRecordSMSSend_ObservesLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSMSSend(true, 200*time.Millisecond)
	c.RecordSMSSend(false, 1500*time.Millisecond)

	hist := findMetric(t, reg, "foodfusion_sms_latency_seconds").GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", hist.GetSampleCount())
	}
	if sum := hist.GetSampleSum(); sum < 1.69 || sum > 1.71 {
		t.Errorf("sample sum = %v, want 1.7", sum)
	}

	sends := findMetric(t, reg, "foodfusion_sms_send_total")
	if len(sends.GetMetric()) != 2 {
		t.Errorf("expected success and failure series, got %d", len(sends.GetMetric()))
	}
}

func TestRecordNotification_CountsBySeverity(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordNotification("success")
	c.RecordNotification("info")
	c.RecordNotification("info")

	mf := findMetric(t, reg, "foodfusion_notifications_total")
	values := map[string]float64{}
	for _, m := range mf.GetMetric() {
		values[labelValue(m, "severity")] = m.GetCounter().GetValue()
	}
	if values["info"] != 2 || values["success"] != 1 {
		t.Errorf("notification values = %v", values)
	}
}

func TestRecordHTTPStatus_UsesStatusCodeLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(409)

	m := findMetric(t, reg, "foodfusion_http_status_total").GetMetric()[0]
	if labelValue(m, "status_code") != "409" {
		t.Errorf("status_code = %q, want 409", labelValue(m, "status_code"))
	}
}

func TestRecordSessionsCleaned_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSessionsCleaned(3)
	c.RecordSessionsCleaned(0)
	c.RecordSessionsCleaned(2)

	m := findMetric(t, reg, "foodfusion_sessions_cleaned_total").GetMetric()[0]
	if got := m.GetCounter().GetValue(); got != 5 {
		t.Errorf("sessions_cleaned_total = %v, want 5", got)
	}
}
