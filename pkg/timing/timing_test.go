package timing

import (
	"strings"
	"testing"
	"time"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()

	timer.StartDNS()
	time.Sleep(5 * time.Millisecond)
	timer.EndDNS()

	timer.StartTCP()
	time.Sleep(5 * time.Millisecond)
	timer.EndTCP()

	timer.StartTLS()
	time.Sleep(5 * time.Millisecond)
	timer.EndTLS()

	timer.StartTTFB()
	time.Sleep(5 * time.Millisecond)
	timer.EndTTFB()

	metrics := timer.GetMetrics()

	if metrics.DNSLookup <= 0 {
		t.Error("expected positive DNS timing")
	}
	if metrics.TCPConnect <= 0 {
		t.Error("expected positive TCP timing")
	}
	if metrics.TLSHandshake <= 0 {
		t.Error("expected positive TLS timing")
	}
	if metrics.TTFB <= 0 {
		t.Error("expected positive TTFB timing")
	}
	if metrics.TotalTime <= 0 {
		t.Error("total timing should be positive")
	}
}

func TestMetricsCalculations(t *testing.T) {
	metrics := Metrics{
		DNSLookup:    10 * time.Millisecond,
		TCPConnect:   20 * time.Millisecond,
		TLSHandshake: 30 * time.Millisecond,
		TTFB:         40 * time.Millisecond,
		TotalTime:    150 * time.Millisecond,
	}

	if got := metrics.GetConnectionTime(); got != 60*time.Millisecond {
		t.Errorf("expected connection time 60ms, got %v", got)
	}
	if got := metrics.GetServerTime(); got != 40*time.Millisecond {
		t.Errorf("expected server time 40ms, got %v", got)
	}
	if got := metrics.GetNetworkTime(); got != 110*time.Millisecond {
		t.Errorf("expected network time 110ms, got %v", got)
	}
}

func TestMetricsString(t *testing.T) {
	metrics := Metrics{
		DNSLookup:    10 * time.Millisecond,
		TCPConnect:   20 * time.Millisecond,
		TLSHandshake: 30 * time.Millisecond,
		TTFB:         40 * time.Millisecond,
		TotalTime:    100 * time.Millisecond,
	}

	str := metrics.String()
	for _, substr := range []string{"DNSLookup:", "TCPConnect:", "TLSHandshake:", "TTFB:", "TotalTime:"} {
		if !strings.Contains(str, substr) {
			t.Errorf("string representation should contain %q", substr)
		}
	}
}
