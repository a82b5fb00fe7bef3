package health

import (
	"sync"
	"testing"

	"github.com/breeze-rmm/deskcap/internal/framesink"
	"github.com/breeze-rmm/deskcap/internal/screen"
)

func TestNewMonitorOverallReturnsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() on empty monitor = %q, want %q", got, Unknown)
	}
}

func TestSummaryOnEmptyMonitor(t *testing.T) {
	m := NewMonitor()
	s := m.Summary()
	if s["status"] != "unknown" {
		t.Fatalf("Summary status = %v, want unknown", s["status"])
	}
	components, _ := s["components"].(map[string]string)
	if len(components) != 0 {
		t.Fatalf("Summary components = %v, want empty", components)
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	m := NewMonitor()
	m.Update(ComponentCapture, Healthy, "")
	m.Update(ComponentSink, Degraded, "3 dropped")

	if got := m.Overall(); got != Degraded {
		t.Fatalf("Overall() = %q, want %q", got, Degraded)
	}

	m.Update(ComponentCapture, Unhealthy, "device removed")
	if got := m.Overall(); got != Unhealthy {
		t.Fatalf("Overall() = %q, want %q", got, Unhealthy)
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{Healthy, Degraded, Unhealthy, Unknown} {
		if !s.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}
	for _, s := range []Status{Status("garbage"), Status(""), Status("ok")} {
		if s.IsValid() {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}

func TestUpdateCoercesInvalidStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("test", Status("invalid"), "bad value")

	c, ok := m.Get("test")
	if !ok {
		t.Fatal("component not found after Update")
	}
	if c.Status != Unhealthy {
		t.Fatalf("Status = %q, want %q (coerced from invalid)", c.Status, Unhealthy)
	}
}

func TestSummaryAtomicity(t *testing.T) {
	m := NewMonitor()
	m.Update(ComponentCapture, Healthy, "")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Update(ComponentCapture, Degraded, "lost")
			} else {
				m.Update(ComponentCapture, Healthy, "")
			}
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := m.Summary()
			status, _ := s["status"].(string)
			components, _ := s["components"].(map[string]string)
			if status != components[ComponentCapture] {
				t.Errorf("summary inconsistency: overall=%q capture=%q", status, components[ComponentCapture])
			}
		}()
	}
	wg.Wait()
}

func TestAllIsSorted(t *testing.T) {
	m := NewMonitor()
	m.Update(ComponentSink, Healthy, "")
	m.Update(ComponentCapture, Degraded, "lost")

	all := m.All()
	if len(all) != 2 || all[0].Name != ComponentCapture || all[1].Name != ComponentSink {
		t.Fatalf("All() = %+v", all)
	}
}

func TestObserveCapture(t *testing.T) {
	tests := []struct {
		state screen.State
		want  Status
	}{
		{screen.StateReady, Healthy},
		{screen.StateLost, Degraded},
		{screen.StateFailed, Unhealthy},
		{screen.StateIdle, Unknown},
		{screen.StateClosed, Unknown},
	}
	for _, tt := range tests {
		m := NewMonitor()
		m.ObserveCapture(screen.Status{State: tt.state, Width: 1920, Height: 1080, LastError: "x"})
		c, _ := m.Get(ComponentCapture)
		if c.Status != tt.want {
			t.Errorf("state %s -> %s, want %s", tt.state, c.Status, tt.want)
		}
	}

	m := NewMonitor()
	m.ObserveCapture(screen.Status{State: screen.StateReady, Width: 1920, Height: 1080})
	if c, _ := m.Get(ComponentCapture); c.Message != "1920x1080" {
		t.Fatalf("message = %q", c.Message)
	}
}

func TestObserveSink(t *testing.T) {
	m := NewMonitor()
	prev := framesink.Stats{Submitted: 10, Dropped: 2}

	m.ObserveSink(prev, framesink.Stats{Submitted: 20, Dropped: 2})
	if c, _ := m.Get(ComponentSink); c.Status != Healthy {
		t.Fatalf("no new drops should be healthy, got %s", c.Status)
	}

	m.ObserveSink(prev, framesink.Stats{Submitted: 20, Dropped: 5, Failed: 1})
	c, _ := m.Get(ComponentSink)
	if c.Status != Degraded || c.Message != "3 dropped, 1 failed" {
		t.Fatalf("check = %+v", c)
	}
}
