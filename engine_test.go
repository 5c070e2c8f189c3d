package entitlement

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingMetrics struct {
	mu           sync.Mutex
	accessTotal  int
	accessDenied int
	durations    []time.Duration
	grantOps     []string
}

func (m *recordingMetrics) IncrementAccessCount(allowed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessTotal++
	if !allowed {
		m.accessDenied++
	}
}

func (m *recordingMetrics) RecordAccessDuration(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations = append(m.durations, duration)
}

func (m *recordingMetrics) IncrementGrantCount(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grantOps = append(m.grantOps, operation)
}

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	gw := NewInMemoryGateway()
	metrics := &recordingMetrics{}
	engine := newTestEngine(t, gw, WithMetrics(metrics))

	freeCourse := Course{ID: "course-1", SchoolID: "school-1", AccessLevel: VisibilityFree}
	paidCourse := Course{ID: "course-2", SchoolID: "school-1", AccessLevel: VisibilityPaid}

	if _, err := engine.CheckCourseAccess(ctx, freeCourse, "u@x.y", RoleStudent); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.CheckCourseAccess(ctx, paidCourse, "u@x.y", RoleStudent); err != nil {
		t.Fatal(err)
	}

	if metrics.accessTotal != 2 || metrics.accessDenied != 1 {
		t.Errorf("access counts = %d total / %d denied, want 2 / 1", metrics.accessTotal, metrics.accessDenied)
	}
	if len(metrics.durations) != 2 {
		t.Errorf("recorded %d durations, want 2", len(metrics.durations))
	}

	offer := Offer{ID: "offer-1", SchoolID: "school-1", Type: OfferCourse, Scope: ScopeSelectedCourses, Name: "Course"}
	seedOfferCourse(t, gw, "school-1", "offer-1", "course-2")
	tx := Transaction{ID: "txn-1", UserEmail: "u@x.y", AmountCents: 4900}
	if _, err := engine.ProvisionPurchase(ctx, tx, offer, "school-1"); err != nil {
		t.Fatal(err)
	}

	if len(metrics.grantOps) != 1 || metrics.grantOps[0] != "provision" {
		t.Errorf("grant operations = %v, want [provision]", metrics.grantOps)
	}
}

func TestEngineDefaults(t *testing.T) {
	engine := NewEngine(NewInMemoryGateway())

	// No clock override: now() tracks the wall clock.
	before := time.Now()
	got := engine.now()
	if got.Before(before.Add(-time.Minute)) || got.After(before.Add(time.Minute)) {
		t.Errorf("default clock returned %v, want roughly %v", got, before)
	}

	// Nil audit and metrics sinks must be tolerated.
	allowed, err := engine.CheckCourseAccess(context.Background(),
		Course{ID: "c1", SchoolID: "s1", AccessLevel: VisibilityFree}, "u@x.y", RoleStudent)
	if err != nil || !allowed {
		t.Errorf("CheckCourseAccess with default engine = (%v, %v), want (true, nil)", allowed, err)
	}
}

func TestEngineLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	gw := NewInMemoryGateway()
	engine := newTestEngine(t, gw, WithLogger(logger))

	seedOfferCourse(t, gw, "school-1", "offer-1", "course-1")
	offer := Offer{ID: "offer-1", SchoolID: "school-1", Type: OfferCourse, Scope: ScopeSelectedCourses, Name: "Course"}
	tx := Transaction{ID: "txn-1", UserEmail: "u@x.y", AmountCents: 4900}
	if _, err := engine.ProvisionPurchase(context.Background(), tx, offer, "school-1"); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "txn-1") {
		t.Errorf("log output missing transaction id: %q", buf.String())
	}
}
