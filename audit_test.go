package authcore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(sink, AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true})

	for i := 0; i < 5; i++ {
		d.emit(AuditEvent{Type: auditEventLogin, Success: true})
	}
	d.close()

	got := 0
	for {
		select {
		case <-sink.C:
			got++
		default:
			if got != 5 {
				t.Fatalf("delivered = %d, want 5", got)
			}
			return
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	// A sink that blocks forever forces the buffer to fill.
	blocked := make(chan struct{})
	d := newAuditDispatcher(blockingSink{blocked}, AuditConfig{Enabled: true, BufferSize: 2, DropIfFull: true})
	defer func() {
		close(blocked)
		d.close()
	}()

	for i := 0; i < 50; i++ {
		d.emit(AuditEvent{Type: auditEventLogin})
	}
	if d.Dropped() == 0 {
		t.Fatal("no events dropped with a blocked sink")
	}
}

type blockingSink struct{ unblock chan struct{} }

func (s blockingSink) Write(AuditEvent) { <-s.unblock }

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Write(AuditEvent{
		Time:      time.Now(),
		Type:      auditEventRefresh,
		Success:   true,
		AccountID: "acc-1",
	})
	sink.Write(AuditEvent{Type: auditEventLogout, Success: true})

	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var ev AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d not JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2", lines)
	}
}

func TestLoginEmitsAuditEvents(t *testing.T) {
	sink := NewChannelSink(64)
	env := newTestEngine(t, withConfig(func(cfg *Config) {
		cfg.Audit.Enabled = true
	}))
	// Rebuild with the sink installed.
	engine, err := New().
		WithConfig(env.engine.config).
		WithRedis(env.rdb).
		WithAccounts(env.store).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := engine.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Login: %v", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	engine.Close()

	var events []AuditEvent
	for {
		select {
		case ev := <-sink.C:
			events = append(events, ev)
			continue
		default:
		}
		break
	}

	var sawFailure, sawSuccess bool
	for _, ev := range events {
		if ev.Type != auditEventLogin {
			continue
		}
		if ev.Success {
			sawSuccess = true
		} else {
			sawFailure = true
			if ev.ErrorCode == "" {
				t.Fatal("failure event missing error code")
			}
		}
		if ev.ClientIP != "203.0.113.9" {
			t.Fatalf("ClientIP = %q", ev.ClientIP)
		}
	}
	if !sawFailure || !sawSuccess {
		t.Fatalf("events = %+v, want login failure and success", events)
	}
}

func TestAuditErrorCodeMapping(t *testing.T) {
	cases := map[error]string{
		nil:                    "",
		ErrInvalidCredentials:  "invalid_credentials",
		ErrTokenRevoked:        "token_revoked",
		ErrMandatoryMFAPolicy:  "mandatory_mfa_policy",
		ErrStoreUnavailable:    "store_unavailable",
		errors.New("whatever"): "internal_error",
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Errorf("auditErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
	var locked error = &AccountLockedError{RetryAfter: time.Minute}
	if got := auditErrorCode(locked); got != "account_locked" {
		t.Errorf("auditErrorCode(AccountLockedError) = %q", got)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()

	_, _ = env.engine.Login(ctx, "alice@example.com", "wrong")
	if _, err := env.engine.Login(ctx, "alice@example.com", "correct-horse"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	snap := env.engine.Metrics().Snapshot()
	if snap.Counters[MetricLoginSuccess] != 1 {
		t.Fatalf("login success = %d", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login failure = %d", snap.Counters[MetricLoginFailure])
	}
	if snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("sessions created = %d", snap.Counters[MetricSessionCreated])
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	if m.Value(MetricLoginSuccess) != 0 {
		t.Fatal("disabled metrics counted")
	}
	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess) // must not panic
}
