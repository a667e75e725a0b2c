package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeSender struct {
	name string
	sent []string
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	if f.fail {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, title+": "+message)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyRespectsEventFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"execution_failed"}, testLogger())

	if err := n.Notify(context.Background(), "opportunity_detected", "t", "m"); err != nil {
		t.Fatalf("filtered notify: %v", err)
	}
	if len(s.sent) != 0 {
		t.Fatalf("filtered event delivered: %v", s.sent)
	}

	if err := n.Notify(context.Background(), "execution_failed", "t", "m"); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("allowed event not delivered: %v", s.sent)
	}
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"execution_failed"}, testLogger())

	if err := n.NotifyAll(context.Background(), "arbd", "starting in paper mode"); err != nil {
		t.Fatalf("notify all: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatal("NotifyAll did not bypass the event filter")
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", fail: true}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v, want the failing sender named", err)
	}
	if len(good.sent) != 1 {
		t.Fatal("healthy sender skipped after a failure")
	}
}
