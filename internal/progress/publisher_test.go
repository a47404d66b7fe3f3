package progress_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kurz/internal/fsm"
	"kurz/internal/progress"
	"kurz/internal/testsupport"
)

func TestPublishReachesAllListeners(t *testing.T) {
	pub := progress.NewPublisher(nil, nil)

	var first, second []progress.Event
	pub.Subscribe(progress.ListenerFunc(func(ctx context.Context, e progress.Event) error {
		first = append(first, e)
		return nil
	}))
	pub.Subscribe(progress.ListenerFunc(func(ctx context.Context, e progress.Event) error {
		second = append(second, e)
		return nil
	}))

	pub.Publish(context.Background(), progress.Event{RunID: "run-1", State: fsm.StatePlanning})
	pub.Publish(context.Background(), progress.Event{RunID: "run-1", Progress: progress.Float(0.2)})

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("listener deliveries: %d, %d; want 2, 2", len(first), len(second))
	}
	if first[0].State != fsm.StatePlanning || first[1].Progress == nil {
		t.Fatalf("events out of order: %#v", first)
	}
}

func TestPublishSurvivesFailingListener(t *testing.T) {
	pub := progress.NewPublisher(nil, nil)

	pub.Subscribe(progress.ListenerFunc(func(ctx context.Context, e progress.Event) error {
		return errors.New("listener exploded")
	}))
	var delivered int
	pub.Subscribe(progress.ListenerFunc(func(ctx context.Context, e progress.Event) error {
		delivered++
		return nil
	}))

	pub.Publish(context.Background(), progress.Event{RunID: "run-1", Log: "still going"})
	if delivered != 1 {
		t.Fatalf("later listener not reached: %d", delivered)
	}
}

func TestPublishDoesNotSerializeAcrossRuns(t *testing.T) {
	pub := progress.NewPublisher(nil, nil)

	blocked := make(chan struct{})
	release := make(chan struct{})
	pub.Subscribe(progress.ListenerFunc(func(ctx context.Context, e progress.Event) error {
		if e.RunID == "run-slow" {
			close(blocked)
			<-release
		}
		return nil
	}))
	defer close(release)

	go pub.Publish(context.Background(), progress.Event{RunID: "run-slow", Log: "stuck in a listener"})
	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("slow publish never reached the listener")
	}

	done := make(chan struct{})
	go func() {
		pub.Publish(context.Background(), progress.Event{RunID: "run-fast", Log: "should not wait"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish for another run blocked behind a slow listener")
	}
}

func TestPublishPersistsDurableFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	run := testsupport.NewRun(t, store, "durable fields")

	pub := progress.NewPublisher(store, nil)
	pub.Publish(context.Background(), progress.Event{
		RunID:    run.RunID,
		Progress: progress.Float(0.5),
		Log:      "asset generation halfway",
	})

	got, err := store.GetByID(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Progress != 0.5 {
		t.Fatalf("progress not persisted: %v", got.Progress)
	}
	logs, err := store.Logs(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "asset generation halfway" {
		t.Fatalf("log not persisted: %#v", logs)
	}
}

func TestPublishPersistenceFailureIsNonFatal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	pub := progress.NewPublisher(store, nil)
	// Unknown run id makes AppendLog fail on the foreign key; Publish
	// must still return normally.
	pub.Publish(context.Background(), progress.Event{RunID: "ghost", Log: "nobody home"})
}

func TestWebhookListener(t *testing.T) {
	var received []progress.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e progress.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		received = append(received, e)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL

	listener := progress.NewWebhookListener(cfg)
	if listener == nil {
		t.Fatal("expected webhook listener")
	}

	pub := progress.NewPublisher(nil, nil)
	pub.Subscribe(listener)
	pub.Publish(context.Background(), progress.Event{RunID: "run-1", State: fsm.StateRendering})

	if len(received) != 1 || received[0].RunID != "run-1" || received[0].State != fsm.StateRendering {
		t.Fatalf("webhook did not receive event: %#v", received)
	}
}

func TestWebhookListenerDisabledWithoutURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if listener := progress.NewWebhookListener(cfg); listener != nil {
		t.Fatal("expected nil listener when no webhook configured")
	}
}
