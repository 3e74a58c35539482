package watcher

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/solatis/policykeeper/internal/core/db"
	"github.com/solatis/policykeeper/internal/types"
)

// Postgres tests need a live server: PK_TEST_POSTGRES_URL=postgres://...
func postgresURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("PK_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("PK_TEST_POSTGRES_URL not set")
	}
	return url
}

func TestNewPostgres_ChannelMustBeIdentifier(t *testing.T) {
	_, err := NewPostgres(nil, "", Options{Channel: "policy/changes"})
	if !types.IsValidation(err) {
		t.Errorf("NewPostgres() error = %v, want ValidationError", err)
	}
}

func TestPostgres_LogAge(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	w, err := NewPostgres(nil, "", Options{Logger: &logger})
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer w.Close()

	tests := []struct {
		name    string
		payload string
		logged  bool
	}{
		{"row id", types.NewRowID(), true},
		{"free text", "reload please", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			w.logAge(tt.payload)
			if got := strings.Contains(buf.String(), `"age"`); got != tt.logged {
				t.Errorf("age logged = %v, want %v (log: %s)", got, tt.logged, buf.String())
			}
		})
	}
}

// unreachableURL points at a port nothing listens on.
const unreachableURL = "postgres://policykeeper@127.0.0.1:1/policykeeper?sslmode=disable&connect_timeout=1"

func TestPostgres_StartUnreachableHonorsContext(t *testing.T) {
	w, err := NewPostgres(nil, unreachableURL, Options{})
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.StartWatching(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("StartWatching() error = nil, want error for an unreachable server")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("StartWatching() did not return after its context expired")
	}
	if w.Watching() {
		t.Error("Watching() = true after a failed start")
	}
}

func TestPostgres_StartUnreachableTimeout(t *testing.T) {
	w, err := NewPostgres(nil, unreachableURL, Options{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer w.Close()

	start := time.Now()
	if err := w.StartWatching(context.Background()); err == nil {
		t.Error("StartWatching() error = nil, want error for an unreachable server")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("StartWatching() took %v, want bounded by the timeout", elapsed)
	}
}

func TestPostgres_StopWhileStarting(t *testing.T) {
	w, err := NewPostgres(nil, unreachableURL, Options{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer w.Close()

	started := make(chan error, 1)
	go func() { started <- w.StartWatching(context.Background()) }()

	// Let StartWatching reach the connection wait.
	deadline := time.Now().Add(time.Second)
	for !w.Watching() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- w.StopWatching() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("StopWatching() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("StopWatching() blocked while StartWatching was connecting")
	}

	select {
	case err := <-started:
		if err == nil {
			t.Error("StartWatching() error = nil after being stopped mid-start")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("StartWatching() did not return after StopWatching")
	}
	if w.Watching() {
		t.Error("Watching() = true after stop")
	}
}

func TestPostgres_EmitThenReceive(t *testing.T) {
	url := postgresURL(t)
	database, err := db.Open(url)
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	opts := Options{Channel: "policykeeper_test_changes"}

	a, err := NewPostgres(database, url, opts)
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer a.Close()
	b, err := NewPostgres(database, url, opts)
	if err != nil {
		t.Fatalf("NewPostgres() error = %v", err)
	}
	defer b.Close()

	got := make(chan string, 4)
	b.RegisterCallback(func(msg string) error {
		got <- msg
		return nil
	})
	if err := b.StartWatching(ctx); err != nil {
		t.Fatalf("StartWatching() error = %v", err)
	}
	// The listener connects asynchronously.
	time.Sleep(200 * time.Millisecond)

	if err := a.EmitChange(ctx); err != nil {
		t.Fatalf("EmitChange() error = %v", err)
	}

	select {
	case msg := <-got:
		if _, err := types.ParseRowID(msg); err != nil {
			t.Errorf("payload %q is not a uuid: %v", msg, err)
		}
	case <-time.After(DefaultTimeout):
		t.Fatal("callback not invoked within the timeout")
	}

	if err := b.StopWatching(); err != nil {
		t.Errorf("StopWatching() error = %v", err)
	}
	if err := b.StopWatching(); err != nil {
		t.Errorf("second StopWatching() error = %v", err)
	}
}
