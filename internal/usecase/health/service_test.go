package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

// --- Mocks ---

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(_ context.Context) error { return m.err }

type mockEmbeddingChecker struct {
	err error
}

func (m *mockEmbeddingChecker) HealthCheck(_ context.Context) error { return m.err }

type slowPinger struct{}

func (slowPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// --- Tests ---

func TestCheck(t *testing.T) {
	tests := []struct {
		name      string
		backend   error
		embedding EmbeddingChecker
		want      Status
		wantEmbed CheckResult
	}{
		{"all healthy", nil, &mockEmbeddingChecker{}, Healthy, CheckOK},
		{"no embedder", nil, nil, Healthy, ""},
		{"backend down", errors.New("conn refused"), &mockEmbeddingChecker{}, Unhealthy, CheckOK},
		{"embedding down", nil, &mockEmbeddingChecker{err: errors.New("timeout")}, Degraded, CheckError},
		{"both down", errors.New("conn refused"), &mockEmbeddingChecker{err: errors.New("timeout")}, Unhealthy, CheckError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(&mockPinger{err: tt.backend}, tt.embedding).Check(context.Background())
			if r.Status != tt.want {
				t.Errorf("status = %q, want %q", r.Status, tt.want)
			}
			wantBackend := CheckOK
			if tt.backend != nil {
				wantBackend = CheckError
			}
			if got := r.Checks[ComponentBackend].Result; got != wantBackend {
				t.Errorf("backend = %q, want %q", got, wantBackend)
			}
			if got := r.Checks[ComponentEmbedding].Result; got != tt.wantEmbed {
				t.Errorf("embedding = %q, want %q", got, tt.wantEmbed)
			}
		})
	}
}

func TestCheck_RecordsError(t *testing.T) {
	r := New(&mockPinger{err: errors.New("conn refused")}, nil).Check(context.Background())
	if got := r.Checks[ComponentBackend].Error; got != "conn refused" {
		t.Errorf("error = %q", got)
	}
}

func TestCheck_Timeout(t *testing.T) {
	svc := New(slowPinger{}, nil).WithTimeout(20 * time.Millisecond)

	start := time.Now()
	r := svc.Check(context.Background())
	if time.Since(start) > time.Second {
		t.Fatal("probe was not bounded by the timeout")
	}
	if r.Status != Unhealthy {
		t.Errorf("status = %q, want %q", r.Status, Unhealthy)
	}
}
