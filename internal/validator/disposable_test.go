package validator

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisposableList_Seeded(t *testing.T) {
	d := NewDisposableList("", slog.New(slog.DiscardHandler))

	assert.True(t, d.Contains("mailinator.com"))
	assert.True(t, d.Contains("YOPMAIL.com"))
	assert.False(t, d.Contains("gmail.com"))
	assert.NoError(t, d.Refresh(context.Background()))
}

func TestDisposableList_Refresh(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		expectErr bool
		contains  string
	}{
		{
			name:     "merges remote list",
			status:   http.StatusOK,
			body:     `["burner.example", " Throwaway.Example "]`,
			contains: "throwaway.example",
		},
		{
			name:      "bad status",
			status:    http.StatusBadGateway,
			body:      `[]`,
			expectErr: true,
		},
		{
			name:      "malformed body",
			status:    http.StatusOK,
			body:      `{"not":"a list"}`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			d := NewDisposableList(srv.URL, slog.New(slog.DiscardHandler))
			before := d.Len()

			err := d.Refresh(context.Background())

			if tt.expectErr {
				require.Error(t, err)
				assert.Equal(t, before, d.Len())
				return
			}
			require.NoError(t, err)
			assert.True(t, d.Contains(tt.contains))
			assert.True(t, d.Contains("mailinator.com"))
			assert.Equal(t, before+2, d.Len())
		})
	}
}

func TestDisposableList_RunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["burner.example"]`))
	}))
	defer srv.Close()

	d := NewDisposableList(srv.URL, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, 50*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return d.Contains("burner.example") }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
