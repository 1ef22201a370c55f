package remoteai

import (
	"context"
	"testing"
)

func TestTruncateOddLength(t *testing.T) {
	cases := []struct {
		in   []byte
		want int
	}{
		{[]byte{1, 2, 3}, 2},
		{[]byte{1, 2, 3, 4}, 4},
		{[]byte{}, 0},
		{[]byte{1}, 0},
	}
	for _, c := range cases {
		got := truncateOddLength(c.in)
		if len(got) != c.want {
			t.Fatalf("truncateOddLength(%v) len = %d, want %d", c.in, len(got), c.want)
		}
	}
}

func TestCancelResponseWithoutConnectionReturnsFalse(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	ok, err := client.CancelResponse(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected CancelResponse to return false when no response is active")
	}
}

func TestConnectedIsFalseBeforeConnect(t *testing.T) {
	client := NewClient(DefaultClientConfig(), nil)
	if client.Connected() {
		t.Fatal("expected Connected() to be false before Connect is called")
	}
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()
	if cfg.ConnectRetries != 3 {
		t.Fatalf("ConnectRetries = %d, want 3", cfg.ConnectRetries)
	}
	if cfg.PingInterval.Seconds() != 20 {
		t.Fatalf("PingInterval = %v, want 20s", cfg.PingInterval)
	}
}
