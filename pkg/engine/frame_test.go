package engine

import "testing"

func TestNewFrameValidLength(t *testing.T) {
	data := make([]byte, DefaultFrameSamples*BytesPerSample)
	f, err := NewFrame(data, DefaultFrameSamples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Samples() != DefaultFrameSamples {
		t.Fatalf("Samples() = %d, want %d", f.Samples(), DefaultFrameSamples)
	}
	if f.Len() != len(data) {
		t.Fatalf("Len() = %d, want %d", f.Len(), len(data))
	}
}

func TestNewFrameRejectsWrongLength(t *testing.T) {
	data := make([]byte, 10)
	if _, err := NewFrame(data, DefaultFrameSamples); err == nil {
		t.Fatal("expected error for short buffer, got nil")
	}
}

func TestNewFrameCopiesInput(t *testing.T) {
	data := make([]byte, 4)
	f, err := NewFrame(data, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data[0] = 0xFF
	if f.Bytes()[0] == 0xFF {
		t.Fatal("Frame must copy its input, not alias it")
	}
}
