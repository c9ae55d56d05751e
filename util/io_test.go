package util

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
)

func TestPumpChunks(t *testing.T) {
	input := strings.Repeat("x", DefaultBufSize+10)

	var got bytes.Buffer
	var chunks int
	err := PumpChunks(context.Background(), strings.NewReader(input), func(p []byte) error {
		chunks++
		got.Write(p)
		return nil
	})
	if err != nil {
		t.Fatalf("PumpChunks: %v", err)
	}
	if got.String() != input {
		t.Errorf("got %d bytes, want %d", got.Len(), len(input))
	}
	if chunks != 2 {
		t.Errorf("chunks = %d, want 2", chunks)
	}
}

func TestPumpChunks_CallbackError(t *testing.T) {
	boom := errors.New("boom")
	err := PumpChunks(context.Background(), strings.NewReader("abc"), func([]byte) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestPumpChunks_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := PumpChunks(ctx, strings.NewReader("abc"), func([]byte) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Error("callback should not run after cancellation")
	}
}

func TestPumpChunks_ChunkIsCopied(t *testing.T) {
	r := io.MultiReader(strings.NewReader("first"), strings.NewReader("second"))

	var kept [][]byte
	PumpChunks(context.Background(), r, func(p []byte) error { //nolint:errcheck
		kept = append(kept, p)
		return nil
	})
	if len(kept) != 2 || string(kept[0]) != "first" || string(kept[1]) != "second" {
		t.Errorf("chunks = %q", kept)
	}
}

func TestIsHarmless(t *testing.T) {
	if !IsHarmless(nil) {
		t.Error("nil should be harmless")
	}
	if !IsHarmless(io.EOF) {
		t.Error("io.EOF should be harmless")
	}
	if !IsHarmless(net.ErrClosed) {
		t.Error("net.ErrClosed should be harmless")
	}
	if !IsHarmless(os.ErrClosed) {
		t.Error("os.ErrClosed should be harmless")
	}
	if IsHarmless(io.ErrUnexpectedEOF) {
		t.Error("ErrUnexpectedEOF should NOT be harmless")
	}
}
