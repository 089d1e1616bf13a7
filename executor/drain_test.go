package executor

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDrainPipesReadsBothToEOF(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	// startDrain is called before anything writes, exercising the same
	// "reader is already running" ordering Run uses relative to the wait.
	drain := startDrain(outR, errR)

	go func() {
		_, _ = outW.WriteString("hello stdout")
		_ = outW.Close()
		_, _ = errW.WriteString("hello stderr")
		_ = errW.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stdout, stderr := drain.collect(ctx)
	require.Equal(t, "hello stdout", string(stdout))
	require.Equal(t, "hello stderr", string(stderr))
}

func TestDrainPipesBoundedByContext(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)
	defer func() {
		_ = outW.Close()
		_ = errW.Close()
	}()

	drain := startDrain(outR, errR)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	stdout, stderr := drain.collect(ctx)
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Empty(t, stdout)
	require.Empty(t, stderr)
}

func TestDrainPipesStartsBeforeWriterIsSlow(t *testing.T) {
	outR, outW, err := os.Pipe()
	require.NoError(t, err)
	errR, errW, err := os.Pipe()
	require.NoError(t, err)

	drain := startDrain(outR, errR)

	// Simulate a chatty guest that writes past a single pipe buffer
	// before exiting: this must not block because the reader was already
	// started, not started after some later "wait" step.
	go func() {
		chunk := bytes.Repeat([]byte("x"), 70*1024)
		_, _ = outW.Write(chunk)
		_ = outW.Close()
		_ = errW.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stdout, _ := drain.collect(ctx)
	require.Len(t, stdout, 70*1024)
}
