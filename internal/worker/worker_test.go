package worker_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cloven/internal/calc"
	"cloven/internal/graph"
	"cloven/internal/ipc"
	"cloven/internal/worker"
)

type recordingCalculator struct {
	initialized int
	closed      int
	panicKey    string
}

func (c *recordingCalculator) Initialize() error { c.initialized++; return nil }
func (c *recordingCalculator) Close() error      { c.closed++; return nil }

func (c *recordingCalculator) Calc(g *graph.Graph) (calc.Result, error) {
	if g.Key == c.panicKey {
		panic("solver crashed")
	}
	if strings.HasPrefix(g.Key, "0123") {
		return nil, errors.New("boom")
	}
	result := calc.Result{}
	result.Set(calc.TableGraphs, "prop_canon", true)
	return result, nil
}

func startWorker(t *testing.T, fake *recordingCalculator) (*ipc.Conn, <-chan error) {
	t.Helper()
	registry := calc.NewRegistry()
	registry.Register(calc.KindCanon, "fake", func(calc.Params) (calc.Calculator, error) { return fake, nil })

	toWorker, fromCoordinator := io.Pipe()
	fromWorker, toCoordinator := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := worker.Serve(context.Background(), toWorker, toCoordinator, worker.Options{Resolver: registry})
		_ = toCoordinator.Close()
		done <- err
	}()
	t.Cleanup(func() {
		_ = fromCoordinator.Close()
		_ = fromWorker.Close()
	})

	conn := ipc.NewConn(fromWorker, fromCoordinator)
	hello := ipc.Message{Type: ipc.TypeHello, Hello: &ipc.Hello{
		Worker:  1,
		Stage:   "canon",
		Kind:    calc.KindCanon,
		Variant: "fake",
		Params:  calc.Params{N: 4, K: 2},
	}}
	if err := conn.Send(hello); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	ready, err := conn.Receive()
	if err != nil || ready.Type != ipc.TypeReady || ready.Ready.PID == 0 {
		t.Fatalf("expected ready, got %+v (%v)", ready, err)
	}
	return conn, done
}

func TestServeComputesChunksUntilStop(t *testing.T) {
	fake := &recordingCalculator{}
	conn, done := startWorker(t, fake)

	keys := []string{"01 23|02 13", "01 23|03 12"}
	if err := conn.Send(ipc.Message{Type: ipc.TypeChunk, Chunk: &ipc.Chunk{ID: 5, Keys: keys}}); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	msg, err := conn.Receive()
	if err != nil || msg.Type != ipc.TypeResult {
		t.Fatalf("expected result, got %+v (%v)", msg, err)
	}
	if msg.Result.ChunkID != 5 || len(msg.Result.Items) != 2 || msg.Result.Items[1].Key != keys[1] {
		t.Fatalf("unexpected result %+v", msg.Result)
	}
	if got := msg.Result.Items[0].Result[calc.TableTimings]["prop_canon"]; got == nil {
		t.Fatal("expected timing field from the timed wrapper")
	}

	if err := conn.Send(ipc.Message{Type: ipc.TypeStop}); err != nil {
		t.Fatalf("send stop: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
	if fake.initialized != 1 || fake.closed != 1 {
		t.Fatalf("expected one initialize and one close, got %d/%d", fake.initialized, fake.closed)
	}
}

func TestServeReportsCalculationFailure(t *testing.T) {
	fake := &recordingCalculator{}
	conn, done := startWorker(t, fake)

	chunk := &ipc.Chunk{ID: 8, Keys: []string{"01 23|02 13", "0123|0123"}}
	if err := conn.Send(ipc.Message{Type: ipc.TypeChunk, Chunk: chunk}); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	msg, err := conn.Receive()
	if err != nil || msg.Type != ipc.TypeFailure {
		t.Fatalf("expected failure, got %+v (%v)", msg, err)
	}
	if msg.Failure.ChunkID != 8 || msg.Failure.Key != "0123|0123" {
		t.Fatalf("unexpected failure %+v", msg.Failure)
	}
	if err := <-done; !errors.Is(err, worker.ErrCalculation) {
		t.Fatalf("expected ErrCalculation, got %v", err)
	}
	if fake.closed != 1 {
		t.Fatal("expected calculator to be closed after a failure")
	}
}

func TestServeReportsCalculatorPanicAsFailure(t *testing.T) {
	fake := &recordingCalculator{panicKey: "01 23|03 12"}
	conn, done := startWorker(t, fake)

	chunk := &ipc.Chunk{ID: 9, Keys: []string{"01 23|02 13", "01 23|03 12"}}
	if err := conn.Send(ipc.Message{Type: ipc.TypeChunk, Chunk: chunk}); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	msg, err := conn.Receive()
	if err != nil || msg.Type != ipc.TypeFailure {
		t.Fatalf("expected failure, got %+v (%v)", msg, err)
	}
	if msg.Failure.Key != "01 23|03 12" || !strings.Contains(msg.Failure.Error, "solver crashed") {
		t.Fatalf("unexpected failure %+v", msg.Failure)
	}
	err = <-done
	if !errors.Is(err, worker.ErrCalculation) || !errors.Is(err, worker.ErrPanic) {
		t.Fatalf("expected ErrCalculation wrapping ErrPanic, got %v", err)
	}
	if fake.closed != 1 {
		t.Fatal("expected calculator to be closed after a panic")
	}
}

func TestServeRejectsChunkBeforeHello(t *testing.T) {
	err := worker.Serve(context.Background(), strings.NewReader(`{"type":"chunk","chunk":{"id":1}}`+"\n"), io.Discard, worker.Options{Resolver: calc.NewRegistry()})
	if !errors.Is(err, ipc.ErrUnexpected) {
		t.Fatalf("expected ErrUnexpected, got %v", err)
	}
}
