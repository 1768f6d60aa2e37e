package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"cloven/internal/calc"
	"cloven/internal/graph"
	"cloven/internal/ipc"
	"cloven/internal/logging"
)

// ErrCalculation marks a calculator failure. The worker stops after
// reporting it and the pool treats the exit like any other worker death.
var ErrCalculation = errors.New("calculation failed")

// ErrPanic marks a calculation that panicked.
var ErrPanic = errors.New("calculator panicked")

// Resolver builds calculators from the spawn spec.
type Resolver interface {
	New(kind calc.Kind, variant string, params calc.Params) (calc.Calculator, error)
}

// Options controls one serve loop.
type Options struct {
	Resolver Resolver
	Logger   *slog.Logger
	// Renice applies the hello's niceness to the current process. Only set it
	// when the loop owns its process.
	Renice bool
}

// Serve runs the worker side of the protocol on r and w until the
// coordinator sends stop or closes the stream. A calculator error is
// reported on the wire and returned wrapped in ErrCalculation.
func Serve(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	if opts.Resolver == nil {
		return errors.New("worker requires a calculator resolver")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	conn := ipc.NewConn(r, w)

	first, err := conn.Receive()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if first.Type != ipc.TypeHello || first.Hello == nil {
		return fmt.Errorf("%w: %s before hello", ipc.ErrUnexpected, first.Type)
	}
	hello := *first.Hello
	logger = logger.With(
		logging.String(logging.FieldStage, hello.Stage),
		logging.Int(logging.FieldWorker, hello.Worker),
		logging.Int(logging.FieldPID, os.Getpid()),
	)

	if opts.Renice && hello.Niceness > 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, 0, hello.Niceness); err != nil {
			logger.Warn("failed to lower worker priority",
				logging.Int("niceness", hello.Niceness),
				logging.Error(err),
				logging.String(logging.FieldEventType, "worker_renice_failed"),
				logging.String(logging.FieldErrorHint, "check RLIMIT_NICE or run without niceness"),
			)
		}
	}

	calculator, err := opts.Resolver.New(hello.Kind, hello.Variant, hello.Params)
	if err != nil {
		return fmt.Errorf("build calculator: %w", err)
	}
	if err := calculator.Initialize(); err != nil {
		return fmt.Errorf("initialize calculator: %w", err)
	}
	defer func() {
		if closeErr := calculator.Close(); closeErr != nil {
			logger.Warn("calculator close failed", logging.Error(closeErr))
		}
	}()

	if err := conn.Send(ipc.Message{Type: ipc.TypeReady, Ready: &ipc.Ready{PID: os.Getpid()}}); err != nil {
		return err
	}
	logger.Debug("worker ready", logging.String("variant", hello.Variant))

	for {
		msg, err := conn.Receive()
		if errors.Is(err, io.EOF) {
			logger.Debug("coordinator closed the stream")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		switch msg.Type {
		case ipc.TypeStop:
			logger.Debug("worker stopping")
			return nil
		case ipc.TypeChunk:
			if msg.Chunk == nil {
				return fmt.Errorf("%w: empty chunk", ipc.ErrUnexpected)
			}
			result, err := runChunk(ctx, calculator, hello.Params, *msg.Chunk)
			if err != nil {
				var failure *chunkFailure
				if errors.As(err, &failure) {
					_ = conn.Send(ipc.Message{Type: ipc.TypeFailure, Failure: &ipc.Failure{
						ChunkID: msg.Chunk.ID,
						Key:     failure.key,
						Error:   failure.err.Error(),
					}})
				}
				return err
			}
			if err := conn.Send(ipc.Message{Type: ipc.TypeResult, Result: result}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: %s", ipc.ErrUnexpected, msg.Type)
		}
	}
}

type chunkFailure struct {
	key string
	err error
}

func (f *chunkFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.key, f.err)
}

func (f *chunkFailure) Unwrap() []error { return []error{ErrCalculation, f.err} }

func runChunk(ctx context.Context, calculator calc.Calculator, params calc.Params, chunk ipc.Chunk) (*ipc.Result, error) {
	start := time.Now()
	items := make([]ipc.Item, 0, len(chunk.Keys))
	for _, key := range chunk.Keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := graph.New(key, params.N, params.Weights)
		if err != nil {
			return nil, &chunkFailure{key: key, err: err}
		}
		result, err := calcOne(calculator, g)
		if err != nil {
			return nil, &chunkFailure{key: key, err: err}
		}
		items = append(items, ipc.Item{Key: key, Result: result})
	}
	return &ipc.Result{ChunkID: chunk.ID, Items: items, ElapsedNS: time.Since(start).Nanoseconds()}, nil
}

// calcOne turns a calculator panic into an error so the failing key is
// reported like any other calculation failure.
func calcOne(calculator calc.Calculator, g *graph.Graph) (result calc.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return calculator.Calc(g)
}
