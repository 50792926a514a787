package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kalisio/k2/internal/core/domain"
	"github.com/kalisio/k2/internal/core/ports"
)

// resampleReply is the wire reply of a remote resample request.
type resampleReply struct {
	Result *domain.RasterResult `json:"result,omitempty"`
	Op     string               `json:"op,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// Requester implements ports.Resampler by sending requests to a pool of
// resampler workers over NATS request/reply.
type Requester struct {
	conn    *nats.Conn
	timeout time.Duration
}

// NewRequester creates a Requester. timeout applies when ctx has no deadline.
func NewRequester(conn *nats.Conn, timeout time.Duration) *Requester {
	if timeout <= 0 {
		timeout = defaultRequestWindow
	}
	return &Requester{conn: conn, timeout: timeout}
}

func (r *Requester) Resample(ctx context.Context, req ports.ResampleRequest) (*domain.RasterResult, error) {
	// output paths are local to the caller
	req.OutputPath = ""
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &domain.ResampleError{Segment: req.Segment, Op: "encode", Err: err}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	msg, err := r.conn.RequestWithContext(ctx, SubjectResample, data)
	if err != nil {
		return nil, &domain.ResampleError{Segment: req.Segment, Op: "request", Err: err}
	}
	return decodeReply(req.Segment, msg.Data)
}

func decodeReply(segment int, data []byte) (*domain.RasterResult, error) {
	var reply resampleReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, &domain.ResampleError{Segment: segment, Op: "decode", Err: err}
	}
	if reply.Error != "" {
		op := reply.Op
		if op == "" {
			op = "remote"
		}
		return nil, &domain.ResampleError{Segment: segment, Op: op, Err: errors.New(reply.Error)}
	}
	if reply.Result == nil {
		return nil, &domain.ResampleError{Segment: segment, Op: "decode", Err: errors.New("empty reply")}
	}
	return reply.Result, nil
}

// Responder serves remote resample requests with a local engine.
type Responder struct {
	conn      *nats.Conn
	engine    ports.Resampler
	sem       chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
	jobWindow time.Duration
}

// NewResponder creates a Responder running at most concurrency jobs at once.
func NewResponder(conn *nats.Conn, engine ports.Resampler, concurrency int, jobTimeout time.Duration, logger *slog.Logger) *Responder {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		conn:      conn,
		engine:    engine,
		sem:       make(chan struct{}, concurrency),
		logger:    logger,
		jobWindow: jobTimeout,
	}
}

// Serve joins the resamplers queue group and handles requests until ctx is
// done, then waits for in-flight jobs.
func (s *Responder) Serve(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(SubjectResample, QueueResamplers, func(msg *nats.Msg) {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()

			reply := s.handle(ctx, msg.Data)
			if err := msg.Respond(reply); err != nil {
				s.logger.Warn("resample reply failed", "error", err)
			}
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", SubjectResample, err)
	}

	<-ctx.Done()
	_ = sub.Drain()
	s.wg.Wait()
	return nil
}

// handle decodes one request, runs the engine and encodes the reply.
func (s *Responder) handle(ctx context.Context, data []byte) []byte {
	var req ports.ResampleRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return mustEncode(resampleReply{Op: "decode", Error: err.Error()})
	}
	req.OutputPath = ""

	if s.jobWindow > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobWindow)
		defer cancel()
	}

	start := time.Now()
	res, err := s.engine.Resample(ctx, req)
	if err != nil {
		op := "resample"
		var re *domain.ResampleError
		if errors.As(err, &re) {
			op = re.Op
			err = re.Err
		}
		s.logger.Warn("resample failed", "segment", req.Segment, "op", op, "error", err)
		return mustEncode(resampleReply{Op: op, Error: err.Error()})
	}
	s.logger.Debug("resampled", "segment", req.Segment, "samples", len(res.Values), "duration_ms", time.Since(start).Milliseconds())
	return mustEncode(resampleReply{Result: withoutNaN(res)})
}

// fallbackNoData replaces NaN on the wire, which JSON cannot carry.
const fallbackNoData = -32768

func withoutNaN(res *domain.RasterResult) *domain.RasterResult {
	out := *res
	out.Values = make([]float64, len(res.Values))
	for i, v := range res.Values {
		if math.IsNaN(v) {
			if !out.HasNoData {
				out.HasNoData = true
				out.NoData = fallbackNoData
			}
			v = out.NoData
		}
		out.Values[i] = v
	}
	return &out
}

func mustEncode(r resampleReply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(resampleReply{Op: "encode", Error: err.Error()})
	}
	return b
}
