// Package grpcserver runs the operational gRPC endpoint: standard health
// checking driven by a database probe, plus optional reflection.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported next to the overall "" entry.
const ServiceName = "duochat.Chat"

// Probe checks a dependency, typically the database.
type Probe func(ctx context.Context) error

// Ops owns the gRPC server and its health state.
type Ops struct {
	srv      *grpc.Server
	health   *health.Server
	probe    Probe
	interval time.Duration
	log      *zap.Logger
}

// NewOps builds the server. A nil probe means always serving.
func NewOps(log *zap.Logger, withReflection bool, probe Probe, interval time.Duration) *Ops {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if withReflection {
		reflection.Register(srv)
	}
	o := &Ops{srv: srv, health: hs, probe: probe, interval: interval, log: log}
	o.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return o
}

func (o *Ops) set(st healthpb.HealthCheckResponse_ServingStatus) {
	o.health.SetServingStatus("", st)
	o.health.SetServingStatus(ServiceName, st)
}

// Check runs the probe once and publishes the result.
func (o *Ops) Check(ctx context.Context) bool {
	if o.probe == nil {
		o.set(healthpb.HealthCheckResponse_SERVING)
		return true
	}
	pctx, cancel := context.WithTimeout(ctx, o.interval)
	defer cancel()
	if err := o.probe(pctx); err != nil {
		o.log.Warn("health probe failed", zap.Error(err))
		o.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	o.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Monitor probes until ctx is done, then marks everything NOT_SERVING.
func (o *Ops) Monitor(ctx context.Context) {
	o.Check(ctx)
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			o.Check(ctx)
		case <-ctx.Done():
			o.health.Shutdown()
			return
		}
	}
}

// Serve blocks serving lis.
func (o *Ops) Serve(lis net.Listener) error { return o.srv.Serve(lis) }

// GracefulStop drains in-flight RPCs.
func (o *Ops) GracefulStop() {
	o.health.Shutdown()
	o.srv.GracefulStop()
}

// Stop closes all connections immediately.
func (o *Ops) Stop() { o.srv.Stop() }
