package metrics

import (
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// NewGRPCServerMetrics регистрирует interceptor-метрики gRPC-сервера health-проб.
func NewGRPCServerMetrics(registerer prometheus.Registerer) *promgrpc.ServerMetrics {
	return register(registerer, promgrpc.NewServerMetrics(), "grpc_server")
}
