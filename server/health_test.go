package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/teranos/yoman/pulse/circuit"
	"github.com/teranos/yoman/transport"
)

func startHealth(t *testing.T) (*Health, healthpb.HealthClient) {
	t.Helper()
	h := New("bufnet", zaptest.NewLogger(t).Sugar())
	lis := bufconn.Listen(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, h.ServeListener(ctx, lis))
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		<-done
	})
	return h, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthFollowsCircuit(t *testing.T) {
	h, client := startHealth(t)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, DispatchService))

	b := circuit.New(circuit.Config{FailureThreshold: 1, Cooldown: time.Hour}, zaptest.NewLogger(t).Sugar())
	h.Follow(b)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, DispatchService))

	b.Signal(transport.Event{Kind: transport.Disconnected, At: time.Now(), Detail: "phone offline"})
	assert.Equal(t, circuit.Open, b.State())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, DispatchService))

	b.Signal(transport.Event{Kind: transport.Connected, At: time.Now()})
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, DispatchService))
}

func TestHealthHalfOpenServes(t *testing.T) {
	h, client := startHealth(t)
	h.SetCircuit(circuit.HalfOpen)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, DispatchService))
}
