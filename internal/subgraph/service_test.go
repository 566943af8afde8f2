package subgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/gema/internal/bus"
	"github.com/danmuck/gema/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func testServiceConfig(hub string, policy BusPolicy) ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.HeartbeatInterval = 0
	cfg.Bus.Policy = policy
	cfg.Bus.Config = testBusConfig()
	cfg.Bus.Config.URL = "mem://" + hub
	return cfg
}

func startService(t *testing.T, cfg ServiceConfig) (*Service, func()) {
	t.Helper()
	svc := NewServiceWithConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.RunContext(ctx)
	}()
	require.Eventually(t, func() bool { return svc.Addr() != "" }, 2*time.Second, 5*time.Millisecond)
	return svc, func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("service did not stop")
		}
	}
}

func mutateOverHTTP(t *testing.T, addr, operation string, by int64) int64 {
	t.Helper()
	body := `{"operationName":"` + operation + `","variables":{"by":` + jsonInt(by) + `}}`
	resp, err := http.Post("http://"+addr+"/graphql", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data map[string]int64 `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.Data[operation]
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestServiceBootstrapRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testServiceConfig("svc-invalid", BusPolicySync)
	cfg.Profile = "bad.profile"
	err := NewServiceWithConfig(cfg).RunContext(context.Background())
	require.ErrorIs(t, err, ErrInvalidProfile)

	cfg = testServiceConfig("svc-invalid", BusPolicySync)
	cfg.Bus.Config.URL = "amqp://broker"
	err = NewServiceWithConfig(cfg).RunContext(context.Background())
	require.ErrorIs(t, err, bus.ErrUnsupportedScheme)
}

func TestServiceServesAndStops(t *testing.T) {
	testlog.Start(t)
	svc, stop := startService(t, testServiceConfig("svc-serve", BusPolicyPublish))

	require.Equal(t, int64(4), mutateOverHTTP(t, svc.Addr(), "subgraphIncrementValue", 4))
	require.Equal(t, int64(4), svc.Node().Query())

	msgs := bus.MemoryHub("svc-serve").Messages(bus.Subject("subgraph"))
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"value":4}`, string(msgs[0]))

	stop()
	_, err := http.Get("http://" + svc.Addr() + "/health")
	require.Error(t, err)
}

func TestServiceSiblingsConvergeOverBus(t *testing.T) {
	testlog.Start(t)
	first := testServiceConfig("svc-siblings", BusPolicySync)
	second := testServiceConfig("svc-siblings", BusPolicySync)
	second.Number = 2

	a, stopA := startService(t, first)
	defer stopA()
	b, stopB := startService(t, second)
	defer stopB()

	require.Eventually(t, func() bool {
		v := mutateOverHTTP(t, a.Addr(), "subgraphIncrementValue", 1)
		return b.Node().Query() == v
	}, 2*time.Second, 10*time.Millisecond)

	v := mutateOverHTTP(t, b.Addr(), "subgraphIncrementValue", 10)
	require.Eventually(t, func() bool { return a.Node().Query() == v }, 2*time.Second, 5*time.Millisecond)
}

func TestServiceHeadlessIgnoresBusURL(t *testing.T) {
	testlog.Start(t)
	cfg := testServiceConfig("svc-headless", BusPolicyHeadless)
	cfg.Bus.Config.URL = "nats://127.0.0.1:1"
	svc, stop := startService(t, cfg)
	defer stop()

	require.Equal(t, int64(1), mutateOverHTTP(t, svc.Addr(), "subgraphIncrementValue", 1))
	require.Equal(t, "headless", svc.Node().BusState())
}

func TestRedactURL(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, "redis://***@cache:6379/0", redactURL("redis://user:pw@cache:6379/0", BusPolicySync))
	require.Equal(t, "nats://127.0.0.1:4222", redactURL("nats://127.0.0.1:4222", BusPolicyPublish))
	require.Equal(t, "", redactURL("nats://127.0.0.1:4222", BusPolicyHeadless))
}
