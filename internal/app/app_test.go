package app

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServingApp builds a memory-backed app listening on a free local port
func newServingApp(t *testing.T) (*MirrorApp, *blockingCoordinator) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	app, err := NewMirrorApp(context.Background(),
		WithConfig(testConfig(t.TempDir())),
		WithAddress(addr),
		WithHierarchyLister(stubLister{}),
		WithSources(&stubSource{}),
	)
	require.NoError(t, err)

	coord := newBlockingCoordinator()
	app.components.SyncCoordinator = coord
	return app, coord
}

func TestMirrorApp_StartStop(t *testing.T) {
	t.Parallel()

	app, coord := newServingApp(t)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	url := "http://" + app.GetHTTPServer().Addr + "/health"
	require.True(t, waitFor(func() bool {
		resp, err := http.Get(url) //nolint:gosec // test URL
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}), "server never became healthy")
	assert.True(t, coord.wasStartCalled())

	require.NoError(t, app.Stop(5*time.Second))
	assert.True(t, coord.wasStopCalled())

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	// Stop and Close after Stop are safe
	app.Close()
}

func TestMirrorApp_StartError_AddressInUse(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	app, coord := newServingApp(t)
	app.httpServer.Addr = listener.Addr().String()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP server failed")
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not fail on a busy address")
	}
	assert.True(t, waitFor(coord.wasStartCalled))
	app.Close()
}

func TestMirrorApp_Accessors(t *testing.T) {
	t.Parallel()

	app, _ := newServingApp(t)
	t.Cleanup(app.Close)

	assert.Equal(t, testTenancy, app.GetConfig().TenancyID)
	assert.NotNil(t, app.GetHTTPServer())
	assert.NotNil(t, app.Components().Runner)
	assert.NotNil(t, app.Components().History)
}
