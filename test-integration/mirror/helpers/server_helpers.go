package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/stacklok/inventory-mirror/internal/api/v1"
	mirrorapp "github.com/stacklok/inventory-mirror/internal/app"
	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/status"
)

// ServerTestHelper manages the mirror application lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	upstream   *FakeUpstream
	baseURL    string
	httpClient *http.Client
	app        *mirrorapp.MirrorApp
	port       int
}

// NewServerTestHelper creates a helper serving on a free local port
func NewServerTestHelper(ctx context.Context, configPath string, upstream *FakeUpstream) *ServerTestHelper {
	port := freePort()
	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		upstream:   upstream,
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		port: port,
	}
}

func freePort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

// StartServer builds the application and starts it in the background
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := mirrorapp.NewMirrorApp(s.ctx,
		mirrorapp.WithConfig(cfg),
		mirrorapp.WithAddress(fmt.Sprintf("127.0.0.1:%d", s.port)),
		mirrorapp.WithHierarchyLister(s.upstream),
		mirrorapp.WithSources(s.upstream),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	s.app = app

	go func() {
		if err := app.Start(); err != nil {
			// The test fails when it tries to connect
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
	}()

	return nil
}

// StopServer gracefully stops the application
func (s *ServerTestHelper) StopServer() error {
	if s.app != nil {
		return s.app.Stop(5 * time.Second)
	}
	return nil
}

// WaitForServerReady waits for the readiness endpoint to report ready
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() error {
		resp, err := s.httpClient.Get(s.baseURL + "/readiness")
		if err != nil {
			return err
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		}
		return nil
	}, timeout, 200*time.Millisecond).Should(gomega.Succeed(), "Server should be ready")
}

// GetHealth makes a GET request to /health
func (s *ServerTestHelper) GetHealth() (*http.Response, error) {
	return s.httpClient.Get(s.baseURL + "/health")
}

// GetLatestRun fetches /v1/runs/latest, returning nil while no run was recorded
func (s *ServerTestHelper) GetLatestRun() (*status.RunReport, error) {
	resp, err := s.httpClient.Get(s.baseURL + "/v1/runs/latest")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var report status.RunReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListRuns fetches /v1/runs with limit
func (s *ServerTestHelper) ListRuns(limit int) (*v1.RunListResponse, error) {
	resp, err := s.httpClient.Get(fmt.Sprintf("%s/v1/runs?limit=%d", s.baseURL, limit))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var runs v1.RunListResponse
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return nil, err
	}
	return &runs, nil
}

// GetMirroredIDs fetches /v1/kinds/{kind}/ids for the region scope
func (s *ServerTestHelper) GetMirroredIDs(kind, region string) ([]string, error) {
	resp, err := s.httpClient.Get(fmt.Sprintf("%s/v1/kinds/%s/ids?region=%s", s.baseURL, kind, region))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var ids v1.MirrorIDsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, err
	}
	return ids.IDs, nil
}

// WaitForRun waits until the latest run differs from previous and returns it
func (s *ServerTestHelper) WaitForRun(previous string, timeout time.Duration) *status.RunReport {
	var report *status.RunReport
	gomega.Eventually(func() error {
		latest, err := s.GetLatestRun()
		if err != nil {
			return err
		}
		if latest == nil || latest.RunID == previous || latest.Phase == status.SyncPhaseSyncing {
			return fmt.Errorf("no new finished run yet")
		}
		report = latest
		return nil
	}, timeout, 100*time.Millisecond).Should(gomega.Succeed(), "a new run should be recorded")
	return report
}

// GetBaseURL returns the base URL of the server
func (s *ServerTestHelper) GetBaseURL() string {
	return s.baseURL
}
