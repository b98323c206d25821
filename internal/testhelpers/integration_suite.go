package testhelpers

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/dbehnke/intercom-bridge/pkg/config"
	"github.com/dbehnke/intercom-bridge/pkg/logger"
)

// IntegrationSuite provides infrastructure for integration tests
type IntegrationSuite struct {
	T         *testing.T
	Logger    *logger.Logger
	Ctx       context.Context
	Cancel    context.CancelFunc
	MockPeers []*MockPeer
}

// NewIntegrationSuite creates a new integration test suite
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	log := logger.New(logger.Config{
		Level:  "error",
		Format: "text",
	})

	return &IntegrationSuite{
		T:         t,
		Logger:    log,
		Ctx:       ctx,
		Cancel:    cancel,
		MockPeers: make([]*MockPeer, 0),
	}
}

// CreateMockPeer creates a new mock peer and adds it to the suite
func (s *IntegrationSuite) CreateMockPeer() *MockPeer {
	peer := NewMockPeer()
	s.MockPeers = append(s.MockPeers, peer)
	return peer
}

// GetFreeUDPPort gets a free UDP port for testing
func (s *IntegrationSuite) GetFreeUDPPort() int {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		s.T.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

// Cleanup cleans up resources
func (s *IntegrationSuite) Cleanup() {
	for _, peer := range s.MockPeers {
		_ = peer.Close()
	}
	s.Cancel()
}

// WaitFor waits for a condition to be true
func (s *IntegrationSuite) WaitFor(condition func() bool, timeout time.Duration, message string) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.T.Logf("WaitFor timeout: %s", message)
	return false
}

// AssertEventually asserts that a condition becomes true within timeout
func (s *IntegrationSuite) AssertEventually(condition func() bool, timeout time.Duration, message string) {
	if !s.WaitFor(condition, timeout, message) {
		s.T.Errorf("Assertion failed: %s", message)
	}
}

// CreateNodeConfig returns a loopback configuration for one node with all
// outer surfaces disabled.
func CreateNodeConfig(role string, port, peerPort int) *config.Config {
	cfg := config.Default(role)
	cfg.Node.BindAddress = "127.0.0.1"
	cfg.Node.Port = port
	cfg.Node.PeerAddress = ""
	if peerPort > 0 {
		cfg.Node.PeerAddress = fmt.Sprintf("127.0.0.1:%d", peerPort)
	}
	cfg.Node.PollInterval = 20 * time.Millisecond
	cfg.Status.Interval = 100 * time.Millisecond
	cfg.Web.Enabled = false
	cfg.Database.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Logging.Level = "error"
	return cfg
}
