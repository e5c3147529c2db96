package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/censord/internal/core/domain"
)

type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(ctx context.Context, addr domain.WorkerAddress) (domain.RegistrationStatus, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(domain.RegistrationStatus), args.Error(1)
}

func (m *MockRegistrar) Unregister(ctx context.Context, addr domain.WorkerAddress) (domain.RegistrationStatus, error) {
	args := m.Called(ctx, addr)
	return args.Get(0).(domain.RegistrationStatus), args.Error(1)
}

func startAgent(t *testing.T, reg *MockRegistrar) *Server {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	s := NewServer(logger, Config{Listen: "127.0.0.1:0"}, reg, domain.DefaultInsultSet())
	require.NoError(t, s.Start(context.Background()))
	return s
}

func process(t *testing.T, addr domain.WorkerAddress, req ProcessRequest) (*http.Response, ProcessResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(string(addr)+"/process", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out ProcessResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestServer_RegistersAndProcesses(t *testing.T) {
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, mock.MatchedBy(func(a domain.WorkerAddress) bool {
		return strings.HasPrefix(string(a), "http://127.0.0.1:")
	})).Return(domain.StatusRegistered, nil)
	reg.On("Unregister", mock.Anything, mock.Anything).Return(domain.StatusUnregistered, nil)

	s := startAgent(t, reg)

	resp, out := process(t, s.Address(), ProcessRequest{Text: "you STUPID dummy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "you CENSORED CENSORED", out.Filtered)
	assert.Equal(t, string(s.Address()), out.Worker)

	// Insults in the request override the agent's own set.
	resp, out = process(t, s.Address(), ProcessRequest{Text: "you stupid banana", Insults: []string{"banana"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "you stupid CENSORED", out.Filtered)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	reg.AssertCalled(t, "Unregister", mock.Anything, s.Address())
	reg.AssertExpectations(t)
}

func TestServer_Health(t *testing.T) {
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, mock.Anything).Return(domain.StatusRegistered, nil)
	reg.On("Unregister", mock.Anything, mock.Anything).Return(domain.StatusUnregistered, nil)
	s := startAgent(t, reg)
	defer s.Shutdown(context.Background())

	process(t, s.Address(), ProcessRequest{Text: "x"})

	resp, err := http.Get(string(s.Address()) + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "alive", health.Status)
	assert.Equal(t, int64(1), health.Processed)
}

func TestServer_BadRequest(t *testing.T) {
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, mock.Anything).Return(domain.StatusRegistered, nil)
	reg.On("Unregister", mock.Anything, mock.Anything).Return(domain.StatusUnregistered, nil)
	s := startAgent(t, reg)
	defer s.Shutdown(context.Background())

	resp, err := http.Post(string(s.Address())+"/process", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RegistrationFailureAbortsStart(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, mock.Anything).Return(domain.RegistrationStatus(""), errors.New("connection refused"))

	s := NewServer(logger, Config{Listen: "127.0.0.1:0"}, reg, domain.DefaultInsultSet())
	err := s.Start(context.Background())

	require.Error(t, err)
	_, err = http.Get(string(s.Address()) + "/health")
	assert.Error(t, err, "server should be closed after a failed registration")
}

func TestServer_UnregisterFailureIsNotFatal(t *testing.T) {
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, mock.Anything).Return(domain.StatusRegistered, nil)
	reg.On("Unregister", mock.Anything, mock.Anything).Return(domain.RegistrationStatus(""), errors.New("dispatcher down"))
	s := startAgent(t, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}

func TestServer_AdvertisedAddress(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, domain.WorkerAddress("http://worker-7:9000")).Return(domain.StatusRegistered, nil)
	reg.On("Unregister", mock.Anything, mock.Anything).Return(domain.StatusUnregistered, nil)

	s := NewServer(logger, Config{Listen: "127.0.0.1:0", Advertise: "http://worker-7:9000/"}, reg, domain.DefaultInsultSet())
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	assert.Equal(t, domain.WorkerAddress("http://worker-7:9000"), s.Address())
	reg.AssertExpectations(t)
}

func TestServer_DrainingRefusesJobs(t *testing.T) {
	reg := new(MockRegistrar)
	reg.On("Register", mock.Anything, mock.Anything).Return(domain.StatusRegistered, nil)
	reg.On("Unregister", mock.Anything, mock.Anything).Return(domain.StatusUnregistered, nil)
	s := startAgent(t, reg)
	defer s.Shutdown(context.Background())

	s.draining.Store(true)
	resp, _ := process(t, s.Address(), ProcessRequest{Text: "x"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
