package hook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/shmel1k/yblb/internal/balancer"
)

type hookerTestSuite struct {
	suite.Suite

	incident *balancer.Incident
	logger   zerolog.Logger
}

func (s *hookerTestSuite) SetupTest() {
	s.incident = &balancer.Incident{
		ID:          "a94e7310-13f0-4690-b136-169599e87ba0",
		ClusterName: "sandbox",
		Intent:      balancer.IntentReadWrite,
		Created:     1602849600,
		Error:       "cluster sandbox: no suitable host was found",
		NodeErrors:  []string{"host 10.0.0.1: connection refused", "host 10.0.0.2: connection refused"},
	}
	s.logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
}

func TestHooker(t *testing.T) {
	suite.Run(t, &hookerTestSuite{})
}

func (s *hookerTestSuite) Test_ExecuteProcesses() {
	t := s.T()

	env := []string{
		fmt.Sprintf("YBLB_INCIDENT_ID=%s", s.incident.ID),
		fmt.Sprintf("YBLB_CLUSTER=%s", s.incident.ClusterName),
		fmt.Sprintf("YBLB_INTENT=%s", s.incident.Intent),
		fmt.Sprintf("YBLB_ERROR=%s", s.incident.Error),
		"YBLB_COUNT_NODE_ERRORS=2",
		fmt.Sprintf("YBLB_CREATED=%d", s.incident.Created),
	}

	hooker := NewBashHooker(s.logger)
	filename := filepath.Join(t.TempDir(), "yblb-hook-test")

	hooker.AddHook(HookNoSuitableHost, fmt.Sprintf("touch %s", filename))
	hooker.AddHook(HookNoSuitableHost, fmt.Sprintf("echo $(printenv | grep YBLB_) >> %s", filename))
	require.True(t, hooker.HasHooks(HookNoSuitableHost))

	err := hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, true)
	require.Nil(t, err)

	assert.ElementsMatch(t, env, findInFile(t, filename, env))
}

func (s *hookerTestSuite) Test_ExecuteProcesses_NoHooks() {
	t := s.T()

	hooker := NewBashHooker(s.logger)
	assert.False(t, hooker.HasHooks(HookNoSuitableHost))
	assert.Nil(t, hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, true))
}

func (s *hookerTestSuite) Test_ExecuteProcesses_Async() {
	t := s.T()

	hooker := NewBashHooker(s.logger)

	start := time.Now()
	hooker.AddHook(HookNoSuitableHost, "&sleep 3")
	err := hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, true)
	end := time.Now()
	assert.Nil(t, err)
	assert.WithinDuration(t, start, end, 1*time.Second)
}

func (s *hookerTestSuite) Test_ExecuteProcesses_FailOnError() {
	t := s.T()

	hooker := NewBashHooker(s.logger)
	filename := filepath.Join(t.TempDir(), "yblb-hook-test")

	hooker.AddHook(HookNoSuitableHost, "exit 1")
	hooker.AddHook(HookNoSuitableHost, fmt.Sprintf("touch %s", filename))

	err := hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, true)
	assert.NotNil(t, err)
	_, statErr := os.Stat(filename)
	assert.True(t, os.IsNotExist(statErr))

	err = hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, false)
	assert.NotNil(t, err)
	_, statErr = os.Stat(filename)
	assert.Nil(t, statErr)
}

func (s *hookerTestSuite) Test_ExecuteProcesses_Timeout() {
	t := s.T()

	hooker := NewBashHooker(s.logger)
	hooker.SetTimeout(100 * time.Millisecond)
	hooker.AddHook(HookNoSuitableHost, "sleep 5")

	start := time.Now()
	err := hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, true)
	assert.NotNil(t, err)
	assert.WithinDuration(t, start, time.Now(), 2*time.Second)
}

func (s *hookerTestSuite) Test_ExecuteProcesses_CheckArguments() {
	t := s.T()

	args := []string{
		"incidentID",
		"cluster",
		"intent",
		"countNodeErrors",
	}
	expectedArgs := []string{
		fmt.Sprintf("incidentID=%s", s.incident.ID),
		fmt.Sprintf("cluster=%s", s.incident.ClusterName),
		fmt.Sprintf("intent=%s", s.incident.Intent),
		"countNodeErrors=2",
	}

	hooker := NewBashHooker(s.logger)
	filename := filepath.Join(t.TempDir(), "yblb-hook-test")

	hooker.AddHook(HookNoSuitableHost, fmt.Sprintf("touch %s", filename))
	for _, arg := range args {
		hooker.AddHook(HookNoSuitableHost, fmt.Sprintf("echo '%s={%s}' >> %s", arg, arg, filename))
	}

	err := hooker.ExecuteProcesses(HookNoSuitableHost, s.incident, true)
	require.Nil(t, err)

	assert.Equal(t, expectedArgs, findInFile(t, filename, expectedArgs))
}

func findInFile(t *testing.T, filename string, expected []string) []string {
	t.Helper()

	f, err := os.Open(filename)
	require.Nil(t, err)
	defer func() { _ = f.Close() }()

	found := make([]string, 0, len(expected))
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		for _, e := range expected {
			if strings.Contains(line, e) {
				found = append(found, e)
			}
		}
	}

	return found
}
