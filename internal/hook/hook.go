package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shmel1k/yblb/internal/balancer"
)

type HookType string

const (
	HookNoSuitableHost HookType = "NoSuitableHost"
)

const (
	ShellBash = "bash"
)

type Hooker struct {
	processesShellCommand string
	processes             map[HookType][]string
	timeout               time.Duration
	timeoutAsync          time.Duration
	logger                zerolog.Logger
}

func NewHooker(shell string, logger zerolog.Logger) *Hooker {
	return &Hooker{
		processesShellCommand: shell,
		processes:             make(map[HookType][]string),
		timeout:               2 * time.Second,
		timeoutAsync:          10 * time.Minute,
		logger:                logger,
	}
}

func NewBashHooker(logger zerolog.Logger) *Hooker {
	return NewHooker(ShellBash, logger)
}

// SetTimeout sets timeout for basic hook.
func (h *Hooker) SetTimeout(t time.Duration) {
	h.timeout = t
}

// SetTimeoutAsync sets timeout for async hook.
func (h *Hooker) SetTimeoutAsync(t time.Duration) {
	h.timeoutAsync = t
}

func (h *Hooker) AddHook(t HookType, commands ...string) {
	h.processes[t] = append(h.processes[t], commands...)
}

func (h *Hooker) HasHooks(t HookType) bool {
	return len(h.processes[t]) > 0
}

// ExecuteProcesses runs the hooks of the given type one by one.
// Commands prefixed with & are started in background.
func (h *Hooker) ExecuteProcesses(t HookType, incident *balancer.Incident, failOnError bool) (err error) {
	processes := h.processes[t]
	if len(processes) == 0 {
		h.logger.Debug().Msgf("No %s hooks to run", t)
		return nil
	}

	h.logger.Info().Msgf("Running %d %s hooks", len(processes), t)
	env := applyEnvironmentVariables(incident)
	for i, process := range processes {
		command, async := prepareCommand(process, incident)

		fullDescription := fmt.Sprintf("%s hook %d of %d", t, i+1, len(processes))
		if async {
			fullDescription = fmt.Sprintf("%s (async)", fullDescription)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), h.timeoutAsync)
				_ = h.executeProcess(ctx, command, env, fullDescription)
				cancel()
			}()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		cmdErr := h.executeProcess(ctx, command, env, fullDescription)
		cancel()

		if cmdErr != nil {
			if failOnError {
				h.logger.Warn().Msgf("Not running further %s hooks", t)
				return cmdErr
			}
			if err == nil {
				// Keep first error encountered.
				err = cmdErr
			}
		}
	}
	h.logger.Info().Msgf("Done running %s hooks", t)

	return err
}

func (h *Hooker) executeProcess(ctx context.Context, command string, env []string, fullDescription string) error {
	h.logger.Info().Msgf("Running %s: %s", fullDescription, command)
	start := time.Now()

	cmd := exec.CommandContext(ctx, h.processesShellCommand, "-c", command) //nolint:gosec
	cmd.Env = env

	err := cmd.Run()
	if err == nil {
		h.logger.Info().Msgf("Completed %s in %v", fullDescription, time.Since(start))
	} else {
		h.logger.Error().Msgf("Execution of %s failed in %v with error: %v", fullDescription, time.Since(start), err)
	}

	return err
}

// prepareCommand replaces agreed-upon placeholders with incident data.
func prepareCommand(command string, incident *balancer.Incident) (result string, async bool) {
	command = strings.TrimSpace(command)
	if strings.HasPrefix(command, "&") {
		command = strings.TrimLeft(command, "&")
		async = true
	}

	r := strings.NewReplacer(
		"{incidentID}", incident.ID,
		"{cluster}", incident.ClusterName,
		"{intent}", string(incident.Intent),
		"{countNodeErrors}", strconv.Itoa(len(incident.NodeErrors)),
	)

	return r.Replace(command), async
}

// applyEnvironmentVariables exposes the incident to the hook process.
// The error text goes only through the environment since it is not shell-safe.
func applyEnvironmentVariables(incident *balancer.Incident) []string {
	env := os.Environ()

	env = append(env, fmt.Sprintf("YBLB_INCIDENT_ID=%s", incident.ID))
	env = append(env, fmt.Sprintf("YBLB_CLUSTER=%s", incident.ClusterName))
	env = append(env, fmt.Sprintf("YBLB_INTENT=%s", incident.Intent))
	env = append(env, fmt.Sprintf("YBLB_ERROR=%s", incident.Error))
	env = append(env, fmt.Sprintf("YBLB_COUNT_NODE_ERRORS=%d", len(incident.NodeErrors)))
	env = append(env, fmt.Sprintf("YBLB_CREATED=%d", incident.Created))

	return env
}
