package collector

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type Capabilities struct {
	HasDockerSocket bool
	HasHostPID      bool
	HasProcFS       bool
}

var (
	caps     Capabilities
	capsOnce sync.Once
)

const dockerSocket = "/var/run/docker.sock"

// DetectCapabilities probes the host once and logs what the agent can see
func DetectCapabilities(log *zap.Logger) Capabilities {
	capsOnce.Do(func() {
		caps = Capabilities{
			HasDockerSocket: fileExists(dockerSocket),
			HasHostPID:      detectHostPID(),
			HasProcFS:       fileExists("/proc/self/stat"),
		}

		log.Info("agent capabilities",
			zap.Bool("docker", caps.HasDockerSocket),
			zap.Bool("host_pid", caps.HasHostPID),
			zap.Bool("procfs", caps.HasProcFS),
		)
		if !caps.HasHostPID {
			log.Warn("running in a private PID namespace, only the agent's own processes are visible")
		}
	})
	return caps
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func detectHostPID() bool {
	data, err := os.ReadFile("/proc/1/cmdline")
	if err != nil {
		// no procfs (darwin, windows): the process table is the host's
		return true
	}
	return !isAgentCmdline(string(data))
}

// isAgentCmdline reports whether PID 1 is the agent itself
func isAgentCmdline(raw string) bool {
	cmdline := strings.ReplaceAll(raw, "\x00", " ")
	cmdline = strings.TrimSpace(strings.ToLower(cmdline))
	return strings.Contains(cmdline, "/agent") || strings.Contains(cmdline, "schedview")
}
