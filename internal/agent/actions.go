package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"example.com/openrobot-bhv/internal/agent/behavior"
	sshc "example.com/openrobot-bhv/internal/ssh"
)

// Sleep is a timed wait leaf. It succeeds after d; an abandoned Sleep stops
// its timer and fails.
func Sleep(d time.Duration) behavior.Composite {
	return sleepNamed("Sleep", d, behavior.Success)
}

func sleepNamed(name string, d time.Duration, outcome behavior.Status) behavior.Composite {
	return behavior.GoAction(name, func(ctx context.Context) behavior.Status {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			return outcome
		case <-ctx.Done():
			return behavior.Failure
		}
	})
}

// Logf is a leaf that logs a line and succeeds.
func Logf(format string, args ...interface{}) behavior.Composite {
	return behavior.Action(func() behavior.Status {
		log.Printf("[tree] "+format, args...)
		return behavior.Success
	})
}

// Exec runs a local command. Abandoning the leaf kills the process.
func Exec(name string, args ...string) behavior.Composite {
	return behavior.GoAction("Exec", func(ctx context.Context) behavior.Status {
		cmd := exec.CommandContext(ctx, name, args...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			log.Printf("[agent] %s %s failed: %v: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
			return behavior.Failure
		}
		log.Printf("[agent] ran %s %s", name, strings.Join(args, " "))
		return behavior.Success
	})
}

// RestartCommand returns the command used to restart ROS, either from
// ROS_RESTART_CMD or as a systemctl restart of ROS_SERVICE_NAME.
func RestartCommand() []string {
	if cmd := os.Getenv("ROS_RESTART_CMD"); cmd != "" {
		parts := strings.Fields(cmd)
		if len(parts) >= 1 {
			return parts
		}
	}
	service := os.Getenv("ROS_SERVICE_NAME")
	if service == "" {
		service = "ros"
	}
	return []string{"systemctl", "restart", service}
}

// Publisher is the subset of the MQTT client the leaves need.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Publish sends the payload produced at run time to topic.
func Publish(p Publisher, topic string, payload func() []byte) behavior.Composite {
	return behavior.GoAction("Publish", func(ctx context.Context) behavior.Status {
		if err := p.Publish(topic, payload()); err != nil {
			log.Printf("[agent] publish %s: %v", topic, err)
			return behavior.Failure
		}
		return behavior.Success
	})
}

// HostSource resolves the peer to talk to when the leaf starts.
type HostSource func() (sshc.HostSpec, error)

// PeerHost loads the peer's credentials from the config.
func PeerHost(peer *PeerConfig) HostSource {
	return func() (sshc.HostSpec, error) {
		if peer == nil {
			return sshc.HostSpec{}, fmt.Errorf("no peer configured")
		}
		h := sshc.HostSpec{Addr: peer.Addr, User: peer.User, Password: peer.Password}
		if peer.KeyPath != "" {
			key, err := os.ReadFile(peer.KeyPath)
			if err != nil {
				return h, fmt.Errorf("read key %s: %w", peer.KeyPath, err)
			}
			h.PrivateKey = key
		}
		return h, h.Validate()
	}
}

// RemoteExec runs cmd on a peer over SSH.
func RemoteExec(host HostSource, cmd string) behavior.Composite {
	return behavior.GoAction("RemoteExec", func(ctx context.Context) behavior.Status {
		h, err := host()
		if err != nil {
			log.Printf("[agent] remote exec: %v", err)
			return behavior.Failure
		}
		if _, err := sshc.Run(ctx, h, cmd); err != nil {
			log.Printf("[agent] remote exec on %s: %v", h.Addr, err)
			return behavior.Failure
		}
		return behavior.Success
	})
}

// UploadFile copies the data produced at run time to dst on a peer.
func UploadFile(host HostSource, dst string, data func() []byte) behavior.Composite {
	return behavior.GoAction("UploadFile", func(ctx context.Context) behavior.Status {
		h, err := host()
		if err != nil {
			log.Printf("[agent] upload: %v", err)
			return behavior.Failure
		}
		if err := sshc.Upload(ctx, h, dst, data(), 0o644); err != nil {
			log.Printf("[agent] upload to %s:%s: %v", h.Addr, dst, err)
			return behavior.Failure
		}
		log.Printf("[agent] uploaded %s to %s", dst, h.Addr)
		return behavior.Success
	})
}
