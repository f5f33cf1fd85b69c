// Package network associates the device with its access point and checks
// reachability.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/rs/zerolog/log"
)

var ErrUnreachable = errors.New("network unreachable")

// Connector brings the network session up for one cycle and releases it
// before the device powers down
type Connector interface {
	Connect(ctx context.Context, ssid, key string) error
	Connected(ctx context.Context) bool
	Disconnect(ctx context.Context) error
}

// runFunc executes an external command
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// probeFunc reports whether host answered
type probeFunc func(ctx context.Context, host string) (time.Duration, error)

// NMCLI connects through NetworkManager and probes a host with ping
type NMCLI struct {
	connectionID string
	probeHost    string
	timeout      time.Duration
	settle       time.Duration

	run   runFunc
	probe probeFunc

	// profile brought up by the last Connect; empty when the link was already up
	active string
}

// Options configures NMCLI
type Options struct {
	ConnectionID string // existing connection profile, preferred over ssid/key
	ProbeHost    string
	Timeout      time.Duration
	Settle       time.Duration
}

// NewNMCLI creates a NetworkManager-backed connector
func NewNMCLI(opts Options) *NMCLI {
	return &NMCLI{
		connectionID: opts.ConnectionID,
		probeHost:    opts.ProbeHost,
		timeout:      opts.Timeout,
		settle:       opts.Settle,
		run:          runCommand,
		probe:        ping,
	}
}

// Connect brings the connection up unless the probe host already answers.
// Returns an error wrapping ErrUnreachable when the host stays unreachable.
func (n *NMCLI) Connect(ctx context.Context, ssid, key string) error {
	n.active = ""
	if n.Connected(ctx) {
		log.Debug().Str("probe", n.probeHost).Msg("Network already reachable")
		return nil
	}

	profile := n.connectionID
	args := []string{"connection", "up", n.connectionID}
	if n.connectionID == "" {
		if ssid == "" {
			return fmt.Errorf("%w: no connection id or ssid configured", ErrUnreachable)
		}
		// nmcli names the profile it creates after the SSID
		profile = ssid
		args = []string{"device", "wifi", "connect", ssid}
		if key != "" {
			args = append(args, "password", key)
		}
	}

	cmdCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	start := time.Now()
	if out, err := n.run(cmdCtx, "nmcli", args...); err != nil {
		return fmt.Errorf("%w: nmcli %s: %v: %s", ErrUnreachable, args[0], err, strings.TrimSpace(string(out)))
	}
	n.active = profile

	if n.settle > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.settle):
		}
	}

	rtt, err := n.probe(ctx, n.probeHost)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %v", ErrUnreachable, n.probeHost, err)
	}

	log.Info().
		Dur("took", time.Since(start)).
		Dur("rtt", rtt).
		Msg("Network connected")
	return nil
}

// Disconnect takes down the profile the last Connect brought up.
// A link that was already up before the cycle is left alone.
func (n *NMCLI) Disconnect(ctx context.Context) error {
	if n.active == "" {
		return nil
	}
	profile := n.active
	n.active = ""

	cmdCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	if out, err := n.run(cmdCtx, "nmcli", "connection", "down", profile); err != nil {
		return fmt.Errorf("nmcli connection down %s: %v: %s", profile, err, strings.TrimSpace(string(out)))
	}
	log.Info().Str("profile", profile).Msg("Network released")
	return nil
}

// Connected reports whether the probe host answers
func (n *NMCLI) Connected(ctx context.Context) bool {
	if n.probeHost == "" {
		return false
	}
	_, err := n.probe(ctx, n.probeHost)
	return err == nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

func ping(ctx context.Context, host string) (time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return 0, err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return stats.AvgRtt, nil
	}
	return 0, fmt.Errorf("no response")
}

// Identity returns the first non-loopback hardware address, for logs
func Identity() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
