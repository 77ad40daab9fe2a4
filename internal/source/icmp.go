package source

import (
	"context"
	"fmt"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/HerbHall/printwatch/pkg/models"
)

// pingResult is the outcome of one reachability probe.
type pingResult struct {
	received int
}

// pingFunc probes a host. Replaced in tests.
type pingFunc func(ctx context.Context, host string, count int, timeout time.Duration) (pingResult, error)

// ICMPDriver reports a printer online when it answers ICMP echo and offline
// otherwise. It carries no supply information.
type ICMPDriver struct {
	timeout time.Duration
	count   int
	ping    pingFunc
}

// NewICMPDriver creates an ICMP driver with the given timeout and ping count.
func NewICMPDriver(timeout time.Duration, count int) *ICMPDriver {
	if count <= 0 {
		count = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ICMPDriver{timeout: timeout, count: count, ping: runPing}
}

// Fetch pings the target. An unreachable printer is a valid offline status;
// only failures to run the probe are errors.
func (d *ICMPDriver) Fetch(ctx context.Context, t Target) (models.DeviceStatus, error) {
	res, err := d.ping(ctx, t.Address, d.count, t.timeout(d.timeout))
	if err != nil {
		return models.DeviceStatus{}, err
	}
	st := models.DeviceStatus{State: models.StateOffline}
	if res.received > 0 {
		st.State = models.StateOnline
	}
	return st, nil
}

func runPing(ctx context.Context, host string, count int, timeout time.Duration) (pingResult, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return pingResult{}, fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = count
	pinger.Timeout = timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			return pingResult{}, fmt.Errorf("ping %s: %w", host, runErr)
		}
		stats := pinger.Statistics()
		return pingResult{received: stats.PacketsRecv}, nil
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return pingResult{}, ctx.Err()
	}
}
