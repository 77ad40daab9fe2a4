//go:build windows

package discovery

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

var printerServices = []string{"_ipp._tcp"}

// MDNSListener is a no-op on Windows where multicast DNS is not reliably
// supported.
type MDNSListener struct{}

// NewMDNSListener returns a no-op listener on Windows.
func NewMDNSListener(_ plugin.EventBus, _ *zap.Logger, _ Config) *MDNSListener {
	return &MDNSListener{}
}

// Run blocks until ctx is cancelled.
func (l *MDNSListener) Run(ctx context.Context) {
	<-ctx.Done()
}
