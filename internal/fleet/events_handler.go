package fleet

import (
	"context"

	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/discovery"
	"github.com/HerbHall/printwatch/internal/source"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: discovery.TopicPrinterDiscovered, Handler: m.handlePrinterDiscovered},
	}
}

// handlePrinterDiscovered starts monitoring a printer found on the network
// unless a configured target already covers its id or address.
func (m *Module) handlePrinterDiscovered(ctx context.Context, event plugin.Event) {
	if m.monitor == nil {
		return
	}
	pe, ok := event.Payload.(*discovery.PrinterEvent)
	if !ok {
		m.logger.Warn("unexpected payload type for printer discovered event")
		return
	}
	if pe.DeviceID == "" || pe.Address == "" {
		m.logger.Debug("printer discovered event missing id or address")
		return
	}

	for _, t := range m.router.Targets() {
		if t.ID == pe.DeviceID || t.Address == pe.Address {
			return // Already known.
		}
	}

	t := source.Target{
		ID:          pe.DeviceID,
		DisplayName: pe.Name,
		Location:    pe.Location,
		Model:       pe.Model,
		Driver:      m.cfg.DiscoveryDriver,
		Address:     pe.Address,
		Community:   m.cfg.DiscoveryCommunity,
	}
	if err := m.startDevice(ctx, t); err != nil {
		m.logger.Warn("failed to monitor discovered printer",
			zap.String("device_id", pe.DeviceID),
			zap.String("address", pe.Address),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("monitoring discovered printer",
		zap.String("device_id", t.ID),
		zap.String("address", t.Address),
		zap.String("driver", t.Driver),
	)
}
