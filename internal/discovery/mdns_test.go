//go:build !windows

package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/config"
	"github.com/HerbHall/printwatch/internal/testutil"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

func testDeps() plugin.Dependencies {
	v := viper.New()
	v.Set("interval", "1h")
	v.Set("timeout", "10ms")
	return plugin.Dependencies{
		Config: config.New(v),
		Logger: zap.NewNop(),
		Bus:    testutil.NewMockBus(),
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Services = []string{"_ipp._tcp"}
	cfg.Timeout = 10 * time.Millisecond
	return cfg
}

func TestMDNSListener_PublishesPrinters(t *testing.T) {
	bus := testutil.NewMockBus()
	l := NewMDNSListener(bus, zap.NewNop(), testConfig())
	l.query = func(p *mdns.QueryParam) error {
		p.Entries <- &mdns.ServiceEntry{
			Name:       `Office\ Copier._ipp._tcp.local.`,
			Host:       "BRN3C2AF4.local.",
			AddrV4:     net.ParseIP("192.168.1.50"),
			InfoFields: []string{"ty=Brother MFC-L8900CDW", "note=2nd floor", "rp=ipp/print"},
		}
		// Same address again is deduplicated.
		p.Entries <- &mdns.ServiceEntry{Name: "dup", AddrV4: net.ParseIP("192.168.1.50")}
		p.Entries <- &mdns.ServiceEntry{Name: "no address"}
		p.Entries <- nil
		return nil
	}

	l.scan(context.Background())

	events := bus.EventsFor(TopicPrinterDiscovered)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev, ok := events[0].Payload.(*PrinterEvent)
	if !ok {
		t.Fatalf("payload type = %T, want *PrinterEvent", events[0].Payload)
	}
	want := PrinterEvent{
		DeviceID: "mdns-brn3c2af4",
		Name:     "Office Copier",
		Address:  "192.168.1.50",
		Service:  "_ipp._tcp",
		Model:    "Brother MFC-L8900CDW",
		Location: "2nd floor",
	}
	if *ev != want {
		t.Errorf("event = %+v, want %+v", *ev, want)
	}
}

func TestMDNSListener_QueryErrorLogged(t *testing.T) {
	bus := testutil.NewMockBus()
	l := NewMDNSListener(bus, zap.NewNop(), testConfig())
	l.query = func(*mdns.QueryParam) error { return errors.New("no multicast interface") }

	l.scan(context.Background())
	if n := len(bus.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestMDNSListener_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 10 * time.Minute
	l := NewMDNSListener(nil, zap.NewNop(), cfg)
	l.query = func(*mdns.QueryParam) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestDeviceID(t *testing.T) {
	tests := []struct {
		host, ip, want string
	}{
		{"HP-LaserJet-M404.local", "10.0.0.2", "mdns-hp-laserjet-m404"},
		{"Canon_iR C3226.local", "10.0.0.3", "mdns-canon-ir-c3226"},
		{"", "10.0.0.4", "mdns-10-0-0-4"},
	}
	for _, tt := range tests {
		if got := deviceID(tt.host, tt.ip); got != tt.want {
			t.Errorf("deviceID(%q, %q) = %q, want %q", tt.host, tt.ip, got, tt.want)
		}
	}
}

func TestModule_Lifecycle(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), testDeps()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m.listener.query = func(*mdns.QueryParam) error { return nil }
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.cfg.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", m.cfg.Interval)
	}
	if h := m.Health(context.Background()); h.Status != "healthy" {
		t.Errorf("Health = %+v", h)
	}
}
