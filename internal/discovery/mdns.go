//go:build !windows

package discovery

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/pkg/plugin"
)

// printerServices lists the mDNS service types printers announce.
var printerServices = []string{
	"_ipp._tcp",
	"_ipps._tcp",
	"_printer._tcp",
	"_pdl-datastream._tcp",
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9-]+`)

// queryFunc runs one mDNS query. Replaced in tests.
type queryFunc func(params *mdns.QueryParam) error

// MDNSListener periodically queries printer service types and publishes
// each newly seen printer.
type MDNSListener struct {
	bus      plugin.EventBus
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
	services []string
	query    queryFunc

	mu   sync.Mutex
	seen map[string]time.Time // address -> last announced
}

// NewMDNSListener creates a listener for the configured services.
func NewMDNSListener(bus plugin.EventBus, logger *zap.Logger, cfg Config) *MDNSListener {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &MDNSListener{
		bus:      bus,
		logger:   logger,
		interval: cfg.Interval,
		timeout:  timeout,
		services: cfg.Services,
		query:    mdns.Query,
		seen:     make(map[string]time.Time),
	}
}

// Run scans immediately and then every interval until ctx is cancelled.
func (l *MDNSListener) Run(ctx context.Context) {
	l.logger.Info("mDNS listener started", zap.Duration("interval", l.interval))
	l.scan(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("mDNS listener stopped")
			return
		case <-ticker.C:
			l.scan(ctx)
		}
	}
}

func (l *MDNSListener) scan(ctx context.Context) {
	var found int
	for _, svc := range l.services {
		if ctx.Err() != nil {
			return
		}
		found += l.queryService(ctx, svc)
	}
	l.logger.Debug("mDNS scan complete", zap.Int("printers_found", found))
	l.cleanSeen()
}

func (l *MDNSListener) queryService(ctx context.Context, service string) int {
	entries := make(chan *mdns.ServiceEntry, 16)

	var found int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			if l.processEntry(ctx, entry, service) {
				found++
			}
		}
	}()

	params := mdns.DefaultParams(service)
	params.Timeout = l.timeout
	params.Entries = entries
	params.DisableIPv6 = true
	if err := l.query(params); err != nil {
		l.logger.Debug("mDNS query failed", zap.String("service", service), zap.Error(err))
	}
	close(entries)
	wg.Wait()
	return found
}

// processEntry publishes a printer the first time its address is seen in
// the current interval.
func (l *MDNSListener) processEntry(ctx context.Context, entry *mdns.ServiceEntry, service string) bool {
	if entry == nil {
		return false
	}
	ip := extractIP(entry)
	if ip == "" || !l.markIfNew(ip) {
		return false
	}

	host := strings.TrimSuffix(entry.Host, ".")
	if host == "" {
		host = entry.Name
	}
	txt := parseTXT(entry.InfoFields)
	ev := &PrinterEvent{
		DeviceID: deviceID(host, ip),
		Name:     instanceName(entry.Name, service),
		Address:  ip,
		Service:  service,
		Model:    txt["ty"],
		Location: txt["note"],
	}

	if l.bus != nil {
		l.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicPrinterDiscovered,
			Source:    "discovery",
			Timestamp: time.Now(),
			Payload:   ev,
		})
	}
	l.logger.Info("printer discovered",
		zap.String("device_id", ev.DeviceID),
		zap.String("ip", ip),
		zap.String("service", service),
	)
	return true
}

func (l *MDNSListener) markIfNew(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.seen[ip]; ok && time.Since(last) < l.interval {
		return false
	}
	l.seen[ip] = time.Now()
	return true
}

// cleanSeen drops addresses not seen for two intervals.
func (l *MDNSListener) cleanSeen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-2 * l.interval)
	for ip, t := range l.seen {
		if t.Before(cutoff) {
			delete(l.seen, ip)
		}
	}
}

func extractIP(entry *mdns.ServiceEntry) string {
	if entry.AddrV4 != nil && !entry.AddrV4.IsUnspecified() {
		return entry.AddrV4.String()
	}
	if entry.Addr != nil && !entry.Addr.IsUnspecified() {
		return entry.Addr.String()
	}
	return ""
}

func parseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if ok {
			out[strings.ToLower(k)] = v
		}
	}
	return out
}

// instanceName strips the service suffix from an mDNS instance name.
func instanceName(name, service string) string {
	name = strings.TrimSuffix(name, ".")
	if i := strings.Index(name, "."+service); i > 0 {
		name = name[:i]
	}
	return strings.ReplaceAll(name, `\ `, " ")
}

// deviceID derives a stable id from the host name, or the address when the
// host name is empty.
func deviceID(host, ip string) string {
	base := strings.ToLower(strings.TrimSuffix(host, ".local"))
	base = strings.Trim(nonIDChars.ReplaceAllString(base, "-"), "-")
	if base == "" {
		base = strings.ReplaceAll(ip, ".", "-")
	}
	return "mdns-" + base
}
