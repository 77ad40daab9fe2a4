package source

import (
	"context"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/HerbHall/printwatch/pkg/models"
)

// Printer-MIB (RFC 3805) and Host Resources MIB object identifiers.
const (
	oidSysName              = ".1.3.6.1.2.1.1.5.0"
	oidSysLocation          = ".1.3.6.1.2.1.1.6.0"
	oidDeviceDescr          = ".1.3.6.1.2.1.25.3.2.1.3.1"
	oidPrinterStatus        = ".1.3.6.1.2.1.25.3.5.1.1.1"
	oidPrinterErrorState    = ".1.3.6.1.2.1.25.3.5.1.2.1"
	oidMarkerLifeCount      = ".1.3.6.1.2.1.43.10.2.1.4.1.1"
	oidSuppliesDescription  = ".1.3.6.1.2.1.43.11.1.1.6.1"
	oidSuppliesMaxCapacity  = ".1.3.6.1.2.1.43.11.1.1.8.1"
	oidSuppliesLevel        = ".1.3.6.1.2.1.43.11.1.1.9.1"
	oidMarkerColorantValue  = ".1.3.6.1.2.1.43.12.1.1.4.1"
	defaultSNMPPort         = 161
	defaultSNMPCommunity    = "public"
	defaultSNMPTimeout      = 3 * time.Second
	hrPrinterStatusOther    = 1
	hrPrinterStatusIdle     = 3
	hrPrinterStatusPrinting = 4
	hrPrinterStatusWarmup   = 5
)

// Blocking hrPrinterDetectedErrorState bits, numbered from the most
// significant bit of the first octet.
var printerErrorBits = []struct {
	bit     int
	message string
}{
	{1, "no paper"},
	{3, "no toner"},
	{4, "door open"},
	{5, "paper jam"},
	{8, "input tray missing"},
	{9, "output tray missing"},
	{10, "marker supply missing"},
	{12, "output full"},
}

const (
	errorBitOffline          = 6
	errorBitServiceRequested = 7
)

// SNMPDriver reads printer status over SNMP v2c using the Printer-MIB.
type SNMPDriver struct {
	timeout time.Duration
	retries int
}

// NewSNMPDriver creates an SNMP driver. A zero timeout uses the default.
func NewSNMPDriver(timeout time.Duration, retries int) *SNMPDriver {
	if timeout <= 0 {
		timeout = defaultSNMPTimeout
	}
	return &SNMPDriver{timeout: timeout, retries: retries}
}

// Fetch queries the target agent and maps the answers to a DeviceStatus.
func (d *SNMPDriver) Fetch(ctx context.Context, t Target) (models.DeviceStatus, error) {
	host, port := splitHostPort(t.Address, defaultSNMPPort)
	community := t.Community
	if community == "" {
		community = defaultSNMPCommunity
	}
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      port,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   t.timeout(d.timeout),
		Retries:   d.retries,
		Context:   ctx,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := g.Connect(); err != nil {
		return models.DeviceStatus{}, fmt.Errorf("snmp connect %s: %w", t.Address, err)
	}
	defer g.Conn.Close()

	pkt, err := g.Get([]string{
		oidSysName, oidSysLocation, oidDeviceDescr,
		oidPrinterStatus, oidPrinterErrorState, oidMarkerLifeCount,
	})
	if err != nil {
		return models.DeviceStatus{}, fmt.Errorf("snmp get %s: %w", t.Address, err)
	}

	var (
		st         models.DeviceStatus
		status     int
		errorState []byte
	)
	for _, v := range pkt.Variables {
		switch v.Name {
		case oidSysName:
			st.DisplayName = pduString(v)
		case oidSysLocation:
			st.Location = pduString(v)
		case oidDeviceDescr:
			st.Model = pduString(v)
		case oidPrinterStatus:
			status = int(pduInt(v))
		case oidPrinterErrorState:
			errorState, _ = v.Value.([]byte)
		case oidMarkerLifeCount:
			st.Counters.TotalPages = pduInt(v)
		}
	}
	if status == 0 {
		return models.DeviceStatus{}, fmt.Errorf("snmp %s: hrPrinterStatus not reported", t.Address)
	}
	st.State, st.ErrorMessage = printerState(status, errorState)

	supplies, err := d.walkSupplies(g)
	if err != nil {
		return models.DeviceStatus{}, err
	}
	st.Supplies = supplies
	return st, nil
}

func (d *SNMPDriver) walkSupplies(g *gosnmp.GoSNMP) ([]models.Supply, error) {
	descr := make(map[int]string)
	colorant := make(map[int]string)
	maxCap := make(map[int]int64)
	level := make(map[int]int64)

	walks := []struct {
		oid string
		fn  func(idx int, v gosnmp.SnmpPDU)
	}{
		{oidSuppliesDescription, func(i int, v gosnmp.SnmpPDU) { descr[i] = pduString(v) }},
		{oidSuppliesMaxCapacity, func(i int, v gosnmp.SnmpPDU) { maxCap[i] = pduInt(v) }},
		{oidSuppliesLevel, func(i int, v gosnmp.SnmpPDU) { level[i] = pduInt(v) }},
		{oidMarkerColorantValue, func(i int, v gosnmp.SnmpPDU) { colorant[i] = pduString(v) }},
	}
	for _, w := range walks {
		err := g.BulkWalk(w.oid, func(v gosnmp.SnmpPDU) error {
			if idx, ok := lastIndex(v.Name); ok {
				w.fn(idx, v)
			}
			return nil
		})
		if err != nil && w.oid != oidMarkerColorantValue {
			return nil, fmt.Errorf("snmp walk %s: %w", w.oid, err)
		}
	}
	return buildSupplies(descr, maxCap, level, colorant), nil
}

// printerState maps hrPrinterStatus and hrPrinterDetectedErrorState to an
// operational state and error message.
func printerState(status int, errorState []byte) (models.OperationalState, string) {
	var msgs []string
	for _, b := range printerErrorBits {
		if bitSet(errorState, b.bit) {
			msgs = append(msgs, b.message)
		}
	}
	switch {
	case len(msgs) > 0:
		return models.StateError, strings.Join(msgs, ", ")
	case bitSet(errorState, errorBitServiceRequested):
		return models.StateMaintenance, ""
	case bitSet(errorState, errorBitOffline):
		return models.StateOffline, ""
	}
	switch status {
	case hrPrinterStatusIdle, hrPrinterStatusPrinting, hrPrinterStatusWarmup:
		return models.StateOnline, ""
	case hrPrinterStatusOther:
		return models.StateError, "printer reports status other"
	default:
		return models.StateOffline, ""
	}
}

// buildSupplies converts Printer-MIB supply columns into percentages.
// Levels of -3 ("some remaining") report 50%; unknown levels are skipped.
func buildSupplies(descr map[int]string, maxCap, level map[int]int64, colorant map[int]string) []models.Supply {
	idx := make([]int, 0, len(descr))
	for i := range descr {
		idx = append(idx, i)
	}
	slices.Sort(idx)

	out := make([]models.Supply, 0, len(idx))
	for _, i := range idx {
		lv, ok := level[i]
		if !ok {
			continue
		}
		var pct int
		switch {
		case lv == -3:
			pct = 50
		case lv < 0:
			continue
		case maxCap[i] > 0:
			pct = int(lv * 100 / maxCap[i])
		case maxCap[i] == -2 || maxCap[i] == -1:
			continue
		default:
			pct = int(lv)
		}
		out = append(out, models.Supply{
			Name:         descr[i],
			LevelPercent: models.ClampPercent(pct),
			ColorHint:    colorHint(descr[i], colorant[i]),
		})
	}
	return out
}

func colorHint(descr, colorant string) string {
	if colorant != "" && colorant != "unknown" {
		return strings.ToLower(colorant)
	}
	d := strings.ToLower(descr)
	for _, c := range []string{"black", "cyan", "magenta", "yellow"} {
		if strings.Contains(d, c) {
			return c
		}
	}
	return ""
}

func bitSet(b []byte, bit int) bool {
	octet := bit / 8
	if octet >= len(b) {
		return false
	}
	return b[octet]&(0x80>>(bit%8)) != 0
}

func lastIndex(oid string) (int, bool) {
	i := strings.LastIndexByte(oid, '.')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(oid[i+1:])
	return n, err == nil
}

func pduString(v gosnmp.SnmpPDU) string {
	switch val := v.Value.(type) {
	case []byte:
		return strings.TrimSpace(strings.TrimRight(string(val), "\x00"))
	case string:
		return strings.TrimSpace(val)
	default:
		return ""
	}
}

func pduInt(v gosnmp.SnmpPDU) int64 {
	switch v.Type {
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks,
		gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(v.Value).Int64()
	default:
		return 0
	}
}

func splitHostPort(addr string, def uint16) (string, uint16) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, def
	}
	p, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, def
	}
	return host, uint16(p)
}
