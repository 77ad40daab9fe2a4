package discovery

// Event topics published by the discovery module.
const (
	TopicPrinterDiscovered = "discovery.printer.found"
)

// PrinterEvent is the payload for TopicPrinterDiscovered.
type PrinterEvent struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Service  string `json:"service"`
	Model    string `json:"model,omitempty"`
	Location string `json:"location,omitempty"`
}
