// Package device defines the platform-neutral view of the Bluetooth LE stack
// used by the ingestion pipeline: advertisements, peers, an adapter that
// scans and dials, a client bound to one link, and the registry of peers
// already connected to the host.
//
// Implementations live in subpackages (go-ble) and in internal/bluez.
package device
