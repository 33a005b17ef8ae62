package goble

import (
	"github.com/go-ble/ble"

	"github.com/glas/wqconnect/internal/device"
)

// advertisement adapts ble.Advertisement to device.Advertisement.
type advertisement struct {
	adv ble.Advertisement
}

// NewAdvertisement wraps a go-ble advertisement.
func NewAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &advertisement{adv: adv}
}

func (a *advertisement) LocalName() string { return a.adv.LocalName() }
func (a *advertisement) RSSI() int         { return a.adv.RSSI() }
func (a *advertisement) Connectable() bool { return a.adv.Connectable() }

func (a *advertisement) Addr() string {
	if a.adv.Addr() == nil {
		return ""
	}
	return a.adv.Addr().String()
}

// Services lists advertised service UUIDs, normalized.
func (a *advertisement) Services() []string {
	uuids := a.adv.Services()
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = device.NormalizeUUID(u.String())
	}
	return out
}
