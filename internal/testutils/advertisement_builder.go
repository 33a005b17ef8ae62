package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/glas/wqconnect/internal/device"
)

// Advertisement is a static device.Advertisement.
type Advertisement struct {
	Name          string   `json:"name"`
	Address       string   `json:"address"`
	Rssi          int      `json:"rssi"`
	ServiceList   []string `json:"services"`
	IsConnectable bool     `json:"connectable"`
}

func (a *Advertisement) LocalName() string  { return a.Name }
func (a *Advertisement) Addr() string       { return a.Address }
func (a *Advertisement) RSSI() int          { return a.Rssi }
func (a *Advertisement) Services() []string { return device.NormalizeUUIDs(a.ServiceList) }
func (a *Advertisement) Connectable() bool  { return a.IsConnectable }

// AdvertisementBuilder builds advertisements with a fluent API.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder starts a connectable advertisement at -50 dBm.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{Rssi: -50, IsConnectable: true}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithServices appends advertised service UUIDs in any accepted form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.ServiceList = append(b.adv.ServiceList, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// FromJSON overlays the fields present in a formatted JSON object.
// It panics on invalid JSON since it is meant for test setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &b.adv); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	return b
}

// Build returns the advertisement.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	return &adv
}
