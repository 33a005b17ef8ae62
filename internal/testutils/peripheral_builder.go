package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/stretchr/testify/mock"

	"github.com/glas/wqconnect/internal/device"
)

// GLAS probe UUIDs used by default in test peripherals.
const (
	MainServiceUUID   = "6E400001-B5A3-F393-E0A9-E50E24DCCA9E"
	WakeServiceUUID   = "6E400101-B5A3-F393-E0A9-E50E24DCCA9E"
	TelemetryCharUUID = "6E400003-B5A3-F393-E0A9-E50E24DCCA9E"
	CommandCharUUID   = "6E400002-B5A3-F393-E0A9-E50E24DCCA9E"
)

// PeripheralBuilder builds a MockClient with a GATT profile and scripted
// discovery and subscription outcomes.
type PeripheralBuilder struct {
	address      string
	profile      device.Profile
	discoverErr  error
	subscribeErr error
}

// NewPeripheralBuilder starts an empty peripheral at address.
func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{address: address}
}

// NewGLASPeripheral returns a builder for a probe exposing the telemetry
// characteristic under serviceUUID.
func NewGLASPeripheral(address, serviceUUID string) *PeripheralBuilder {
	return NewPeripheralBuilder(address).
		WithService(serviceUUID).
		WithCharacteristic(TelemetryCharUUID, true).
		WithCharacteristic(CommandCharUUID, false)
}

// WithService appends a service; following characteristics belong to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, device.ServiceProfile{UUID: device.NormalizeUUID(uuid)})
	return b
}

// WithCharacteristic adds a characteristic to the last service.
func (b *PeripheralBuilder) WithCharacteristic(uuid string, notify bool) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic called before WithService")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	svc.Characteristics = append(svc.Characteristics, device.CharacteristicProfile{
		UUID:   device.NormalizeUUID(uuid),
		Notify: notify,
	})
	return b
}

// WithDiscoverError makes profile discovery fail.
func (b *PeripheralBuilder) WithDiscoverError(err error) *PeripheralBuilder {
	b.discoverErr = err
	return b
}

// WithSubscribeError makes every subscription fail.
func (b *PeripheralBuilder) WithSubscribeError(err error) *PeripheralBuilder {
	b.subscribeErr = err
	return b
}

// FromJSON appends services described as
//
//	{"services":[{"uuid":"...","characteristics":[{"uuid":"...","notify":true}]}]}
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var data struct {
		Services []struct {
			UUID            string `json:"uuid"`
			Characteristics []struct {
				UUID   string `json:"uuid"`
				Notify bool   `json:"notify"`
			} `json:"characteristics"`
		} `json:"services"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	for _, s := range data.Services {
		b.WithService(s.UUID)
		for _, c := range s.Characteristics {
			b.WithCharacteristic(c.UUID, c.Notify)
		}
	}
	return b
}

// Build returns the configured client.
func (b *PeripheralBuilder) Build() *MockClient {
	c := NewMockClient(b.address)
	c.On("DiscoverProfile", mock.Anything).Return(b.profile, b.discoverErr).Maybe()
	c.On("Subscribe", mock.Anything, mock.Anything).Return(b.subscribeErr).Maybe()
	return c
}
