package btbootstrap

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// Advertisement wraps a running BLE peripheral advertisement, started only
// when the configured Advertise flag is set (spec.md §4.3's BLE variant),
// grounded on the tinygo.org/x/bluetooth peripheral API used in
// other_examples' bluetalk BLE manager.
type Advertisement struct {
	adv *bluetooth.Advertisement
}

// StartAdvertising enables the default adapter and starts a peripheral
// advertisement carrying the AA Wireless profile's service UUID and the
// configured alias as the local name, matching bluer's
// Advertisement{advertisement_type: Peripheral, service_uuids: [AAWG_PROFILE_UUID], local_name}.
func StartAdvertising(alias string) (*Advertisement, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("btbootstrap: enabling ble adapter: %w", err)
	}

	uuid, err := bluetooth.ParseUUID(AAWirelessProfileUUID)
	if err != nil {
		return nil, fmt.Errorf("btbootstrap: parsing profile uuid: %w", err)
	}

	adv := adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    alias,
		ServiceUUIDs: []bluetooth.UUID{uuid},
	}); err != nil {
		return nil, fmt.Errorf("btbootstrap: configuring advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return nil, fmt.Errorf("btbootstrap: starting advertisement: %w", err)
	}

	return &Advertisement{adv: adv}, nil
}

// Stop halts the advertisement, matching bluetooth_stop dropping the
// AdvertisementHandle.
func (a *Advertisement) Stop() error {
	if a == nil || a.adv == nil {
		return nil
	}
	return a.adv.Stop()
}
