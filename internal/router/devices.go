package router

import (
	"encoding/json"

	"github.com/dgnsrekt/myjd_bridge/internal/agent"
)

// Device preference ids that do not name a real device.
const (
	PreferAskEveryTime = "AskEveryTimeDevice"
	PreferLastUsed     = "LastUsedDevice"
)

// DevicePreference is the persisted device auto-selection setting.
type DevicePreference struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AskEveryTime is the default preference.
var AskEveryTime = DevicePreference{ID: PreferAskEveryTime, Name: "Ask every time"}

// Resolve picks the device a submission goes to without prompting. It
// reports false when the user must choose.
func (p DevicePreference) Resolve(lastUsed *agent.Device) (agent.Device, bool) {
	switch p.ID {
	case "", PreferAskEveryTime:
		return agent.Device{}, false
	case PreferLastUsed:
		if lastUsed == nil || lastUsed.ID == "" {
			return agent.Device{}, false
		}
		return *lastUsed, true
	default:
		return agent.Device{ID: p.ID, Name: p.Name}, true
	}
}

// DeviceList is the one shape device listings are answered with. Error is
// false on success and a message otherwise.
type DeviceList struct {
	Devices []agent.Device `json:"devices"`
	Error   any            `json:"error"`
}

// NormalizeDevices converts every known device-list response shape into a
// DeviceList:
//
//	{"devices":[...]}                   worker answer
//	{"success":true,"devices":[...]}    worker answer
//	{"data":{"devices":[...]}}          legacy popup wrapper
//	{"result":{"devices":[...]}}        legacy controller wrapper
//	{"data":[...]} or [...]             bare arrays
//	{"error":"..."} / {"success":false} failures
func NormalizeDevices(raw json.RawMessage) DeviceList {
	var arr []agent.Device
	if err := json.Unmarshal(raw, &arr); err == nil {
		return DeviceList{Devices: nonNil(arr), Error: false}
	}

	var shape struct {
		Success *bool           `json:"success"`
		Devices []agent.Device  `json:"devices"`
		Data    json.RawMessage `json:"data"`
		Result  json.RawMessage `json:"result"`
		Error   any             `json:"error"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return DeviceList{Devices: []agent.Device{}, Error: "Unreadable device list"}
	}

	if shape.Devices != nil {
		return DeviceList{Devices: shape.Devices, Error: false}
	}
	var nestedErr any
	for _, nested := range []json.RawMessage{shape.Data, shape.Result} {
		if len(nested) == 0 || string(nested) == "null" {
			continue
		}
		inner := NormalizeDevices(nested)
		if inner.Error == false {
			return inner
		}
		nestedErr = inner.Error
	}

	if msg, ok := shape.Error.(string); ok && msg != "" {
		return DeviceList{Devices: []agent.Device{}, Error: msg}
	}
	if nestedErr != nil {
		return DeviceList{Devices: []agent.Device{}, Error: nestedErr}
	}
	if shape.Success != nil && !*shape.Success {
		return DeviceList{Devices: []agent.Device{}, Error: "Failed to get devices"}
	}
	return DeviceList{Devices: []agent.Device{}, Error: false}
}

func nonNil(d []agent.Device) []agent.Device {
	if d == nil {
		return []agent.Device{}
	}
	return d
}
