package browser

import (
	"fmt"
	"sort"
)

// Device is a viewport and identity to emulate in the tab.
type Device struct {
	Name             string  `json:"name"`
	Width            int     `json:"width"`
	Height           int     `json:"height"`
	UserAgent        string  `json:"userAgent"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	Mobile           bool    `json:"mobile"`
	Touch            bool    `json:"touch"`
}

// Devices are the named presets accepted by Options.Device.
var Devices = map[string]Device{
	"iPhone 12 Pro": {
		Name:             "iPhone 12 Pro",
		Width:            390,
		Height:           844,
		DevicePixelRatio: 1,
		Mobile:           true,
		Touch:            true,
		UserAgent:        "Mozilla/5.0 (iPhone; CPU iPhone OS 14_7_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.2 Mobile/15E148 Safari/604.1",
	},
	"Galaxy S20": {
		Name:             "Galaxy S20",
		Width:            360,
		Height:           800,
		DevicePixelRatio: 1,
		Mobile:           true,
		Touch:            true,
		UserAgent:        "Mozilla/5.0 (Linux; Android 10; SM-G981B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80.0.3987.162 Mobile Safari/537.36",
	},
	"iPad Pro": {
		Name:             "iPad Pro",
		Width:            768,
		Height:           1024,
		DevicePixelRatio: 2,
		Mobile:           true,
		Touch:            true,
		UserAgent:        "Mozilla/5.0 (iPad; CPU OS 13_3 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/87.0.4280.77 Mobile/15E148 Safari/604.1",
	},
	"Desktop": {
		Name:             "Desktop",
		Width:            1280,
		Height:           800,
		DevicePixelRatio: 1,
	},
}

// LookupDevice returns the preset called name.
func LookupDevice(name string) (Device, error) {
	d, ok := Devices[name]
	if !ok {
		return Device{}, fmt.Errorf("unknown device %q (known: %v)", name, DeviceNames())
	}
	return d, nil
}

func DeviceNames() []string {
	names := make([]string, 0, len(Devices))
	for name := range Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// emulation resolves what the tab should look like: a named device, or the
// plain width, height and user agent of opts.
func (opts Options) emulation() (Device, error) {
	if opts.Device != "" {
		d, err := LookupDevice(opts.Device)
		if err != nil {
			return Device{}, err
		}
		if opts.UserAgent != "" {
			d.UserAgent = opts.UserAgent
		}
		return d, nil
	}
	return Device{
		Name:             "custom",
		Width:            opts.Width,
		Height:           opts.Height,
		UserAgent:        opts.UserAgent,
		DevicePixelRatio: 1,
	}, nil
}
