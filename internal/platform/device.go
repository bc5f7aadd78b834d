// Package platform implements the device, network, and biometric-hardware
// ports against the host operating system. On mobile targets these signals
// come from the embedding app; the overrides in Options cover that path.
package platform

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corvuspay/bioguard/internal/domain"
)

// Options override individual fingerprint signals. Empty fields fall back to
// host probing.
type Options struct {
	DeviceID     string
	DeviceName   string
	ModelName    string
	Manufacturer string
	ScreenWidth  int
	ScreenHeight int
}

// DeviceInfo implements domain.DeviceInfoProvider by probing the host.
type DeviceInfo struct {
	opts Options

	// cached hardware ID; probing shells out, so do it once.
	deviceID string
}

// NewDeviceInfo creates a provider with the given overrides.
func NewDeviceInfo(opts Options) *DeviceInfo {
	return &DeviceInfo{opts: opts}
}

// Snapshot reads the current device-identity signals.
func (d *DeviceInfo) Snapshot(_ context.Context) (domain.DeviceFingerprint, error) {
	fp := domain.DeviceFingerprint{
		DeviceID:     d.opts.DeviceID,
		DeviceName:   d.opts.DeviceName,
		ModelName:    d.opts.ModelName,
		OSName:       runtime.GOOS,
		OSVersion:    osVersion(),
		Manufacturer: d.opts.Manufacturer,
		IsEmulator:   isVirtualized(),
		ScreenWidth:  d.opts.ScreenWidth,
		ScreenHeight: d.opts.ScreenHeight,
		Timezone:     time.Now().Location().String(),
		CreatedAt:    time.Now(),
	}

	if fp.DeviceID == "" {
		fp.DeviceID = d.hardwareID()
	}
	if fp.DeviceName == "" {
		if host, err := os.Hostname(); err == nil {
			fp.DeviceName = host
		}
	}
	if fp.ModelName == "" {
		fp.ModelName = readTrimmed("/sys/class/dmi/id/product_name")
	}
	if fp.Manufacturer == "" {
		fp.Manufacturer = readTrimmed("/sys/class/dmi/id/sys_vendor")
	}

	return fp, nil
}

// hardwareID returns a stable identifier for this device. The probe order
// mirrors what desktop platforms expose; when nothing stable is available a
// random UUID is generated once per process.
func (d *DeviceInfo) hardwareID() string {
	if d.deviceID != "" {
		return d.deviceID
	}

	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if id := readTrimmed(path); id != "" {
				d.deviceID = id
				return id
			}
		}
	case "darwin":
		out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
		if err == nil {
			for _, line := range strings.Split(string(out), "\n") {
				if strings.Contains(line, "IOPlatformUUID") {
					parts := strings.Split(line, "\"")
					if len(parts) >= 4 {
						d.deviceID = parts[3]
						return d.deviceID
					}
				}
			}
		}
	}

	d.deviceID = uuid.NewString()
	return d.deviceID
}

// isVirtualized reports whether the host looks like a VM or emulator rather
// than physical hardware.
func isVirtualized() bool {
	product := strings.ToLower(readTrimmed("/sys/class/dmi/id/product_name"))
	vendor := strings.ToLower(readTrimmed("/sys/class/dmi/id/sys_vendor"))
	for _, marker := range []string{"virtual", "qemu", "kvm", "vmware", "virtualbox", "xen"} {
		if strings.Contains(product, marker) || strings.Contains(vendor, marker) {
			return true
		}
	}
	return false
}

func osVersion() string {
	if runtime.GOOS == "linux" {
		if v := readTrimmed("/proc/sys/kernel/osrelease"); v != "" {
			return v
		}
	}
	if out, err := exec.Command("uname", "-r").Output(); err == nil {
		return strings.TrimSpace(string(out))
	}
	return runtime.GOARCH
}

func readTrimmed(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
