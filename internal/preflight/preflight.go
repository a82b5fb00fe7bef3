// Package preflight reports whether the host can run Desktop Duplication.
package preflight

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/breeze-rmm/deskcap/internal/logging"
)

var log = logging.L("preflight")

// Desktop Duplication first shipped in Windows 8 (NT 6.2).
const (
	minKernelMajor = 6
	minKernelMinor = 2
)

type Report struct {
	Hostname        string `json:"hostname" yaml:"hostname"`
	OS              string `json:"os" yaml:"os"`
	Platform        string `json:"platform" yaml:"platform"`
	PlatformVersion string `json:"platformVersion" yaml:"platform_version"`
	KernelVersion   string `json:"kernelVersion" yaml:"kernel_version"`
	Architecture    string `json:"architecture" yaml:"architecture"`
	CPUModel        string `json:"cpuModel,omitempty" yaml:"cpu_model,omitempty"`
	MemoryTotalMB   uint64 `json:"memoryTotalMb,omitempty" yaml:"memory_total_mb,omitempty"`
	Supported       bool   `json:"supported" yaml:"supported"`
	Reason          string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Check gathers host facts and evaluates them. Facts that cannot be read
// are left empty.
func Check() *Report {
	r := &Report{OS: runtime.GOOS, Architecture: runtime.GOARCH}

	if info, err := host.Info(); err == nil {
		r.Hostname = info.Hostname
		r.OS = info.OS
		r.Platform = info.Platform
		r.PlatformVersion = info.PlatformVersion
		r.KernelVersion = info.KernelVersion
	} else {
		log.Debug("host info unavailable", logging.KeyError, err)
	}
	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		r.CPUModel = infos[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemoryTotalMB = vm.Total / 1024 / 1024
	}

	evaluate(r)
	return r
}

func evaluate(r *Report) {
	if r.OS != "windows" {
		r.Supported = false
		r.Reason = fmt.Sprintf("desktop duplication requires Windows, host is %s", r.OS)
		return
	}
	major, minor, ok := parseKernelVersion(r.KernelVersion)
	if !ok {
		// Go itself needs Windows 10 or later, so an unreadable version
		// still implies a capable host.
		r.Supported = true
		r.Reason = "kernel version unknown, assuming Windows 10 or later"
		return
	}
	if major < minKernelMajor || (major == minKernelMajor && minor < minKernelMinor) {
		r.Supported = false
		r.Reason = fmt.Sprintf("desktop duplication requires Windows 8 (NT 6.2) or later, kernel is %d.%d", major, minor)
		return
	}
	r.Supported = true
	r.Reason = ""
}

// parseKernelVersion reads major.minor from strings such as
// "10.0.19045.2965 Build 19045.2965" or "6.3.9600".
func parseKernelVersion(s string) (major, minor int, ok bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, false
	}
	parts := strings.Split(fields[0], ".")
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}
