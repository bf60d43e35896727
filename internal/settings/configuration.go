// Package settings resolves which storage service, device class and mover
// apply to a node. A Configuration is the execution target for every
// command session.
package settings

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

type Service string

const (
	ServiceCTA     Service = "cta"
	ServiceEnstore Service = "enstore"
)

type Device string

const (
	DeviceTape Device = "tape"
	DeviceDisk Device = "disk"
)

// Mover is the storage-hardware vendor driver type.
type Mover string

const (
	MoverSpectra Mover = "spectra"
	MoverIBM     Mover = "ibm"
)

func (s Service) Valid() bool { return s == ServiceCTA || s == ServiceEnstore }
func (d Device) Valid() bool  { return d == DeviceTape || d == DeviceDisk }
func (m Mover) Valid() bool   { return m == MoverSpectra || m == MoverIBM }

// ParseService accepts an empty string (unset) or one of the known services.
func ParseService(s string) (Service, error) {
	svc := Service(strings.ToLower(strings.TrimSpace(s)))
	if svc == "" || svc.Valid() {
		return svc, nil
	}
	return "", fmt.Errorf("unknown service %q (want cta or enstore)", s)
}

func ParseDevice(s string) (Device, error) {
	d := Device(strings.ToLower(strings.TrimSpace(s)))
	if d == "" || d.Valid() {
		return d, nil
	}
	return "", fmt.Errorf("unknown device %q (want tape or disk)", s)
}

func ParseMover(s string) (Mover, error) {
	m := Mover(strings.ToLower(strings.TrimSpace(s)))
	if m == "" || m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("unknown mover %q (want spectra or ibm)", s)
}

// Configuration identifies the execution target. The zero value of every
// enum field means unset.
type Configuration struct {
	Node    string  `json:"node" yaml:"node"`
	Service Service `json:"service,omitempty" yaml:"service,omitempty"`
	Device  Device  `json:"device_type,omitempty" yaml:"device_type,omitempty"`
	Mover   Mover   `json:"mover_type,omitempty" yaml:"mover_type,omitempty"`
}

// IsRemote reports whether the node differs from the local host.
func (c Configuration) IsRemote() bool {
	if c.Node == "" || c.Node == "localhost" {
		return false
	}
	return c.Node != LocalHostname()
}

// IsComplete reports whether node and service are both set. Device and
// mover stay optional for detection-only flows.
func (c Configuration) IsComplete() bool {
	return c.Node != "" && c.Service != ""
}

// Missing lists the unset fields in declaration order.
func (c Configuration) Missing() []string {
	var missing []string
	if c.Node == "" {
		missing = append(missing, "node")
	}
	if c.Service == "" {
		missing = append(missing, "service")
	}
	if c.Device == "" {
		missing = append(missing, "device")
	}
	if c.Mover == "" {
		missing = append(missing, "mover")
	}
	return missing
}

func (c Configuration) String() string {
	return fmt.Sprintf("node=%s service=%s device_type=%s mover_type=%s",
		c.Node, orUnset(string(c.Service)), orUnset(string(c.Device)), orUnset(string(c.Mover)))
}

func orUnset(s string) string {
	if s == "" {
		return "<unset>"
	}
	return s
}

var (
	hostOnce  sync.Once
	localHost string
)

// LocalHostname returns the local host name, resolved once per process.
func LocalHostname() string {
	hostOnce.Do(func() {
		h, err := os.Hostname()
		if err != nil {
			h = "localhost"
		}
		localHost = h
	})
	return localHost
}
