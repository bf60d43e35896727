package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/storops/internal/lg"
	"github.com/andrej220/storops/internal/processor"
)

const (
	TypeTape    = "tape"
	TypeMediumx = "mediumx"

	MethodologyIBM     = "IBM"
	MethodologySpectra = "SPECTRA"
)

const (
	lsscsiCommand = "/usr/bin/lsscsi -g"
	sgMapCommand  = "/usr/bin/sg_map"
	smcCommand    = "cta-smc -q D"
	serialPrefix  = "Unit serial number:"
)

// Drive is the descriptor the tape daemon of one drive is configured with.
type Drive struct {
	DriveLogicalLibrary string `json:"DriveLogicalLibrary"`
	DriveName           string `json:"DriveName"`
	DriveDevice         string `json:"DriveDevice,omitempty"`
	DriveControlPath    string `json:"DriveControlPath,omitempty"`
}

// Device is one tape or medium changer reported by lsscsi.
type Device struct {
	Type         string `json:"type"`
	Vendor       string `json:"vendor"`
	SerialNumber string `json:"serial_num"`
	// Path is the primary device node, Generic the SCSI generic one.
	Path    string `json:"path"`
	Generic string `json:"generic"`
}

// Inventory lists the tape drives and changers of this host. Methodology is
// the vendor of the changer and selects the adapter.
type Inventory struct {
	Methodology string   `json:"methodology"`
	Tapes       []Device `json:"tape"`
	Changers    []Device `json:"mediumx"`
}

// Serials returns the tape drive serial numbers.
func (inv Inventory) Serials() []string {
	out := make([]string, 0, len(inv.Tapes))
	for _, d := range inv.Tapes {
		out = append(out, d.SerialNumber)
	}
	return out
}

// Adapter resolves drive descriptors keyed by serial number.
type Adapter interface {
	DeviceInfo(ctx context.Context, inv Inventory) (map[string]Drive, error)
}

// Discover runs lsscsi and reads the serial number of every tape device.
func Discover(ctx context.Context, cmd Commander, log lg.Logger) (Inventory, error) {
	if log == nil {
		log = lg.Discard
	}
	var inv Inventory
	out, err := cmd.Output(ctx, lsscsiCommand)
	if err != nil {
		return inv, fmt.Errorf("list scsi devices: %w", err)
	}
	lines, err := processor.NewProcessorChain().Process(processor.Lines(out), processor.ProcessorTypeDropEmpty)
	if err != nil {
		return inv, err
	}

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 4 || (fields[1] != TypeTape && fields[1] != TypeMediumx) {
			continue
		}
		d := Device{
			Type:    fields[1],
			Vendor:  fields[2],
			Path:    fields[len(fields)-2],
			Generic: fields[len(fields)-1],
		}
		if d.SerialNumber, err = serialNumber(ctx, cmd, d.Generic); err != nil {
			return inv, err
		}
		if d.Type == TypeMediumx {
			if inv.Methodology != "" && inv.Methodology != d.Vendor {
				log.Warn("multiple medium changer types present", lg.String("kept", d.Vendor), lg.String("dropped", inv.Methodology))
			}
			inv.Methodology = d.Vendor
			inv.Changers = append(inv.Changers, d)
			continue
		}
		inv.Tapes = append(inv.Tapes, d)
	}
	return inv, nil
}

func serialNumber(ctx context.Context, cmd Commander, dev string) (string, error) {
	out, err := cmd.Output(ctx, "/usr/bin/sg_inq "+dev)
	if err != nil {
		return "", fmt.Errorf("serial number of %s: %w", dev, err)
	}
	chain := processor.NewProcessorChain()
	chain.Register(&processor.PrefixProcessor{Label: "serial", Prefix: serialPrefix})
	found, err := chain.Process(processor.Lines(out), processor.ProcessorTypeTrim, "serial", processor.ProcessorTypeTrim)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("serial number of %s: not reported", dev)
	}
	return strings.TrimLeft(found[0], "0"), nil
}

// sgMap holds the sg_map pairs of generic and mapped device.
type sgMap [][2]string

func loadSGMap(ctx context.Context, cmd Commander) (sgMap, error) {
	out, err := cmd.Output(ctx, sgMapCommand)
	if err != nil {
		return nil, fmt.Errorf("sg_map: %w", err)
	}
	var m sgMap
	for _, line := range processor.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			m = append(m, [2]string{fields[0], fields[1]})
		}
	}
	return m, nil
}

// deviceFor returns the mapped device of d, matching either of its nodes.
func (m sgMap) deviceFor(d Device) string {
	for _, pair := range m {
		if pair[0] == d.Generic || pair[1] == d.Path {
			return pair[1]
		}
	}
	return ""
}

// controlPaths maps changer element addresses to smc control paths.
type controlPaths map[string]string

func loadControlPaths(ctx context.Context, cmd Commander) (controlPaths, error) {
	out, err := cmd.Output(ctx, smcCommand)
	if err != nil {
		return nil, fmt.Errorf("cta-smc: %w", err)
	}
	paths := controlPaths{}
	for _, line := range processor.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			paths[fields[1]] = "smc" + fields[0]
		}
	}
	return paths, nil
}

var ErrNoChanger = errors.New("no supported medium changer found")

// Collect discovers the inventory and resolves it with the adapter matching
// the changer vendor.
func Collect(ctx context.Context, cmd Commander, adapters map[string]Adapter, log lg.Logger) (map[string]Drive, error) {
	inv, err := Discover(ctx, cmd, log)
	if err != nil {
		return nil, err
	}
	adapter, ok := adapters[inv.Methodology]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w (methodology %q)", ErrNoChanger, inv.Methodology)
	}
	if len(inv.Tapes) == 0 {
		return nil, errors.New("no tape drives found")
	}
	drives, err := adapter.DeviceInfo(ctx, inv)
	if err != nil {
		return nil, err
	}
	if len(drives) == 0 {
		return nil, errors.New("could not get tape info")
	}
	return drives, nil
}
