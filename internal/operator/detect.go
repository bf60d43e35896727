package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andrej220/storops/internal/errs"
	"github.com/andrej220/storops/internal/lg"
	"github.com/andrej220/storops/internal/processor"
	"github.com/andrej220/storops/internal/settings"
)

type marker struct {
	service settings.Service
	label   string
	path    string
}

// Install markers in priority order.
var markers = []marker{
	{settings.ServiceCTA, "CTA", "/etc/cta"},
	{settings.ServiceEnstore, "Enstore", "/opt/enstore"},
	{settings.ServiceEnstore, "Enstore", "/home/enstore"},
}

const lsscsiCommand = "/usr/bin/lsscsi -g"

// moverTypes lists the lsscsi device types offered as movers per service.
var moverTypes = map[settings.Service][]string{
	settings.ServiceCTA:     {"disk", "mediumx"},
	settings.ServiceEnstore: {"disk", "tape"},
}

// Candidate is one SCSI device that could serve as the mover.
type Candidate struct {
	DeviceType string `json:"device_type"`
	Vendor     string `json:"mover_type"`
	Slot       string `json:"slot"`
	Line       string `json:"-"`
}

// Device maps the SCSI type onto the device enum.
func (c Candidate) Device() settings.Device {
	if c.DeviceType == "disk" {
		return settings.DeviceDisk
	}
	return settings.DeviceTape
}

// Mover returns the vendor as a mover, or "" for vendors we do not drive.
func (c Candidate) Mover() settings.Mover {
	m := settings.Mover(strings.ToLower(c.Vendor))
	if m.Valid() {
		return m
	}
	return ""
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s %s %s", c.DeviceType, c.Vendor, c.Slot)
}

// Selector picks one of the mover candidates. It returns -1 to keep the
// configuration's device and mover unset.
type Selector interface {
	Select(ctx context.Context, candidates []Candidate) (int, error)
}

type SelectorFunc func(ctx context.Context, candidates []Candidate) (int, error)

func (f SelectorFunc) Select(ctx context.Context, c []Candidate) (int, error) { return f(ctx, c) }

// Detection is the outcome of a remote service detection.
type Detection struct {
	Configuration settings.Configuration
	Candidates    []Candidate
	Selected      int
}

// DetectService looks for install markers on the local filesystem and
// resolves node with the service found.
func (o *Operator) DetectService(ctx context.Context, node string) (settings.Configuration, error) {
	for _, m := range markers {
		fi, err := o.opts.Stat(m.path)
		if err != nil || !fi.IsDir() {
			o.log.Debug("install marker absent", lg.String("path", m.path))
			continue
		}
		o.log.Debug("install marker found", lg.String("path", m.path), lg.String("service", string(m.service)))
		cfg, err := o.opts.Resolver.Resolve(ctx, node, m.service)
		if err != nil {
			return cfg, err
		}
		if cfg.Service == "" {
			cfg.Service = m.service
		}
		o.Accept(cfg)
		return cfg, nil
	}
	if node == "" {
		node = settings.LocalHostname()
	}
	return settings.Configuration{}, &errs.ServiceNotInstalledError{Node: node}
}

// DetectRemoteService probes node for install markers and SCSI devices in
// one session, then lets sel choose the mover.
func (o *Operator) DetectRemoteService(ctx context.Context, node string, sel Selector) (Detection, error) {
	det := Detection{Selected: -1}
	cfg, err := o.opts.Resolver.Resolve(ctx, node, "")
	if err != nil {
		return det, err
	}
	if o.opts.Runner == nil {
		return det, &errs.ConfigurationError{Reason: "no command runner configured"}
	}

	commands := make([]string, 0, len(markers)+1)
	for _, m := range markers {
		commands = append(commands, fmt.Sprintf("if [ -d %s ]; then echo %s; fi", m.path, m.label))
	}
	commands = append(commands, lsscsiCommand)

	res, err := o.opts.Runner.Run(ctx, settings.Configuration{Node: cfg.Node}, commands)
	if err != nil {
		if errors.Is(err, errs.ErrExecution) {
			return det, &errs.ServiceNotInstalledError{Node: cfg.Node}
		}
		return det, err
	}

	service, candidates, err := parseDetection(res.Stdout)
	if err != nil {
		return det, err
	}
	if service == "" {
		return det, &errs.ServiceNotInstalledError{Node: cfg.Node}
	}
	o.log.Debug("service detected", lg.String("service", string(service)), lg.Int("candidates", len(candidates)))

	cfg.Service = service
	det.Candidates = candidates
	if sel != nil && len(candidates) > 0 {
		idx, err := sel.Select(ctx, candidates)
		if err != nil {
			return det, err
		}
		if idx >= len(candidates) {
			return det, &errs.ConfigurationError{Reason: fmt.Sprintf("mover index %d out of range (0-%d)", idx, len(candidates)-1)}
		}
		if idx >= 0 {
			det.Selected = idx
			cfg.Device = candidates[idx].Device()
			cfg.Mover = candidates[idx].Mover()
		}
	}
	det.Configuration = cfg
	o.Accept(cfg)
	return det, nil
}

func parseDetection(stdout string) (settings.Service, []Candidate, error) {
	lines, err := processor.NewProcessorChain().Process(processor.Lines(stdout),
		processor.ProcessorTypeDropEmpty, processor.ProcessorTypeTrim)
	if err != nil {
		return "", nil, err
	}

	var (
		service    settings.Service
		candidates []Candidate
	)
	for _, line := range lines {
		if s, ok := markerService(line); ok {
			if service == "" {
				service = s
			}
			continue
		}
		if service == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || !contains(moverTypes[service], fields[1]) {
			continue
		}
		candidates = append(candidates, Candidate{
			DeviceType: fields[1],
			Vendor:     fields[2],
			Slot:       fields[len(fields)-1],
			Line:       line,
		})
	}
	return service, candidates, nil
}

func markerService(line string) (settings.Service, bool) {
	for _, m := range markers {
		if line == m.label {
			return m.service, true
		}
	}
	return "", false
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
