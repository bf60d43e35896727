package devices

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/andrej220/storops/internal/processor"
)

// SpectraConfig addresses the SLAPI client on the SSA host.
type SpectraConfig struct {
	Server    string `mapstructure:"server" validate:"required"`
	User      string `mapstructure:"user" validate:"required"`
	Password  string `mapstructure:"password" validate:"required"`
	Partition string `mapstructure:"partition"`
	Script    string `mapstructure:"script"`
}

const (
	DefaultSpectraPartition = "zzCTA"
	DefaultSLAPIScript      = "python3 ~/scripts/slapi.py"
	// slapiHeaderLines precede the table in list outputs.
	slapiHeaderLines = 5
)

// drivelist rows: ID, status, partition, partition drive number.
var driveRowRe = regexp.MustCompile(`^(\S+)\s+\S+\s+([^\d]+)\s+(\d+)\s+`)

var driveNameReplacer = strings.NewReplacer("FR", "F", "DBA", "B", "fLTO-DRV", "D")

// Spectra resolves drives by querying the library through SLAPI on the SSA
// host. Remote runs SLAPI there; Local resolves device nodes on this host.
type Spectra struct {
	Remote Commander
	Local  Commander
	Config SpectraConfig
}

type spectraDrive struct {
	ID             string
	DriveName      string
	Partition      string
	PartDriveNum   string
	ElementAddress string
}

func (a *Spectra) slapi(method string, args ...string) string {
	script := a.Config.Script
	if script == "" {
		script = DefaultSLAPIScript
	}
	parts := []string{
		script, "--insecure",
		"--server", shellescape.Quote(a.Config.Server),
		"--user", shellescape.Quote(a.Config.User),
		"--insecure-passwd", shellescape.Quote(a.Config.Password),
		method,
	}
	return strings.Join(append(parts, args...), " ")
}

func (a *Spectra) partition() string {
	if a.Config.Partition == "" {
		return DefaultSpectraPartition
	}
	return a.Config.Partition
}

func (a *Spectra) DeviceInfo(ctx context.Context, inv Inventory) (map[string]Drive, error) {
	serials := inv.Serials()
	if len(serials) == 0 {
		return nil, fmt.Errorf("no serial numbers to validate")
	}

	library, err := a.libraryName(ctx)
	if err != nil {
		return nil, err
	}
	drives, err := a.driveList(ctx, SpectraShortName(library), serials)
	if err != nil {
		return nil, err
	}
	locations, err := a.locations(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range drives {
		d.ElementAddress = locations[d.PartDriveNum]
	}

	sg, err := loadSGMap(ctx, a.Local)
	if err != nil {
		return nil, err
	}
	ctl, err := loadControlPaths(ctx, a.Local)
	if err != nil {
		return nil, err
	}

	data := map[string]Drive{}
	for _, tape := range inv.Tapes {
		d, ok := drives[tape.SerialNumber]
		if !ok {
			continue
		}
		drive := Drive{
			DriveLogicalLibrary: library,
			DriveName:           d.DriveName,
			DriveDevice:         sg.deviceFor(tape),
		}
		if d.ElementAddress != "" {
			drive.DriveControlPath = ctl[d.ElementAddress]
		}
		data[tape.SerialNumber] = drive
	}
	return data, nil
}

func (a *Spectra) libraryName(ctx context.Context) (string, error) {
	out, err := a.Remote.Output(ctx, a.slapi("librarysettingslist"))
	if err != nil {
		return "", fmt.Errorf("librarysettingslist: %w", err)
	}
	lines := nonEmpty(out)
	if len(lines) == 0 {
		return "", fmt.Errorf("librarysettingslist: empty response")
	}
	return strings.Fields(lines[len(lines)-1])[0], nil
}

// driveList maps serial numbers to drives found in the SLAPI drive list.
func (a *Spectra) driveList(ctx context.Context, short string, serials []string) (map[string]*spectraDrive, error) {
	out, err := a.Remote.Output(ctx, a.slapi("drivelist"))
	if err != nil {
		return nil, fmt.Errorf("drivelist: %w", err)
	}
	drives := map[string]*spectraDrive{}
	for _, line := range tableRows(out) {
		for _, sn := range serials {
			if sn == "" || !strings.Contains(line, sn) {
				continue
			}
			m := driveRowRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			drives[sn] = &spectraDrive{
				ID:           m[1],
				DriveName:    SpectraDriveName(short, m[1]),
				Partition:    strings.TrimSpace(m[2]),
				PartDriveNum: m[3],
			}
		}
	}
	if len(drives) == 0 {
		return nil, fmt.Errorf("drivelist: none of %v found", serials)
	}
	return drives, nil
}

// locations maps partition drive numbers to changer element addresses.
func (a *Spectra) locations(ctx context.Context) (map[string]string, error) {
	partition := a.partition()
	out, err := a.Remote.Output(ctx, a.slapi("inventorylist", shellescape.Quote(partition)))
	if err != nil {
		return nil, fmt.Errorf("inventorylist: %w", err)
	}
	loc := map[string]string{}
	for _, line := range tableRows(out) {
		parts := strings.Fields(line)
		if len(parts) >= 4 && parts[0] == partition && parts[1] == "drive" {
			loc[parts[3]] = parts[2]
		}
	}
	return loc, nil
}

// SpectraShortName is the library tag drives are prefixed with: the last
// two characters of the library name up to any "_", upper-cased.
func SpectraShortName(library string) string {
	if len(library) > 2 {
		library = library[len(library)-2:]
	}
	return strings.ToUpper(strings.Split(library, "_")[0])
}

// SpectraDriveName shortens a drive ID such as "FR1/DBA2/fLTO-DRV3" to
// "<short>_F1B2D3".
func SpectraDriveName(short, id string) string {
	var b strings.Builder
	for _, seg := range strings.Split(id, "/") {
		b.WriteString(driveNameReplacer.Replace(seg))
	}
	return short + "_" + b.String()
}

func tableRows(out string) []string {
	lines := strings.Split(out, "\n")
	if len(lines) <= slapiHeaderLines {
		return nil
	}
	return nonEmptyLines(lines[slapiHeaderLines:])
}

func nonEmpty(out string) []string {
	return nonEmptyLines(strings.Split(out, "\n"))
}

func nonEmptyLines(lines []string) []string {
	kept, _ := (&processor.DropEmptyProcessor{}).Process(lines)
	return kept
}
