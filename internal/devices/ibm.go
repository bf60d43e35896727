package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultITDT is where the IBM tape diagnostic tool is installed.
const DefaultITDT = "/root/ITDT/itdt"

// IBM resolves drives through the library REST-over-SCSI interface of ITDT.
type IBM struct {
	Cmd   Commander
	ITDT  string
	Debug bool
}

type ibmDrive struct {
	SerialNumber   string      `json:"sn"`
	LogicalLibrary string      `json:"logicalLibrary"`
	Location       string      `json:"location"`
	ElementAddress json.Number `json:"elementAddress"`
}

func (a *IBM) DeviceInfo(ctx context.Context, inv Inventory) (map[string]Drive, error) {
	itdt := a.ITDT
	if itdt == "" {
		itdt = DefaultITDT
	}
	sg, err := loadSGMap(ctx, a.Cmd)
	if err != nil {
		return nil, err
	}
	ctl, err := loadControlPaths(ctx, a.Cmd)
	if err != nil {
		return nil, err
	}

	tapes := make(map[string]Device, len(inv.Tapes))
	for _, t := range inv.Tapes {
		tapes[t.SerialNumber] = t
	}

	data := map[string]Drive{}
	for _, changer := range inv.Changers {
		cmd := itdt
		if a.Debug {
			cmd += " -LL debug -LP /dev/null"
		}
		cmd += fmt.Sprintf(" -f %s RoS GET /v1/drives", changer.Generic)
		out, err := a.Cmd.Output(ctx, cmd)
		if err != nil {
			return nil, err
		}
		var items []ibmDrive
		if err := json.Unmarshal([]byte(out), &items); err != nil {
			return nil, fmt.Errorf("itdt drives on %s: %w", changer.Generic, err)
		}

		for _, item := range items {
			tape, ok := tapes[strings.TrimLeft(item.SerialNumber, "0")]
			if !ok {
				continue
			}
			library := strings.ToUpper(item.LogicalLibrary)
			drive := Drive{
				DriveLogicalLibrary: library,
				DriveName:           IBMDriveName(library, item.Location),
				DriveDevice:         sg.deviceFor(tape),
			}
			if p, ok := ctl[item.ElementAddress.String()]; ok {
				drive.DriveControlPath = p
			}
			data[item.SerialNumber] = drive
		}
	}
	return data, nil
}

// IBMDriveName joins the last two characters of the library's first "_"
// segment with the last "_" segment of the location. Library "TS4500_L1"
// and location "F1C1R2_D3" give "00_D3".
func IBMDriveName(logicalLibrary, location string) string {
	segs := strings.Split(location, "_")
	locationName := segs[len(segs)-1]

	lib := strings.Split(logicalLibrary, "_")[0]
	if len(lib) > 2 {
		lib = lib[len(lib)-2:]
	}
	return strings.ToUpper(lib) + "_" + locationName
}
