package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/ezs2t-live/internal/audio"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:               "devices",
		Short:             "List audio input devices",
		PersistentPreRunE: loadDeps(deps),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := deps.App.Controller.Devices()
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), devices, deps.Config.Audio.DeviceID)
			return nil
		},
	}
}

// printDevices marks the system default with * and the configured device with >
func printDevices(w io.Writer, devices []audio.Device, selected int) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No input devices found")
		return
	}

	for _, d := range devices {
		mark := " "
		if d.ID == selected || (selected < 0 && d.IsDefault) {
			mark = ">"
		}
		def := " "
		if d.IsDefault {
			def = "*"
		}
		fmt.Fprintf(w, "%s%s %3d  %s\n", mark, def, d.ID, d.Name)
	}
}
