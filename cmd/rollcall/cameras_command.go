package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/camera"
	"rollcall/internal/daemonctl"
)

func newCamerasCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var local bool
	cmd := &cobra.Command{
		Use:   "cameras",
		Short: "List capture devices (from the daemon, or probed locally when it is not running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, source, err := listCameras(cmd, ctx, local)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, list)
			}
			stdout := cmd.OutOrStdout()
			if len(list.Cameras) == 0 {
				fmt.Fprintf(stdout, "No working cameras found (%s)\n", source)
				return nil
			}
			fmt.Fprint(stdout, renderCameras(list.Cameras))
			fmt.Fprintf(stdout, "\nSource: %s\n", source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&local, "local", false, "Probe devices directly instead of asking the daemon")
	return cmd
}

func listCameras(cmd *cobra.Command, ctx *commandContext, local bool) (*api.CameraList, string, error) {
	if !local {
		client, err := ctx.client()
		if err != nil {
			return nil, "", err
		}
		list, err := client.Cameras(cmd.Context())
		if err == nil {
			return list, "daemon", nil
		}
		if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
			return nil, "", err
		}
	}

	// Probing opens devices, which fails while the daemon holds them.
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, "", err
	}
	registry, err := camera.BuiltinRegistry(cfg.FFmpegBinary())
	if err != nil {
		return nil, "", fmt.Errorf("camera backends: %w", err)
	}
	manager := camera.NewManager(camera.OptionsFromConfig(cfg, registry, ctx.logger()))
	defer manager.Close()

	descriptors, err := manager.Discover(cmd.Context())
	if err != nil {
		return nil, "", fmt.Errorf("discover cameras: %w", err)
	}
	return &api.CameraList{ActiveID: -1, Cameras: api.FromDescriptors(descriptors, -1)}, "local probe", nil
}

func renderCameras(cameras []api.Camera) string {
	rows := make([][]string, 0, len(cameras))
	for _, c := range cameras {
		active := ""
		if c.Active {
			active = "*"
		}
		rows = append(rows, []string{
			active,
			strconv.Itoa(c.ID),
			c.Name,
			c.Backend,
			fmt.Sprintf("%dx%d", c.Width, c.Height),
			strconv.FormatFloat(c.FPS, 'f', -1, 64),
		})
	}
	return renderTable(
		[]string{"", "ID", "Name", "Backend", "Resolution", "FPS"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight},
	)
}
