package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"rollcall/internal/api"
	"rollcall/internal/daemonctl"
	"rollcall/internal/faces"
	"rollcall/internal/logging"
	"rollcall/internal/store"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Build and inspect the face template roster",
	}
	templatesCmd.AddCommand(newTemplatesBuildCommand(ctx))
	templatesCmd.AddCommand(newTemplatesListCommand(ctx))
	templatesCmd.AddCommand(newTemplatesReloadCommand(ctx))
	return templatesCmd
}

func newTemplatesBuildCommand(ctx *commandContext) *cobra.Command {
	var prune bool
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Encode every roster photo and warm the template cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			var progress io.Writer
			if !asJSON {
				progress = cmd.ErrOrStderr()
			}
			result, err := buildRoster(cmd.Context(), ctx, progress, prune)
			if err != nil {
				return err
			}
			status := api.FromSnapshot(result.snapshot, &result.report, false)
			if asJSON {
				return writeJSON(cmd, status)
			}
			stdout := cmd.OutOrStdout()
			fmt.Fprintf(stdout, "Loaded %d templates from %s in %s (%d from cache)\n",
				result.report.Loaded, result.photoDir, result.report.Duration.Round(time.Millisecond), result.report.CacheHits)
			if len(status.Skipped) > 0 {
				fmt.Fprintf(stdout, "\nSkipped %d photos:\n", len(status.Skipped))
				fmt.Fprint(stdout, renderSkipped(status.Skipped))
				fmt.Fprintln(stdout)
			}
			if result.cacheNote != "" {
				fmt.Fprintln(stdout, result.cacheNote)
			}
			if prune {
				fmt.Fprintf(stdout, "Pruned %d stale cache entries\n", result.pruned)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Drop cached encodings for photos no longer in the roster")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newTemplatesListCommand(ctx *commandContext) *cobra.Command {
	var filter string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List loaded templates (from the daemon, or loaded locally when it is not running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := loadTemplateStatus(cmd, ctx)
			if err != nil {
				return err
			}
			status.Templates = filterTemplates(status.Templates, filter)
			if asJSON {
				return writeJSON(cmd, status)
			}
			stdout := cmd.OutOrStdout()
			if len(status.Templates) == 0 {
				fmt.Fprintln(stdout, "No templates")
				return nil
			}
			fmt.Fprint(stdout, renderTemplates(status.Templates))
			fmt.Fprintf(stdout, "\n%d of %d templates, version %d\n", len(status.Templates), status.Count, status.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show labels containing this text (accents and case ignored)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newTemplatesReloadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the daemon to reload the roster from the photo directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *daemonctl.Client) error {
				status, err := client.ReloadTemplates(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reloaded %d templates (version %d, %d skipped)\n",
					status.Count, status.Version, len(status.Skipped))
				return nil
			})
		},
	}
}

type rosterBuild struct {
	snapshot  *faces.Snapshot
	report    faces.LoadReport
	photoDir  string
	pruned    int64
	cacheNote string
}

// buildRoster loads the roster in-process against the face service, using
// the store's template cache when one is available.
func buildRoster(ctx context.Context, cmdCtx *commandContext, progress io.Writer, prune bool) (rosterBuild, error) {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return rosterBuild{}, err
	}
	logger := cmdCtx.logger()
	client := faces.NewClient(cfg.Recognition.FaceServiceURL, cfg.RequestTimeout())
	result := rosterBuild{photoDir: cfg.Paths.PhotoDir}

	var cache faces.TemplateCache
	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		result.cacheNote = fmt.Sprintf("Template cache unavailable: %v", err)
	} else {
		defer backend.Close()
		cache = store.TemplateCache(backend)
		if cache == nil {
			result.cacheNote = fmt.Sprintf("The %s store does not cache templates", store.Name(cfg))
		}
	}

	var bar *progressbar.ProgressBar
	roster := faces.NewStore(faces.StoreOptions{
		Detector:  client,
		Encoder:   client,
		Cache:     cache,
		ModelFunc: client.Model,
		Logger:    logging.NewNop(),
		Progress: func(done, total int) {
			if progress == nil {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(progress),
					progressbar.OptionSetDescription("Encoding roster"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("photos"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
		},
	})

	report, err := roster.Load(ctx, faces.DirSource{Dir: cfg.Paths.PhotoDir})
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(progress)
	}
	if err != nil {
		return rosterBuild{}, fmt.Errorf("load roster: %w", err)
	}
	result.snapshot = roster.Snapshot()
	result.report = report

	if prune {
		pruner := store.Pruner(backend)
		if pruner == nil {
			return result, errors.New("prune: the configured store has no template cache")
		}
		keep := make([]string, 0, len(result.snapshot.Templates))
		for _, t := range result.snapshot.Templates {
			keep = append(keep, t.Label)
		}
		for _, s := range report.Skipped {
			keep = append(keep, s.Name)
		}
		n, err := pruner.PruneTemplates(ctx, keep)
		if err != nil {
			return result, fmt.Errorf("prune template cache: %w", err)
		}
		result.pruned = n
	}
	return result, nil
}

func loadTemplateStatus(cmd *cobra.Command, ctx *commandContext) (*api.TemplateStatus, error) {
	client, err := ctx.client()
	if err != nil {
		return nil, err
	}
	status, err := client.Templates(cmd.Context(), true)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return nil, err
	}
	result, err := buildRoster(cmd.Context(), ctx, nil, false)
	if err != nil {
		return nil, err
	}
	local := api.FromSnapshot(result.snapshot, &result.report, true)
	return &local, nil
}

func filterTemplates(templates []api.TemplateEntry, filter string) []api.TemplateEntry {
	key := faces.SearchKey(filter)
	if key == "" {
		return templates
	}
	out := make([]api.TemplateEntry, 0, len(templates))
	for _, t := range templates {
		if strings.Contains(faces.SearchKey(t.Label), key) {
			out = append(out, t)
		}
	}
	return out
}

func renderTemplates(templates []api.TemplateEntry) string {
	rows := make([][]string, 0, len(templates))
	for _, t := range templates {
		id := "-"
		if t.IdentityID != nil {
			id = strconv.FormatInt(*t.IdentityID, 10)
		}
		rows = append(rows, []string{strconv.Itoa(t.Order), id, faces.DisplayLabel(t.Label), t.Label, strconv.Itoa(t.Dim)})
	}
	return renderTable(
		[]string{"#", "ID", "Name", "Photo", "Dim"},
		rows,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight},
	)
}

func renderSkipped(skipped []api.SkippedPhoto) string {
	rows := make([][]string, 0, len(skipped))
	for _, s := range skipped {
		rows = append(rows, []string{s.Name, s.Stage, s.Reason})
	}
	return renderTable([]string{"Photo", "Stage", "Reason"}, rows, nil)
}
