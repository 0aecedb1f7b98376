package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/inlinesvg/internal/inliner"
	"github.com/conneroisu/inlinesvg/internal/logging"
	"github.com/conneroisu/inlinesvg/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:     "watch <dir>",
	Aliases: []string{"w"},
	Short:   "Inline pages and keep the output in sync while files change",
	Long: `Inline every page below a directory into an output directory, then
watch for changes. A changed page is rendered again; a changed SVG file
invalidates the cache and renders every page again.

Examples:
  inlinesvg watch -o dist site
  inlinesvg watch -o dist --delay 500ms site`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchOutput string
	watchDelay  time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Output directory")
	watchCmd.Flags().DurationVar(&watchDelay, "delay", 300*time.Millisecond, "Debounce delay for file changes")
	_ = watchCmd.MarkFlagRequired("output")
}

// siteBuilder renders the pages of one source directory into an output
// directory.
type siteBuilder struct {
	plugin *inliner.Plugin
	logger logging.Logger
	src    string
	out    string
}

// buildAll renders every page and returns how many were written.
func (b *siteBuilder) buildAll(ctx context.Context) (int, error) {
	pages, err := collectPages([]string{b.src}, b.out)
	if err != nil {
		return 0, err
	}
	for _, p := range pages {
		if err := b.build(ctx, p); err != nil {
			return 0, err
		}
	}
	return len(pages), nil
}

func (b *siteBuilder) build(ctx context.Context, p page) error {
	report, err := inlineFile(ctx, b.plugin, p.src, filepath.Join(b.out, p.rel), io.Discard)
	if err != nil {
		return fmt.Errorf("failed to inline %s: %w", p.src, err)
	}
	b.logger.Info(ctx, "Inlined page",
		"page", p.rel,
		"processed", len(report.Processed),
		"failed", len(report.Failed))
	return nil
}

// handleChanges renders the pages affected by events.
func (b *siteBuilder) handleChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	for _, event := range events {
		if watcher.SVGFilter(event.Path) {
			b.plugin.Cache().Reset()
			_, err := b.buildAll(ctx)
			return err
		}
	}

	for _, event := range events {
		rel, err := filepath.Rel(b.src, event.Path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		dst := filepath.Join(b.out, rel)

		if exists, err := pathExists(event.Path); err != nil {
			return err
		} else if !exists {
			if err := appFs.Remove(dst); err != nil && !os.IsNotExist(err) {
				return err
			}
			continue
		}
		if err := b.build(ctx, page{src: event.Path, rel: rel}); err != nil {
			return err
		}
	}
	return nil
}

func pathExists(path string) (bool, error) {
	_, err := appFs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, plugin, err := setup(ctx)
	if err != nil {
		return err
	}
	defer plugin.Close()

	b := &siteBuilder{plugin: plugin, logger: logger, src: args[0], out: watchOutput}
	n, err := b.buildAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Inlined %d page(s) into %s\n", n, watchOutput)

	fileWatcher, err := watcher.NewFileWatcher(watchDelay, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fileWatcher.Stop()

	fileWatcher.AddFilter(watcher.AnyFilter(watcher.HTMLFilter, watcher.SVGFilter))
	fileWatcher.AddFilter(watcher.NoHiddenFilter)
	fileWatcher.AddFilter(watcher.NoOutputFilter(watchOutput))
	fileWatcher.AddHandler(b.handleChanges)

	paths := []string{b.src}
	if cfg.Fetch.BaseURL == "" && cfg.Fetch.Root != "" && filepath.Clean(cfg.Fetch.Root) != filepath.Clean(b.src) {
		paths = append(paths, cfg.Fetch.Root)
	}
	for _, p := range paths {
		if err := fileWatcher.AddRecursive(p); err != nil {
			logger.Warn(ctx, err, "Failed to watch path", "path", p)
		}
	}

	if err := fileWatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", strings.Join(paths, ", "))

	<-ctx.Done()
	return nil
}
