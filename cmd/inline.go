package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/inlinesvg/internal/inliner"
	"github.com/conneroisu/inlinesvg/internal/watcher"
)

var inlineCmd = &cobra.Command{
	Use:     "inline [file.html|dir ...]",
	Aliases: []string{"i"},
	Short:   "Inline SVG images referenced by HTML pages",
	Long: `Inline SVG images referenced by HTML pages.

Without arguments, or with "-", a page is read from stdin and written to
stdout. Directories are searched recursively for .html files; hidden
directories are skipped.

Examples:
  inlinesvg inline < index.html > out.html
  inlinesvg inline index.html            # Write the result to stdout
  inlinesvg inline -o dist site/         # Mirror site/ into dist/
  inlinesvg inline -w site/*.html        # Rewrite pages in place
  inlinesvg inline --strict -o dist site # Fail when an image is not inlined`,
	RunE: runInline,
}

var (
	inlineOutput  string
	inlineInPlace bool
	inlineStrict  bool
)

func init() {
	rootCmd.AddCommand(inlineCmd)

	inlineCmd.Flags().StringVarP(&inlineOutput, "output", "o", "", "Output directory")
	inlineCmd.Flags().BoolVarP(&inlineInPlace, "in-place", "w", false, "Rewrite pages in place")
	inlineCmd.Flags().BoolVar(&inlineStrict, "strict", false, "Fail when an element could not be inlined")
	inlineCmd.Flags().Bool("xhtml", false, "Emit XHTML compatible markup")
	inlineCmd.Flags().String("root", ".", "Directory svg paths are resolved against")
	inlineCmd.Flags().String("base-url", "", "Retrieve svg files over HTTP from this URL")

	bindFlags(inlineCmd.Flags(), map[string]string{
		"xhtml":    "xhtml",
		"root":     "fetch.root",
		"base-url": "fetch.base_url",
	})
}

// page is an input file and its path relative to the output directory.
type page struct {
	src string
	rel string
}

func runInline(cmd *cobra.Command, args []string) error {
	if inlineOutput != "" && inlineInPlace {
		return fmt.Errorf("cannot specify both --output and --in-place")
	}

	ctx := commandContext(cmd)
	_, _, plugin, err := setup(ctx)
	if err != nil {
		return err
	}
	defer plugin.Close()

	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		report, err := plugin.Render(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		return checkFailures(len(report.Failed))
	}

	pages, err := collectPages(args, inlineOutput)
	if err != nil {
		return err
	}
	if len(pages) > 1 && inlineOutput == "" && !inlineInPlace {
		return fmt.Errorf("%d pages found: use --output or --in-place", len(pages))
	}

	var elements, failed int
	for _, p := range pages {
		var dst string
		switch {
		case inlineInPlace:
			dst = p.src
		case inlineOutput != "":
			dst = filepath.Join(inlineOutput, p.rel)
		}

		report, err := inlineFile(ctx, plugin, p.src, dst, cmd.OutOrStdout())
		if err != nil {
			return fmt.Errorf("failed to inline %s: %w", p.src, err)
		}
		elements += report.Elements()
		failed += len(report.Failed)
	}

	if inlineOutput != "" || inlineInPlace {
		fmt.Fprintf(cmd.ErrOrStderr(), "Inlined %d of %d element(s) in %d page(s)\n",
			elements-failed, elements, len(pages))
	}
	return checkFailures(failed)
}

func checkFailures(failed int) error {
	if inlineStrict && failed > 0 {
		return fmt.Errorf("%d element(s) could not be inlined", failed)
	}
	return nil
}

// collectPages expands directories into the .html files below them. The
// output directory is never searched.
func collectPages(args []string, output string) ([]page, error) {
	notOutput := watcher.NoOutputFilter(output)

	var pages []page
	for _, arg := range args {
		info, err := appFs.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			pages = append(pages, page{src: arg, rel: filepath.Base(arg)})
			continue
		}

		err = afero.Walk(appFs, arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if path != arg && (strings.HasPrefix(info.Name(), ".") || !notOutput(path)) {
					return filepath.SkipDir
				}
				return nil
			}
			if !watcher.HTMLFilter(path) || !watcher.NoHiddenFilter(info.Name()) {
				return nil
			}
			rel, err := filepath.Rel(arg, path)
			if err != nil {
				return err
			}
			pages = append(pages, page{src: path, rel: rel})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return pages, nil
}

// inlineFile renders src to dst, or to out when dst is empty.
func inlineFile(ctx context.Context, plugin *inliner.Plugin, src, dst string, out io.Writer) (*inliner.Report, error) {
	data, err := afero.ReadFile(appFs, src)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	report, err := plugin.Render(ctx, bytes.NewReader(data), &buf)
	if err != nil {
		return nil, err
	}

	if dst == "" {
		_, err = out.Write(buf.Bytes())
		return report, err
	}
	if err := appFs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, err
	}
	return report, afero.WriteFile(appFs, dst, buf.Bytes(), 0o644)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
