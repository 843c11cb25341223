// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/modlink/pkg/ir"
	"github.com/invowk/modlink/pkg/module"
	"github.com/invowk/modlink/pkg/moduleset"
)

// examplesDir is the directory whose files are packed as examples.
const examplesDir = "examples"

func newPackCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pack <dir> <out.mls>",
		Short: "Pack a directory of modules into a module set",
		Long: `Pack every module file in dir into a module set archive. A Markdown file
named after a module (vendor.blur.md) becomes its description, and files
under dir/examples are added as examples.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := args[1]
			if filepath.Ext(out) != moduleset.FileExt {
				return fmt.Errorf("output %s must have the %s extension", out, moduleset.FileExt)
			}
			n, err := packModules(args[0], out)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s %s %s\n", SuccessStyle.Render("packed"), out,
				SubtitleStyle.Render(fmt.Sprintf("(%d modules)", n)))
			return nil
		},
	}
}

// packModules writes the module set and returns the number of modules in it.
// A failure removes the partial archive.
func packModules(dir, out string) (n int, err error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, f.Close())
		if err != nil {
			_ = os.Remove(out)
		}
	}()

	w := moduleset.Create(f)
	keys := make(map[string]bool)
	descriptions := make(map[string]string)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(filepath.ToSlash(rel), examplesDir+"/"):
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return w.AddExample(strings.TrimPrefix(filepath.ToSlash(rel), examplesDir+"/"), data)
		case filepath.Ext(path) == module.FileExt:
			key, err := addModule(w, path)
			if err != nil {
				return err
			}
			keys[key] = true
		case filepath.Ext(path) == ".md":
			descriptions[strings.TrimSuffix(filepath.Base(path), ".md")] = path
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, name := range slices.Sorted(maps.Keys(descriptions)) {
		path := descriptions[name]
		key, err := module.KeyFromFileName(name)
		if err != nil || !keys[key] {
			continue
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		if err := w.AddDescription(key, string(text)); err != nil {
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func addModule(w *moduleset.Writer, path string) (string, error) {
	key, err := module.KeyFromFileName(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	unit, err := ir.Unmarshal(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if _, err := module.New(key, unit.Clone(unit.Name()), module.Options{Path: path}); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return key, w.AddModule(key, unit)
}
