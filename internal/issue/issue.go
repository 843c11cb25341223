// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/invowk/modlink/pkg/diag"
)

type (
	// MarkdownMsg is Markdown text rendered for the user.
	MarkdownMsg string

	// Renderer renders Markdown for a terminal.
	Renderer interface {
		Render(in string, stylePath string) (string, error)
	}

	// Issue is the long-form explanation of a diagnostic code.
	Issue struct {
		code        diag.Code
		mdMsg       MarkdownMsg
		suggestions []string
	}
)

// Code returns the diagnostic code the issue explains.
func (i *Issue) Code() diag.Code {
	return i.code
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

// Suggestions returns one-line fixes, shown with actionable errors.
func (i *Issue) Suggestions() []string {
	return slices.Clone(i.suggestions)
}

// Render renders the explanation and its suggestions with the glamour style
// at stylePath ("auto", "dark", "light", "notty" or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(strings.TrimSpace(string(i.mdMsg)))
	if len(i.suggestions) > 0 {
		md.WriteString("\n\n## Things you can try\n")
		for _, s := range i.suggestions {
			md.WriteString("- " + s + "\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	issues = map[diag.Code]*Issue{
		diag.CodeModuleParseFailed: {
			code: diag.CodeModuleParseFailed,
			mdMsg: `
# Module could not be read

The file has a module extension but its IR unit could not be decoded.
It was probably written by an incompatible compiler or truncated while copying.
The module is skipped; modules depending on it report an unresolved dependency.`,
			suggestions: []string{
				"Rebuild the module with the current compiler",
				"Check that the file was copied completely",
			},
		},
		diag.CodeMetadataInvalid: {
			code: diag.CodeMetadataInvalid,
			mdMsg: `
# Module metadata is invalid

The module's metadata symbol does not hold a valid JSON document, or a field
has the wrong type. Supported fields:

~~~json
{
  "title": "Blur",
  "version": "1.2.0",
  "dependencies": ["vendor.kernel"],
  "compatibility": {"macos": {"min": "10.13", "arch": ["arm64"]}},
  "genericTypes": {"defaultType": "float", "compatibleTypes": ["float", "half"]}
}
~~~`,
			suggestions: []string{
				"Validate the metadata JSON",
				"Use a semantic version for the version field",
			},
		},
		diag.CodeNotAModule: {
			code: diag.CodeNotAModule,
			mdMsg: `
# File is not a module

The IR unit was decoded but exports no module metadata symbol, so it cannot be
registered. Plain libraries belong on the library search path instead.`,
			suggestions: []string{
				"Move plain libraries out of the module search paths",
			},
		},
		diag.CodeDependencyUnresolved: {
			code: diag.CodeDependencyUnresolved,
			mdMsg: `
# Dependency not found

A module depends on a key that no scope provides. Keys are searched in the
composition, user, system and built-in scopes, in that order.`,
			suggestions: []string{
				"Run 'modlink modules list' to see the available keys",
				"Add the directory holding the dependency to search_paths in the config",
			},
		},
		diag.CodeNoCompatibleTarget: {
			code: diag.CodeNoCompatibleTarget,
			mdMsg: `
# No compatible target

The composition's combined compatibility excludes every configured
architecture. Every module the composition uses narrows the set of supported
platforms, OS versions and architectures.`,
			suggestions: []string{
				"Raise os_version in the config to the composition's minimum",
				"Add an architecture the composition supports to architectures",
				"Run 'modlink compat check' to see which module narrows the set",
			},
		},
		diag.CodeUnsupportedTarget: {
			code: diag.CodeUnsupportedTarget,
			mdMsg: `
# Target not supported

A module in the composition is incompatible with the requested target triple.`,
			suggestions: []string{
				"Run 'modlink compat check <triple> <keys...>' to find the module",
			},
		},
		diag.CodeIOFailed: {
			code: diag.CodeIOFailed,
			mdMsg: `
# File could not be read

A module, module set or cache artifact could not be opened or read.`,
			suggestions: []string{
				"Check file permissions",
				"Rebuild caches with 'modlink cache build'",
			},
		},
		diag.CodeCompileFailed: {
			code: diag.CodeCompileFailed,
			mdMsg: `
# Compile failed

A composition source or a generic specialization failed to compile, or two
modules of one cache tier export the same symbol.`,
			suggestions: []string{
				"Run with --verbose to see the compiler output",
				"Check composition sources with 'cue vet'",
			},
		},
		diag.CodeSearchPathInvalid: {
			code: diag.CodeSearchPathInvalid,
			mdMsg: `
# Search path unusable

A configured search path does not exist or is not a directory. It is
rescanned on the next load, so creating it later is enough.`,
			suggestions: []string{
				"Create the directory or remove it from search_paths",
			},
		},
		diag.CodeDependencyCycle: {
			code: diag.CodeDependencyCycle,
			mdMsg: `
# Dependency cycle

Composition sources contain each other, directly or through other sources.
None of the sources in the cycle can be compiled.`,
			suggestions: []string{
				"Break the cycle by moving shared nodes into their own source",
			},
		},
	}
)

// Values returns every issue ordered by code.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, code := range slices.Sorted(maps.Keys(issues)) {
		out = append(out, issues[code])
	}
	return out
}

// Get returns the issue of code, or nil.
func Get(code diag.Code) *Issue {
	return issues[code]
}
