// SPDX-License-Identifier: MPL-2.0

// Package linkplan resolves a composition's dependency closure into the
// inputs a linker needs: precompiled caches, module files, in-memory module
// units, external libraries and frameworks. Every category is split by
// whether it comes from a built-in scope, because built-in code can never be
// unloaded during live coding while other code may need to be.
package linkplan
