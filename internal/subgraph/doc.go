// SPDX-License-Identifier: MPL-2.0

// Package subgraph compiles composition sources into node-class IR units so
// a composition can be used as a node inside another composition.
package subgraph
