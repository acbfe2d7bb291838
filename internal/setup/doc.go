// Package setup resolves and initializes the per-user state directories
// denv depends on.
//
// This package is essentially a collection of scripts and constants, and
// is therefore the only package that is allowed to call a global logger.
package setup
