// Package internal contains the core implementation packages for inlinesvg.
//
// # Package Organization
//
// The internal packages are organized by pipeline stage:
//
//   - attrs: Attribute name validation and list parsing
//   - fetch: SVG retrieval and the generation keyed cache
//   - storage: Durable backends for cache generations (file, sqlite, redis)
//   - sprite: Symbol registry and the hidden sprite container
//   - reconcile: Attribute transfer from placeholder to svg element
//   - processor: Per-element inline and sprite replacement
//   - lazy: Visibility driven activation of elements
//   - inliner: Install, capabilities and per-document rendering
//   - config: Configuration loading and validation with viper
//   - server: Development server with live reload
//   - watcher: File system monitoring with debouncing
//
// # Data Flow
//
// A page is parsed into a node tree, every element carrying a directive is
// registered with the lazy controller, and activated elements are handed to
// the processor. The processor fetches the referenced file through the
// cache, reconciles attributes and swaps the element for inline markup or a
// sprite reference. Cache generations are written to storage when
// persistence is enabled.
package internal
