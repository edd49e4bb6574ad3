// Package scoped provides failure kinds and a scoped resource manager.
//
// It offers:
// - a failure type with a kind, a message and an optional chained cause
// - checked (domain) and unchecked (runtime) failure kinds
// - resource definition registration with (kind, driver) and generic Definition
// - scopes that release acquired resources in reverse order exactly once
// - an outcome record carrying a primary failure plus suppressed release failures
// - ordered handler matching for caught failures
package scoped
