// Package authz governs who may act on tenant data: principals derived from the bound execution,
// and the audited system override that suspends tenant filtering.
//
// Core concepts:
//
//   - Principal: the identity of the execution bound to the context (System/User/Job/Test).
//     Bound by the dispatch layer, RunWithTenant, RunAsJob or NewSystemContext.
//
//   - Override: controlled suspension of tenant filtering via RunAsSystem (closure, preferred)
//     or WithSystemOverride (explicit context). Every override is audited.
//
// Usage rules:
//
//  1. Never bind an Execution with SystemOverride outside this package.
//  2. Prefer RunAsSystem closures to limit scope.
//  3. When using WithSystemOverride, assign to systemCtx, never ctx.
//  4. All override reasons must be stable strings for audit aggregation.
//  5. Background tasks must declare a System principal via NewSystemContext.
package authz
