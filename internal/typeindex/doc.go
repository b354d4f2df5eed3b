// Package typeindex maps runtime types to mapper and identity functions.
//
// Go has no class inheritance, so the type hierarchy used for lookups is
// built from two sources:
//
//   - Interfaces: a type's interface ancestors are every interface key that
//     has been registered (as a mapper, identity, or parent target) and that
//     the type implements.
//   - Declared parents: DeclareParent(child, parent, upcast) states that child
//     values can be viewed as parent values. The upcast is applied before a
//     parent's mapper or identity function sees the value.
//
// Ancestor chains are breadth-first, so the exact type comes first, then
// direct parents and interfaces, then their parents. Chains are cached per
// type; every registration drops the cache, so a lookup never returns a
// stale result.
//
// Identity functions are unique per exact type. Mappers accumulate.
package typeindex
