// Package erased replaces opaque return-type placeholders ("impl Trait")
// with the concrete types recorded by their origin functions.
//
// An erased type names its origin function path and an index into that
// function's ErasedTypes list. The template found there may mention the
// origin's generic parameters; those are substituted with the origin path's
// generic arguments, and the result is expanded again because templates may
// themselves contain erased types. A visited set over the erased types being
// expanded turns self-referential templates into an error instead of an
// endless expansion.
package erased
