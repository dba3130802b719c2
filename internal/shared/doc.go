// Package shared holds cross-cutting helpers that belong to no single
// domain layer.
//
// The testutil subpackage provides the buffered slog handler used for log
// assertions (including secret-leak scanning), plus license fixtures built
// from well-known keys so digests are reproducible across tests. Nothing in
// this tree may import the store or transport layers; test files of those
// packages import testutil, and a reverse dependency would cycle.
package shared
