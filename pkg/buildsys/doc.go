// Package buildsys implements the small task engine behind pybuild. Tasks are declared in Go
// (see package pipeline) or in an optional tasks.star Starlark script and executed through
// mvdan.cc/sh so that commands behave the same on every platform.
//
// A task only runs after all of its dependencies succeeded. The first failing command aborts the
// whole run and a non-zero exit status is reported as an *ExitError.
package buildsys
