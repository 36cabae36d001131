// Package pyenv knows about the files a Python project build deals with: pip lock files, the output
// of pip freeze, version strings and source distribution archives.
package pyenv
