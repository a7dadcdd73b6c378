// Package web carries the dashboard's templates and static assets.
package web

import (
	"embed"
	"io/fs"
)

// Templates holds layouts, partials and pages, including the guard states.
//
//go:embed templates/**/*.html
var Templates embed.FS

//go:embed static/**/*
var static embed.FS

// StaticFS returns the assets rooted at static/, as served under /static/.
func StaticFS() (fs.FS, error) {
	return fs.Sub(static, "static")
}
