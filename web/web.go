// Package web holds the embedded demo frontend. It is a thin exercise page
// for the JSON API; production deployments are expected to bring their own
// widget.
package web

import "embed"

//go:embed all:static
var Static embed.FS
