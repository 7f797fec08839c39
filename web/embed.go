// Package web embeds the HTML templates and static assets served by movieflix.
package web

import "embed"

// TemplatesFS contains the HTML templates (layouts, pages and partials).
//
//go:embed all:templates
var TemplatesFS embed.FS

// StaticFS contains the stylesheet, script and images.
//
//go:embed all:static
var StaticFS embed.FS
