// Package templates holds the HTML fragments returned to HTMX clients.
// The *_templ.go files are generated from the .templ sources by templ.
package templates
