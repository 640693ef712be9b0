package main

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/index.html static/style.css
var embeddedFiles embed.FS

// parsePageTemplate loads the upload/result page from the binary.
func parsePageTemplate() (*template.Template, error) {
	return template.ParseFS(embeddedFiles, "templates/index.html")
}

// staticHandler serves the embedded stylesheet under /static/.
func staticHandler() (http.Handler, error) {
	static, err := fs.Sub(embeddedFiles, "static")
	if err != nil {
		return nil, err
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(static))), nil
}
