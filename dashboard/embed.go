// Package dashboard holds the embedded status page served by the REST
// API. The page under dist/ is a single self-contained HTML file that
// polls the JSON endpoints; there is no build step.
package dashboard

import "embed"

// DistFS holds the embedded dist/ files, compiled into the binary so
// the gateway serves its own UI with no files on disk.
//
//go:embed all:dist
var DistFS embed.FS
