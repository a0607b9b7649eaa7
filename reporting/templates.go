package reporting

import (
	_ "embed"
)

//go:embed templates/results.html.tmpl
var resultsTemplate string
