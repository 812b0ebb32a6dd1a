/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"html/template"
	"log/slog"
	"net/http"
)

// MathJaxURL is the typesetter loaded by the preview page.
const MathJaxURL = "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"

var previewTmpl = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>mathsketch preview</title>
<script>window.MathJax = {tex: {inlineMath: [['$', '$']], displayMath: [['\\[', '\\]']]}};</script>
<script id="MathJax-script" async src="{{.MathJax}}"></script>
<style>
body { font-family: sans-serif; margin: 2em; }
.math { font-size: 1.6em; padding: 1em; border: 1px solid #ddd; }
pre { background: #f6f6f6; padding: 1em; white-space: pre-wrap; }
</style>
</head>
<body>
{{- if .Macros}}
<div style="display:none">\[{{.Macros}}\]</div>
{{- end}}
<div class="math">\[{{.Latex}}\]</div>
<pre>{{.Latex}}</pre>
</body>
</html>
`))

type previewData struct {
	MathJax string
	Latex   string
	Macros  string
}

// handlePreview renders ?latex= (and optional ?macros=) as a MathJax page.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := previewData{MathJax: MathJaxURL, Latex: q.Get("latex"), Macros: q.Get("macros")}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := previewTmpl.Execute(w, data); err != nil {
		s.log.ErrorContext(r.Context(), "render preview failed", slog.Any("err", err))
	}
}
