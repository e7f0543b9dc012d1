package render

import "html/template"

type pageData struct {
	Title      string
	Checksum   string
	Body       template.HTML
	MathJaxURL string
	MermaidURL string
	AssetBase  string
	EventsURL  string
	TagsURL    string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{- if .AssetBase}}
<base href="{{.AssetBase}}">
{{- end}}
<script type="text/x-mathjax-config">
MathJax.Hub.Config({
  tex2jax: {
    inlineMath: [['$','$'], ['\\(','\\)']],
    displayMath: [['$$','$$'], ['\\[','\\]']],
    processEscapes: true
  },
  "HTML-CSS": { linebreaks: { automatic: true } }
});
</script>
<script src="{{.MathJaxURL}}"></script>
<script src="{{.MermaidURL}}"></script>
<script>mermaid.initialize({startOnLoad: true});</script>
</head>
<body>
{{.Body}}
{{- if .EventsURL}}
<script>
(function () {
  var token = new URLSearchParams(window.location.search).get("token");
  var eventsURL = {{.EventsURL}};
  if (token) { eventsURL += "?access_token=" + encodeURIComponent(token); }
  var events = new EventSource(eventsURL);
  events.addEventListener("view.scroll", function (e) {
    var data = JSON.parse(e.data);
    window.scrollTo(0, data.position);
  });
  var shown = {{.Checksum}};
  events.addEventListener("document.loaded", function (e) {
    var data = JSON.parse(e.data);
    if (data.checksum !== shown) { window.location.reload(); }
  });
  window.mdviewAddTag = function (name) {
    return fetch({{.TagsURL}}, {
      method: "POST",
      headers: token
        ? {"Content-Type": "application/json", "Authorization": "Bearer " + token}
        : {"Content-Type": "application/json"},
      body: JSON.stringify({name: name, position: Math.round(window.scrollY)})
    });
  };
})();
</script>
{{- end}}
</body>
</html>
`))
