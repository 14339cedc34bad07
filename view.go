package main

import (
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/chatdesk/internal/chat"
	"github.com/gosuda/chatdesk/internal/gateway"
	"github.com/gosuda/chatdesk/internal/markup"
)

// statusPage renders a read-only overview of the live sessions. Message
// bodies go through the shared markup renderer, so what an operator sees
// here matches the widget and the console byte for byte.
func statusPage(name string, svc *chat.Service, rooms *gateway.Rooms) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rows, err := svc.Overview()
		if err != nil {
			log.Warn().Err(err).Msg("[chatdesk] status overview")
			http.Error(w, "overview unavailable", http.StatusInternalServerError)
			return
		}
		data := struct {
			Name     string
			Now      string
			Online   int
			Sessions []chat.Summary
		}{
			Name:     name,
			Now:      time.Now().Format(time.RFC1123),
			Online:   rooms.OnlineVisitors(),
			Sessions: rows,
		}
		_ = statusTmpl.Execute(w, data)
	}
}

var statusTmpl = template.Must(template.New("status").Funcs(template.FuncMap{
	"render": func(text string, sender chat.Sender) template.HTML {
		variant := "visitor"
		if sender != chat.SenderVisitor {
			variant = "agent"
		}
		return markup.RenderHTML(text, variant)
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Name}} status</title>
  <style>
    body { font-family: sans-serif; background: #f9f9f9; padding: 40px; }
    h1 { color: #333; }
    .card { background: white; border-radius: 12px; padding: 24px; margin-bottom: 16px; box-shadow: 0 2px 6px rgba(0,0,0,0.1); }
    .meta { color: #666; font-size: 0.9em; }
    .status { display:inline-block; padding:2px 10px; border-radius:999px; font-size:12px; font-weight:700 }
    .status.active { background:#ecfdf5; color:#065f46 }
    .status.waiting { background:#fef3c7; color:#92400e }
    .status.closed { background:#fee2e2; color:#b91c1c }
    .last { margin-top: 8px; }
    .chat-link { font-weight: 600; }
    .chat-link-agent { color: #2563eb; }
    .chat-link-visitor { color: #059669; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <p class="meta">{{.Now}} &middot; {{.Online}} visitor(s) online &middot; {{len .Sessions}} session(s)</p>
  {{range .Sessions}}
  <div class="card">
    <span class="status {{.Session.Status}}">{{.Session.Status}}</span>
    <b>{{if .Session.VisitorName}}{{.Session.VisitorName}}{{else}}anonymous{{end}}</b>
    <span class="meta">{{.Session.VisitorEmail}}</span>
    {{if .Unread}}<span class="meta">&middot; {{.Unread}} unread</span>{{end}}
    {{with .LastMessage}}
    <div class="last"><span class="meta">{{.SenderName}}:</span> {{render .Text .Sender}}</div>
    {{end}}
  </div>
  {{else}}
  <p class="meta">No sessions yet.</p>
  {{end}}
</body>
</html>`))
