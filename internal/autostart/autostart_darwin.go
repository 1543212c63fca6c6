// oreon/appshell · watchthelight <wtl>

package autostart

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var launchAgent = template.Must(template.New("plist").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{xml .Identifier}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{xml .Exec}}</string>
{{- range .Args}}
		<string>{{xml .}}</string>
{{- end}}
	</array>
	<key>RunAtLoad</key>
	<true/>
</dict>
</plist>
`))

func newPlatform(app App) (Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &fileManager{
		path: filepath.Join(home, "Library", "LaunchAgents", app.Identifier+".plist"),
		tmpl: launchAgent,
		app:  app,
	}, nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
