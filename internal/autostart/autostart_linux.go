// oreon/appshell · watchthelight <wtl>

package autostart

import (
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

var desktopEntry = template.Must(template.New("desktop").Funcs(template.FuncMap{
	"quote": desktopQuote,
}).Parse(`[Desktop Entry]
Type=Application
Name={{.Name}}
Exec={{quote .Exec}}{{range .Args}} {{quote .}}{{end}}
X-GNOME-Autostart-enabled=true
NoDisplay=false
`))

func newPlatform(app App) (Manager, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".config")
	}
	return &fileManager{
		path: filepath.Join(dir, "autostart", app.Identifier+".desktop"),
		tmpl: desktopEntry,
		app:  app,
	}, nil
}

// desktopQuote quotes an Exec argument using the freedesktop quoting rules.
func desktopQuote(s string) string {
	if !strings.ContainsAny(s, " \t\n\"'\\><~|&;$*?#()`") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}
