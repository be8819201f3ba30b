package statusline

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/valyala/fasttemplate"
)

const defaultTemplate = "session for {{user}}: token expires in {{expires_in}}"

// Formatter renders the session status line from a user-editable template
// file. Placeholders use {{name}} syntax. Safe for concurrent use; Load may
// be called at any time to swap the template (see pkg/watcher).
type Formatter struct {
	mu       sync.RWMutex
	template *fasttemplate.Template
}

func New() *Formatter {
	return &Formatter{
		template: fasttemplate.New(defaultTemplate, "{{", "}}"),
	}
}

// Load replaces the template with the contents of path.
func (f *Formatter) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading status template")
	}
	tmpl, err := fasttemplate.NewTemplate(strings.TrimRight(string(data), "\n"), "{{", "}}")
	if err != nil {
		return errors.Wrap(err, "parsing status template")
	}
	f.mu.Lock()
	f.template = tmpl
	f.mu.Unlock()
	return nil
}

// Format renders the current template. Unknown placeholders render empty.
func (f *Formatter) Format(vars map[string]string) string {
	f.mu.RLock()
	tmpl := f.template
	f.mu.RUnlock()
	return tmpl.ExecuteFuncString(func(w io.Writer, tag string) (int, error) {
		return w.Write([]byte(vars[tag]))
	})
}
