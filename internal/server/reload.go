package server

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"
)

const reloadScriptFormat = `<script>
(function (endpoint, reloadType) {
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(scheme + location.host + endpoint);
  ws.onmessage = function (event) {
    var msg = JSON.parse(event.data);
    if (msg.type === reloadType) {
      location.reload();
    }
  };
})(%s, %s);
</script>`

// ReloadScript renders the live reload client connecting to endpoint. The
// endpoint and message type are JSON encoded into the script.
func ReloadScript(endpoint string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		ep, err := templ.JSONString(endpoint)
		if err != nil {
			return err
		}
		typ, err := templ.JSONString(MessageReload)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, reloadScriptFormat, ep, typ)
		return err
	})
}

// injectReloadScript places the reload client before the last </body>, or
// at the end of page when it has none.
func injectReloadScript(ctx context.Context, page []byte) ([]byte, error) {
	var script bytes.Buffer
	if err := ReloadScript(ReloadPath).Render(ctx, &script); err != nil {
		return nil, err
	}

	i := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if i < 0 {
		return append(page, script.Bytes()...), nil
	}

	out := make([]byte, 0, len(page)+script.Len())
	out = append(out, page[:i]...)
	out = append(out, script.Bytes()...)
	return append(out, page[i:]...), nil
}
