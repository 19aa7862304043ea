package placeholder

import "net/http"

// pageHTML is the placeholder page. It decodes the state blob client-side,
// shows the original title and favicon with a lightweight loading affordance,
// and navigates to the real URL the first time the tab is visible.
const pageHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Loading…</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center;
       justify-content: center; height: 100vh; margin: 0; color: #555; }
.card { text-align: center; }
.spin { width: 24px; height: 24px; margin: 0 auto 12px; border: 3px solid #ddd;
        border-top-color: #888; border-radius: 50%; animation: r 0.8s linear infinite; }
@keyframes r { to { transform: rotate(360deg); } }
</style>
</head>
<body>
<div class="card"><div class="spin"></div><div id="t">Loading…</div></div>
<script>
(function () {
	var enc = new URLSearchParams(location.search).get("state");
	if (!enc) return;
	var meta;
	try {
		meta = JSON.parse(atob(enc.replace(/-/g, "+").replace(/_/g, "/")));
	} catch (e) { return; }
	if (meta.title) {
		document.title = meta.title;
		document.getElementById("t").textContent = meta.title;
	}
	if (meta.favicon_url) {
		var link = document.createElement("link");
		link.rel = "icon";
		link.href = meta.favicon_url;
		document.head.appendChild(link);
	}
	function go() {
		if (document.visibilityState === "visible" && meta.url) {
			location.replace(meta.url);
		}
	}
	document.addEventListener("visibilitychange", go);
	go();
})();
</script>
</body>
</html>`

// Handler serves the placeholder page.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(pageHTML))
	})
}
