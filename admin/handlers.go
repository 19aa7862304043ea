package admin

import (
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/fenetre/session"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("admin: encode response failed", "error", err)
	}
}

func pathID(r *http.Request) session.LogicalWindowID {
	return session.LogicalWindowID(chi.URLParam(r, "id"))
}

// handleList returns every stored snapshot plus the IDs of corrupt entries.
// GET /api/snapshots
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps, invalid, err := s.tr.List(r.Context())
	if err != nil {
		s.logger.Error("admin: list failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": snaps,
		"invalid":   invalid,
	})
}

// handleRestore focuses or rebuilds the window for a snapshot.
// POST /api/snapshots/{id}/restore
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	ok, err := s.tr.Restore(r.Context(), pathID(r))
	if err != nil {
		s.logger.Warn("admin: restore failed", "id", pathID(r), "error", err)
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"restored": ok})
}

// handleDelete moves a snapshot to the undo buffer.
// DELETE /api/snapshots/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.tr.Delete(r.Context(), pathID(r)); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleUndo restores a recently deleted snapshot.
// POST /api/snapshots/{id}/undo
func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	ok, err := s.tr.UndoDelete(r.Context(), pathID(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "undo window expired", http.StatusGone)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"restored": true})
}

// handleRename sets a snapshot's custom name.
// POST /api/snapshots/{id}/rename
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	name := s.sanitize.Sanitize(req.Name)
	if err := s.tr.Rename(r.Context(), pathID(r), name); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"name": name})
}

// handleStar sets a snapshot's starred flag.
// POST /api/snapshots/{id}/star
func (s *Server) handleStar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Starred bool `json:"starred"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.tr.ToggleStar(r.Context(), pathID(r), req.Starred); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"starred": req.Starred})
}

// handleStats reports storage accounting and the advisory quota grade.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, level, err := s.tr.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats": stats,
		"level": level.String(),
	})
}

// handleExport streams the portable JSON document.
// GET /api/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.tr.Export(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="fenetre-export.json"`)
	w.Write(data)
}

// handleImport merges an exported document into the store.
// POST /api/import
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		http.Error(w, "read body failed", http.StatusBadRequest)
		return
	}
	imported, dropped, err := s.tr.Import(r.Context(), data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"imported": imported,
		"dropped":  dropped,
	})
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>fenetre</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
td, th { padding: .4rem .8rem; border-bottom: 1px solid #ddd; text-align: left; }
.star { color: #b8860b; }
</style>
</head>
<body>
<h1>fenetre &mdash; saved windows</h1>
<table>
<tr><th></th><th>Name</th><th>Tabs</th><th>Captured</th><th>ID</th></tr>
{{range .Rows}}<tr>
<td>{{if .Starred}}<span class="star">&#9733;</span>{{end}}</td>
<td>{{.Name}}</td>
<td>{{.TabCount}}</td>
<td>{{.Captured}}</td>
<td><code>{{.ID}}</code></td>
</tr>
{{end}}</table>
<p>{{.Count}} sessions.</p>
</body>
</html>
`))

type indexRow struct {
	ID       string
	Name     string
	TabCount int
	Starred  bool
	Captured string
}

// handleIndex renders the HTML session list. Names come from snapshot
// content and pass through the sanitizer before templating.
// GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snaps, _, err := s.tr.List(r.Context())
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	rows := make([]indexRow, 0, len(snaps))
	for id, snap := range snaps {
		name := snap.CustomName
		if name == "" && len(snap.Tabs) > 0 {
			name = snap.Tabs[0].Title
		}
		rows = append(rows, indexRow{
			ID:       string(id),
			Name:     s.sanitize.Sanitize(name),
			TabCount: len(snap.Tabs),
			Starred:  snap.Starred,
			Captured: time.UnixMilli(snap.Timestamp).Format("2006-01-02 15:04"),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Captured > rows[j].Captured })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, map[string]any{"Rows": rows, "Count": len(rows)}); err != nil {
		s.logger.Error("admin: render index failed", "error", err)
	}
}
