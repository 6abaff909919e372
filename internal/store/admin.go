package store

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/genlab/internal/httputil"
)

// AttachAdminRoutes mounts the debug pages for the database on mux:
// live SQL via tailsql, a list of recent runs and an on-demand backup.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "GenLab DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	runs := NewRunStore(db.DB)
	debug.Handle("genlab-runs", "Recent sweep runs (JSON, ?limit=N)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		list, err := runs.ListRuns(limit)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, list)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "genlab-backup-*")
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup dir: %v", err))
			return
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				logf("Failed to remove backup dir: %v", err)
			}
		}()

		backupPath := filepath.Join(dir, "genlab-backup.db")
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup: %v", err))
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, backupPath)
	}))
	return nil
}
