package webapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"webkernel/pkg/kerr"
	"webkernel/pkg/process"
	"webkernel/pkg/process/ipc"
	"webkernel/pkg/router"
	"webkernel/pkg/server"
	"webkernel/pkg/vfs"
	"webkernel/pkg/websocket"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kernel is what the API reads and signals.
type Kernel interface {
	Processes() []*process.Process
	Process(pid int) (*process.Process, error)
	SendSignal(sig ipc.Signal, pid int) error
	SendSignalToProcessGroup(sig ipc.Signal, pgid int) error
	Root() *vfs.Directory
	BootID() uuid.UUID
	BootTime() time.Time
}

// Config configures the handler.
type Config struct {
	// Token guards every route but /healthz. Empty disables the check.
	Token string

	// Console serves /console when non-nil.
	Console *Console

	// CheckOrigin overrides the websocket same-origin check.
	CheckOrigin func(r *http.Request) bool

	Logger log.Logger
}

// API serves the routes listed in the package documentation.
type API struct {
	k        Kernel
	cfg      Config
	upgrader websocket.Upgrader
	log      log.Logger
}

// NewHandler returns the web surface for k.
func NewHandler(k Kernel, cfg Config) http.Handler {
	a := &API{
		k:        k,
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: cfg.CheckOrigin, Subprotocols: []string{"webkernel.console"}},
		log:      cfg.Logger,
	}

	r := router.New()
	r.Use(
		router.RequestID(),
		router.Logging(a.log),
		router.Recovery(a.log),
		router.Exempt(router.TokenAuth(cfg.Token), "/healthz"),
	)
	r.GET("/healthz", server.HealthHandler(a.health))
	r.GET("/api/system", http.HandlerFunc(a.system))
	r.GET("/api/processes", http.HandlerFunc(a.processes))
	r.GET("/api/processes/:pid", http.HandlerFunc(a.process))
	r.POST("/api/processes/:pid/signal/:name", http.HandlerFunc(a.signal))
	r.GET("/api/files/*path", http.HandlerFunc(a.files))
	if cfg.Console != nil {
		r.GET("/console", http.HandlerFunc(a.console))
	}
	return r
}

func (a *API) health() map[string]any {
	return map[string]any{"bootId": a.k.BootID().String()}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps kernel errors to statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, kerr.ErrNoSuchProcess), errors.Is(err, kerr.ErrNoSuchGroup),
		errors.Is(err, kerr.ErrNoSuchFile), errors.Is(err, kerr.ErrNotDirectory):
		status = http.StatusNotFound
	case errors.Is(err, kerr.ErrInvalidArgument), errors.Is(err, kerr.ErrInvalidSignalName):
		status = http.StatusBadRequest
	case errors.Is(err, kerr.ErrNotPermitted):
		status = http.StatusForbidden
	}
	body, _ := sjson.Set(`{}`, "error", err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body+"\n")
}

func (a *API) system(w http.ResponseWriter, r *http.Request) {
	procs := a.k.Processes()
	live := 0
	for _, p := range procs {
		if !p.Exited() {
			live++
		}
	}

	body := `{}`
	body, _ = sjson.Set(body, "bootId", a.k.BootID().String())
	if boot := a.k.BootTime(); !boot.IsZero() {
		body, _ = sjson.Set(body, "bootTime", boot.UTC().Format(time.RFC3339))
		body, _ = sjson.Set(body, "uptimeSeconds", time.Since(boot).Seconds())
	}
	body, _ = sjson.Set(body, "processes.total", len(procs))
	body, _ = sjson.Set(body, "processes.live", live)
	if a.cfg.Console != nil {
		body, _ = sjson.Set(body, "consoleClients", a.cfg.Console.Clients())
	}
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body+"\n")
}

func (a *API) processes(w http.ResponseWriter, r *http.Request) {
	procs := a.k.Processes()
	infos := make([]process.Info, 0, len(procs))
	for _, p := range procs {
		infos = append(infos, p.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *API) lookup(r *http.Request) (*process.Process, error) {
	pid, err := strconv.Atoi(router.Param(r, "pid"))
	if err != nil {
		return nil, kerr.Wrap(kerr.ErrInvalidArgument, "pid "+router.Param(r, "pid"))
	}
	return a.k.Process(pid)
}

func (a *API) process(w http.ResponseWriter, r *http.Request) {
	p, err := a.lookup(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Info())
}

// signal delivers a signal to a process, or to its process group when the
// body is {"group": true}.
func (a *API) signal(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(router.Param(r, "pid"))
	if err != nil {
		writeError(w, kerr.Wrap(kerr.ErrInvalidArgument, "pid "+router.Param(r, "pid")))
		return
	}
	sig, err := ipc.ParseSignal(router.Param(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err != nil {
		writeError(w, kerr.Wrap(kerr.ErrInvalidArgument, err.Error()))
		return
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		writeError(w, kerr.Wrap(kerr.ErrInvalidArgument, "body is not JSON"))
		return
	}

	group := gjson.GetBytes(body, "group").Bool()
	if group {
		err = a.k.SendSignalToProcessGroup(sig, pid)
	} else {
		err = a.k.SendSignal(sig, pid)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	a.log.Info().Str("signal", sig.String()).Int("target", pid).Bool("group", group).Msg("signal sent over http")
	writeJSON(w, http.StatusOK, map[string]any{"signal": sig.String(), "target": pid, "group": group})
}

// Entry is one directory listing row.
type Entry struct {
	Name string `json:"name"`
	vfs.Status
}

// files lists a directory as JSON or returns a text file's content.
// Devices, pipes and terminals report only their status.
func (a *API) files(w http.ResponseWriter, r *http.Request) {
	path := vfs.Clean(router.Param(r, "path"))
	f, err := vfs.Resolve(a.k.Root(), "/", path)
	if err != nil {
		writeError(w, err)
		return
	}

	switch f := f.(type) {
	case *vfs.Directory:
		names := f.Names()
		entries := make([]Entry, 0, len(names))
		for _, name := range names {
			if name == "." || name == ".." {
				continue
			}
			child, ok := f.Lookup(name)
			if !ok {
				continue
			}
			entries = append(entries, Entry{Name: name, Status: child.Status()})
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": path, "entries": entries})
	case *vfs.TextFile:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, f.Text())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"path": path, "status": f.Status()})
	}
}

func (a *API) console(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r)
	if err != nil {
		a.log.Debug().Err(err).Msg("console upgrade failed")
		return
	}
	if err := a.cfg.Console.Attach(conn); err != nil {
		a.log.Debug().Err(err).Msg("console client ended")
	}
}
