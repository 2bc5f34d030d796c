package main

import (
	"database/sql"
	"errors"
	"flag"
	"image/png"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/sozanskiy/vtx-new/bus"
	"github.com/sozanskiy/vtx-new/engine"
	"github.com/sozanskiy/vtx-new/focus"
	"github.com/sozanskiy/vtx-new/plan"
	"github.com/sozanskiy/vtx-new/render"
	"github.com/sozanskiy/vtx-new/scan"
	"github.com/sozanskiy/vtx-new/sdr"
	"github.com/sozanskiy/vtx-new/store"

	// Blind import support for sqlite3 used by store.
	_ "github.com/mattn/go-sqlite3"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	sdrType  = flag.String("sdr", "synthetic", "receiver to use (one of: hackrf, synthetic)")
	planFile = flag.String("plan", "", "channel plan JSON, empty for the built-in Raceband plan")
	output   = flag.String("output", "", "candidate persistence to use (one of: sqlite, mysql, none)")
	demodCmd = flag.String("demodCmd", "", "external demodulator command for focus sessions, %f is replaced with the frequency in Hz")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/vtx.sqlite", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "vtx", "Name of the DB to use.")
)

const (
	apiPrefix = "/api/v1"

	// sseHeartbeat keeps idle event streams alive through proxies.
	sseHeartbeat = time.Second

	// snapshotCandidates caps the initial candidate list sent to a new
	// event stream subscriber.
	snapshotCandidates = 10
)

type apiServer struct {
	engine *engine.Engine
}

func (s *apiServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *apiServer) candidates(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}
	c.JSON(http.StatusOK, s.engine.Candidates(limit))
}

func (s *apiServer) candidatesCSV(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	if err := store.WriteCSV(c.Writer, s.engine.Candidates(0)); err != nil {
		glog.Warningf("csv export: %s", err)
	}
}

func (s *apiServer) scanStart(c *gin.Context) {
	err := s.engine.StartScan()
	if err != nil && !errors.Is(err, scan.ErrAlreadyRunning) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Starting a running scan is not an error, the state is what was asked.
	c.JSON(http.StatusOK, gin.H{"state": string(scan.StateRunning)})
}

func (s *apiServer) scanStop(c *gin.Context) {
	s.engine.StopScan()
	c.JSON(http.StatusOK, gin.H{"state": string(scan.StateStopped)})
}

func (s *apiServer) scanStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

type focusRequest struct {
	FreqHz int64 `json:"freq_hz" binding:"required"`
}

func (s *apiServer) focusStart(c *gin.Context) {
	var req focusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := s.engine.Focus(c.Request.Context(), req.FreqHz)
	switch {
	case errors.Is(err, focus.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, focus.ErrHardwareUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, session)
	}
}

func (s *apiServer) focusStop(c *gin.Context) {
	if err := s.engine.StopFocus(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

type recordToggle struct {
	Type   string `json:"type" binding:"required"`
	Enable bool   `json:"enable"`
}

func (s *apiServer) record(c *gin.Context) {
	var req recordToggle
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := s.engine.SetRecording(req.Type, req.Enable)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *apiServer) getConfig(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", s.engine.Config())
}

func (s *apiServer) putConfig(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.LoadConfig(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", s.engine.Config())
}

// events is the SSE stream: an initial state snapshot, then live bus events,
// with heartbeats while nothing happens.
func (s *apiServer) events(c *gin.Context) {
	events, cancel := s.engine.Subscribe(100)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	status := s.engine.Status()
	c.SSEvent("message", gin.H{"type": bus.TypeScanState, "state": string(status.Scan)})
	focused := gin.H{"type": bus.TypeFocusState, "focused": status.Session != nil}
	if status.Session != nil {
		focused["freq_hz"] = status.Session.FreqHz
	}
	c.SSEvent("message", focused)
	if cands := s.engine.Candidates(snapshotCandidates); len(cands) > 0 {
		c.SSEvent("message", gin.H{"type": bus.TypeCandidates, "items": cands})
	}
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", sseBody(ev))
			return true
		case <-heartbeat.C:
			c.SSEvent("message", gin.H{"type": "heartbeat", "ts": time.Now().UnixMilli()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// sseBody flattens a bus event into the wire object clients expect.
func sseBody(ev bus.Event) gin.H {
	body := gin.H{"type": ev.Type}
	switch payload := ev.Payload.(type) {
	case map[string]any:
		for k, v := range payload {
			body[k] = v
		}
	default:
		body["items"] = ev.Payload
	}
	return body
}

func (s *apiServer) waterfall(c *gin.Context) {
	img, err := render.Waterfall(s.engine.History(), render.Options{AddGrid: true})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", "image/png")
	if err := png.Encode(c.Writer, img); err != nil {
		glog.Warningf("waterfall encode: %s", err)
	}
}

func newRouter(e *engine.Engine) *gin.Engine {
	s := &apiServer{engine: e}
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group(apiPrefix)
	api.GET("/health", s.health)
	api.GET("/candidates", s.candidates)
	api.GET("/candidates.csv", s.candidatesCSV)
	api.POST("/scan/start", s.scanStart)
	api.POST("/scan/stop", s.scanStop)
	api.GET("/scan/status", s.scanStatus)
	api.POST("/focus", s.focusStart)
	api.DELETE("/focus", s.focusStop)
	// Fallback for clients that prefer POST over DELETE.
	api.POST("/focus/stop", s.focusStop)
	api.POST("/focus/record", s.record)
	api.GET("/config", s.getConfig)
	api.PUT("/config", s.putConfig)
	api.GET("/events", s.events)
	api.GET("/waterfall.png", s.waterfall)
	return router
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	flag.Parse()
	gin.SetMode(gin.ReleaseMode)

	// Receiver setup
	var sampler sdr.Sampler
	switch strings.ToLower(*sdrType) {
	case sdr.HackRFSourceName:
		sampler = &sdr.HackRF{}
	case sdr.SyntheticSourceName:
		sampler = &sdr.Synthetic{}
	default:
		glog.Exitf("%q is not a supported SDR type, pick one of: hackrf, synthetic", *sdrType)
	}

	// Persistence setup
	var st store.Store
	switch strings.ToLower(*output) {
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			glog.Exitf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		st, err = store.NewSQLite(db)
		if err != nil {
			glog.Exitf("unable to initialize sqlite store: %s", err)
		}
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			glog.Exitf("unable to read MySQL password file %q: %s", *mysqlPasswordFile, err)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			glog.Exitf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		st, err = store.NewMySQL(db)
		if err != nil {
			glog.Exitf("unable to initialize MySQL store: %s", err)
		}
	case "none", "":
		// In-memory candidates only.
	default:
		glog.Exitf("%q is not a supported persistence method, pick one of: sqlite, mysql, none", *output)
	}

	p := plan.Default()
	if *planFile != "" {
		var err error
		p, err = plan.LoadFile(*planFile)
		if err != nil {
			glog.Exitf("unable to load channel plan %q: %s", *planFile, err)
		}
	}

	e, err := engine.New(engine.Options{
		Sampler:      sampler,
		Store:        st,
		Plan:         p,
		DemodCommand: strings.Fields(*demodCmd),
	})
	if err != nil {
		glog.Exit(err)
	}
	defer e.Close()

	router := newRouter(e)
	if *certFile != "" || *keyFile != "" {
		glog.Fatal(router.RunTLS(*listen, *certFile, *keyFile))
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		glog.Fatal(router.Run(*listen))
	}

	glog.Flush()
}
