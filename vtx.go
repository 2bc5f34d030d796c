package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/sozanskiy/vtx-new/engine"
	"github.com/sozanskiy/vtx-new/plan"
	"github.com/sozanskiy/vtx-new/sdr"
	"github.com/sozanskiy/vtx-new/store"

	// Blind import support for sqlite3 used by store.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	sdrType  = flag.String("sdr", "", "receiver to use (one of: hackrf, synthetic)")
	planFile = flag.String("plan", "", "channel plan JSON, empty for the built-in Raceband plan")
	output   = flag.String("output", "", "candidate persistence to use (one of: sqlite, none)")
	topN     = flag.Int("top", 8, "number of candidates to print per sweep report")
	interval = flag.Duration("interval", 2*time.Second, "how often to print the candidate report")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/vtx.sqlite", "File path of the sqlite DB file to use.")

	// HackRF
	ampEnable = flag.Bool("amp", false, "enable the HackRF RF amplifier")
	lnaGain   = flag.Int("lnaGain", 24, "HackRF LNA (IF) gain, 0-40 dB in 8 dB steps")
	vgaGain   = flag.Int("vgaGain", 30, "HackRF VGA (baseband) gain, 0-62 dB in 2 dB steps")

	// Synthetic
	hotFreq = flag.Int64("hotFreq", 0, "frequency the synthetic receiver carries a tone on (0 for pure noise)")
)

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	flag.Parse()

	// Receiver setup
	var sampler sdr.Sampler
	switch strings.ToLower(*sdrType) {
	case sdr.HackRFSourceName:
		sampler = &sdr.HackRF{
			AmpEnable: *ampEnable,
			LNAGain:   *lnaGain,
			VGAGain:   *vgaGain,
		}
	case sdr.SyntheticSourceName:
		sampler = &sdr.Synthetic{HotFreqHz: *hotFreq}
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
	case "none", "":
		// In-memory candidates only.
	default:
		glog.Exitf("%q is not a supported persistence method, pick one of: sqlite, none", *output)
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
		Sampler: sampler,
		Store:   st,
		Plan:    p,
	})
	if err != nil {
		glog.Exit(err)
	}
	defer e.Close()

	if err := e.StartScan(); err != nil {
		glog.Exit(err)
	}
	fmt.Printf("Scanner starting: %d channels, sr=%d Hz, dwell=%d ms, sdr=%s\n",
		len(p.Channels()), p.SampleRateHz, p.DwellMs, sampler.Name())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report(e, *topN)
		case s := <-sig:
			glog.Infof("received %s, shutting down", s)
			e.StopScan()
			glog.Flush()
			return
		}
	}
}

func report(e *engine.Engine, limit int) {
	status := e.Status()
	cands := e.Candidates(limit)
	fmt.Printf("[%s] scan=%s pass=%dms candidates=%d\n",
		time.Now().Format("15:04:05"), status.Scan, status.CurrentPassElapsed, status.Candidates)
	for _, c := range cands {
		fmt.Printf("  %8.1f MHz  SNR=%6.2f dB  Power=%7.2f dB  hits=%d  %s\n",
			float64(c.FreqHz)/1e6, c.EMASNR, c.EMAPower, c.Hits, c.Status)
	}
}
