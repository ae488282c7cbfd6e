package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"github.com/usnistgov/bvcurve"
	"github.com/usnistgov/bvcurve/internal/samplelog"
	"github.com/usnistgov/bvcurve/internal/sweepdb"
	"gopkg.in/natefinch/lumberjack.v2"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}

	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper says where to find config files, creating an empty one in
// ~/.bvcurve if needed, and registers the sweep defaults.
func setupViper(v *viper.Viper) error {
	bvcurve.SetViperDefaults(v)

	HOME, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("finding user home dir: %w", err)
	}
	dotBvcurve := filepath.Join(HOME, ".bvcurve")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotBvcurve, filename+suffix); err != nil {
		return err
	}

	v.SetConfigName(filename)
	v.AddConfigPath(filepath.FromSlash("/etc/bvcurve"))
	v.AddConfigPath(dotBvcurve)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	return log.New(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	}, "", log.LstdFlags)
}

// startRecorder opens a CSV file that simulated devices write their played
// output to, in volts.
func startRecorder(inv bvcurve.Inventory, filename string, every int) (*samplelog.Writer, *os.File, error) {
	sim, ok := inv.(*bvcurve.SimulatedInventory)
	if !ok {
		return nil, nil, fmt.Errorf("-record works only with simulated devices")
	}
	fp, err := os.Create(filename)
	if err != nil {
		return nil, nil, err
	}
	w := samplelog.NewWriter(fp, 65536, time.Second)
	w.WriteHeader("Channel 0")
	sim.SetRecorder(w, every)
	return w, fp, nil
}

func main() {
	os.Exit(run())
}

// run does the work of main, so that deferred cleanup happens before exit.
func run() int {
	buildDate = strings.Replace(buildDate, ".", " ", -1)
	bvcurve.Build.Date = buildDate
	bvcurve.Build.Githash = githash
	bvcurve.Build.Summary = fmt.Sprintf("bvcurve version %s (git commit %s)", bvcurve.Build.Version, githash)
	if host, err := os.Hostname(); err == nil {
		bvcurve.Build.Host = host
	} else {
		bvcurve.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	serve := flag.Bool("serve", false, "serve sweep control (JSON-RPC and HTTP) and ZMQ status instead of running one sweep")
	record := flag.String("record", "", "record simulated output to given CSV file")
	recordEvery := flag.Int("record-every", 1, "record only every Nth sample")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is bvcurve version %s\n", bvcurve.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		return 0
	}

	banner := fmt.Sprintf("\nThis is bvcurve version %s (git commit %s)\n", bvcurve.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Log problems and sweep progress to 2 log files.
	logdir := filepath.Join("$HOME", ".bvcurve", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		log.Fatal(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		log.Fatal(err)
	}
	bvcurve.ProblemLogger = startLogger(problemname)
	bvcurve.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems to %s\n", problemname)
	fmt.Printf("Logging updates  to %s\n\n", logname)
	bvcurve.UpdateLogger.Printf("\n\n\n\n%s", banner)

	v := viper.GetViper()
	if err := setupViper(v); err != nil {
		log.Fatal(err)
	}
	cfg, err := bvcurve.LoadSweepConfig(v)
	if err != nil {
		log.Fatal(err)
	}

	// Ctrl-C or SIGTERM cancels the sweep, which zeroes the output before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	abort := make(chan struct{})

	session := &sweepdb.SessionMessage{
		ID:        sweepdb.NewID(),
		Hostname:  bvcurve.Build.Host,
		Githash:   githash,
		Version:   bvcurve.Build.Version,
		GoVersion: runtime.Version(),
		Start:     time.Now(),
	}
	db := sweepdb.DummyConnection()
	if cfg.DBAddr != "" {
		db = sweepdb.Start(cfg.DBAddr, session, abort)
		if err := db.Err(); err != nil {
			bvcurve.ProblemLogger.Printf("Could not connect to ClickHouse at %s: %v", cfg.DBAddr, err)
			fmt.Printf("Not recording to database: %v\n", err)
		}
	}

	inv := bvcurve.DefaultInventory()
	if *record != "" {
		w, fp, err := startRecorder(inv, *record, *recordEvery)
		if err != nil {
			log.Fatal(err)
		}
		defer func() {
			w.Close()
			fp.Close()
		}()
	}

	exitcode := 0
	if *serve {
		runServer(ctx, inv, db, abort)
	} else {
		exitcode = runOnce(ctx, cfg, inv, db)
	}
	close(abort)
	db.Wait()
	writeMemoryProfile(memprofile)
	return exitcode
}

// runOnce runs the configured sweep and returns the process exit code.
func runOnce(ctx context.Context, cfg bvcurve.SweepConfig, inv bvcurve.Inventory, db *sweepdb.Connection) int {
	s := &bvcurve.Session{
		Config:    cfg,
		Inventory: inv,
		DB:        db,
		OnStep: func(step bvcurve.SweepStep) {
			fmt.Printf("Voltage: %.2f V (%d of %d)\n", step.Amplitude, step.Index+1, step.Total)
		},
	}
	outcome, err := s.Run(ctx)
	switch {
	case errors.Is(err, bvcurve.ErrInterrupted):
		fmt.Println("\nSweep interrupted by user. Output set to 0 V.")
		return 0
	case err != nil:
		fmt.Printf("\nSweep failed: %v\n", err)
		return 1
	}
	fmt.Printf("\nSweep complete: %d steps, last amplitude %.2f V. Output set to 0 V.\n",
		outcome.Steps, outcome.LastAmplitude)
	return 0
}

// runServer serves sweep control and status until ctx is cancelled, then
// stops any running sweep.
func runServer(ctx context.Context, inv bvcurve.Inventory, db *sweepdb.Connection, abort chan struct{}) {
	updates := make(chan bvcurve.ClientUpdate, 100)
	control := bvcurve.NewSweepControl(inv, db, updates)
	go func() {
		if err := bvcurve.RunClientUpdater(bvcurve.Ports.Status, updates, abort); err != nil {
			bvcurve.ProblemLogger.Printf("status publisher: %v", err)
		}
	}()
	served := make(chan error, 2)
	go func() {
		served <- bvcurve.RunRPCServer(bvcurve.Ports.RPC, control, abort)
	}()
	go func() {
		served <- bvcurve.RunHTTPServer(bvcurve.Ports.HTTP, control)
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nShutting down.")
	case err := <-served:
		if err != nil {
			bvcurve.ProblemLogger.Printf("control server: %v", err)
			fmt.Println(err)
		}
	}
	var dummy string
	var ok bool
	control.Stop(&dummy, &ok)
	control.Wait()
}

// writeMemoryProfile writes the memory use profile to the indicated file.
// If `memprofile` points to an empty string, do not write.
func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}

	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
