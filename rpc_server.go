package bvcurve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sort"
	"sync"
	"time"

	"github.com/usnistgov/bvcurve/internal/sweepdb"
)

// errStopRequested is the cancellation cause when a client calls Stop.
var errStopRequested = errors.New("stop requested by client")

// SweepControl is the RPC service that starts, stops and reports on sweeps.
type SweepControl struct {
	inventory     Inventory
	db            *sweepdb.Connection
	clientUpdates chan<- ClientUpdate

	mu     sync.Mutex // guards everything below
	status SweepStatus
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// SweepStatus is the state that SweepControl reports to clients.
type SweepStatus struct {
	Running     bool
	SweepID     string
	Device      string
	Mode        string
	StepIndex   int
	Amplitude   float64
	TotalSteps  int
	Completed   bool
	Interrupted bool
	LastError   string
}

// NewSweepControl creates the RPC service. db and updates may be nil.
func NewSweepControl(inv Inventory, db *sweepdb.Connection, updates chan<- ClientUpdate) *SweepControl {
	return &SweepControl{inventory: inv, db: db, clientUpdates: updates}
}

// Start begins a sweep with the given configuration in the background.
// A configuration that fails validation yields an error matching
// ErrInvalidConfig.
func (s *SweepControl) Start(cfg *SweepConfig, reply *bool) error {
	*reply = false
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Running {
		return fmt.Errorf("sweep %s is running, call Stop first", s.status.SweepID)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = SweepStatus{Running: true, Device: cfg.Device, Mode: cfg.Mode, StepIndex: -1}
	session := &Session{
		Config:    *cfg,
		Inventory: s.inventory,
		DB:        s.db,
		Updates:   s.clientUpdates,
		OnStep:    s.onStep,
	}
	log.Printf("Starting %s sweep on %s\n", cfg.Mode, cfg.Device)
	go func(done chan struct{}) {
		defer close(done)
		outcome, err := session.Run(ctx)
		cancel(nil)
		s.mu.Lock()
		s.status.Running = false
		s.status.SweepID = session.ID()
		s.status.Completed = outcome.Completed
		s.status.Interrupted = outcome.Interrupted
		if err != nil {
			s.status.LastError = err.Error()
		}
		s.mu.Unlock()
		s.broadcastStatus()
	}(s.done)
	s.broadcastStatusLocked()
	*reply = true
	return nil
}

func (s *SweepControl) onStep(step SweepStep) {
	s.mu.Lock()
	s.status.SweepID = step.SweepID
	s.status.StepIndex = step.Index
	s.status.Amplitude = step.Amplitude
	s.status.TotalSteps = step.Total
	s.mu.Unlock()
}

// Stop interrupts the running sweep and waits until its output is zeroed
// and its device released.
func (s *SweepControl) Stop(dummy *string, reply *bool) error {
	s.mu.Lock()
	if !s.status.Running {
		s.mu.Unlock()
		return fmt.Errorf("no sweep is running")
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	log.Printf("Stopping sweep\n")
	cancel(errStopRequested)
	<-done
	*reply = true
	return nil
}

// Wait blocks until the current sweep, if any, has finished.
func (s *SweepControl) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status reports the state of the current or most recent sweep.
func (s *SweepControl) Status(dummy *string, reply *SweepStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*reply = s.status
	return nil
}

// ListDevices enumerates the connected devices. It is refused while a sweep
// holds the devices.
func (s *SweepControl) ListDevices(dummy *string, reply *[]DeviceDescriptor) error {
	s.mu.Lock()
	running := s.status.Running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("cannot enumerate devices while a sweep is running")
	}
	devices, err := s.inventory.Devices()
	if err != nil {
		return err
	}
	defer ReleaseAll(devices)
	list := make([]DeviceDescriptor, 0, len(devices))
	for _, dev := range devices {
		list = append(list, dev.Descriptor())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ProductName < list[j].ProductName })
	*reply = list
	return nil
}

func (s *SweepControl) broadcastStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastStatusLocked()
}

func (s *SweepControl) broadcastStatusLocked() {
	publishNonBlocking(s.clientUpdates, NewClientUpdate("STATUS", s.status))
}

// ServeConn serves JSON-RPC requests for control on one connection until the
// client hangs up.
func ServeConn(server *rpc.Server, conn io.ReadWriteCloser) {
	server.ServeCodec(jsonrpc.NewServerCodec(conn))
}

// NewRPCServer registers control with a new rpc.Server.
func NewRPCServer(control *SweepControl) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return nil, err
	}
	return server, nil
}

// RunRPCServer sets up and runs a permanent JSON-RPC server on portrpc,
// broadcasting the sweep status every 2 seconds until abort is closed.
func RunRPCServer(portrpc int, control *SweepControl, abort <-chan struct{}) error {
	server, err := NewRPCServer(control)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-abort:
				return
			case <-ticker.C:
				control.broadcastStatus()
			}
		}
	}()

	port := fmt.Sprintf(":%d", portrpc)
	listener, err := net.Listen("tcp", port)
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	go func() {
		<-abort
		listener.Close()
	}()
	log.Printf("Listening for JSON-RPC clients on port %d\n", portrpc)
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-abort:
				return nil
			default:
				return fmt.Errorf("accept error: %w", err)
			}
		}
		log.Printf("new connection established\n")
		go ServeConn(server, conn)
	}
}
