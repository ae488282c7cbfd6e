// Package sweepdb records BV sweeps and their steps in a ClickHouse database.
package sweepdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

// Connection sends sweep records to ClickHouse from its own goroutine.
// Every method is safe to call on a nil or unconnected Connection, where it
// does nothing.
type Connection struct {
	conn     clickhouse.Conn
	err      error
	errLock  sync.Mutex // guards err
	session  *SessionMessage
	sweepmsg chan *SweepMessage
	stepmsg  chan *StepMessage
	stopping chan struct{} // closed when the handler starts to disconnect
	sendLock sync.RWMutex  // held for reading by senders, for writing to set closed
	closed   bool
	sync.WaitGroup
}

// Queue depths. A sender blocks only when the handler falls this far behind.
const (
	sweepQueueDepth = 16
	stepQueueDepth  = 1024
)

const databaseName = "bvcurve" // official SQL name of the database

const timeFormat = "2006-01-02 15:04:05.000000"

// NewID returns a new, time-ordered unique ID for a session or sweep.
func NewID() string {
	return ulid.Make().String()
}

// IsConnected reports whether records will actually be stored.
func (db *Connection) IsConnected() bool {
	if !db.canInsert() {
		return false
	}
	db.sendLock.RLock()
	defer db.sendLock.RUnlock()
	return !db.closed
}

// canInsert reports whether the server connection is usable, whether or not
// new records are still accepted.
func (db *Connection) canInsert() bool {
	return db != nil && db.conn != nil && db.Err() == nil
}

// Err returns the first error seen by the connection, if any.
func (db *Connection) Err() error {
	if db == nil {
		return nil
	}
	db.errLock.Lock()
	defer db.errLock.Unlock()
	return db.err
}

func (db *Connection) setErr(err error) {
	db.errLock.Lock()
	defer db.errLock.Unlock()
	if db.err == nil {
		db.err = err
	}
}

// Ping checks that a ClickHouse server is alive at addr.
func Ping(addr string) error {
	db := createConnection(addr)
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %w", db.Err())
	}
	defer db.conn.Close()
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return nil
}

// Start connects to the server at addr, records the session, and handles
// records until abort is closed. On failure the returned Connection is
// unconnected and Err says why; it is still safe to use.
func Start(addr string, session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection(addr)
	db.session = session
	db.logSession()
	if db.IsConnected() {
		go db.handleConnection(abort)
	} else if db.conn != nil {
		db.conn.Close()
		db.Done()
	}
	return db
}

// DummyConnection returns an unconnected Connection whose Wait returns at once.
func DummyConnection() *Connection {
	return &Connection{}
}

func createConnection(addr string) *Connection {
	db := &Connection{}
	if addr == "" {
		db.err = errors.New("no database address configured")
		return db
	}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("BVCURVE_DB_USER"),
		Password: os.Getenv("BVCURVE_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "bvcurve", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:        []string{addr},
		Auth:        auth,
		ClientInfo:  client,
		DialTimeout: 5 * time.Second,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = conn.Ping(ctx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		conn.Close()
		db.err = err
		return db
	}
	return newConnection(conn)
}

// newConnection wraps an open ClickHouse connection. The caller must run
// handleConnection.
func newConnection(conn clickhouse.Conn) *Connection {
	db := &Connection{
		conn:     conn,
		sweepmsg: make(chan *SweepMessage, sweepQueueDepth),
		stepmsg:  make(chan *StepMessage, stepQueueDepth),
		stopping: make(chan struct{}),
	}
	db.Add(1)
	return db
}

func (db *Connection) logSession() {
	if !db.canInsert() || db.session == nil {
		return
	}
	const nowait = false
	s := db.session
	if err := db.conn.AsyncInsert(context.Background(), `INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		s.ID, s.Hostname, s.Githash, s.Version, s.GoVersion,
		s.Start.Format(timeFormat), s.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.setErr(err)
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.disconnect()
			return
		case m := <-db.sweepmsg:
			db.handleSweepMessage(m)
		case m := <-db.stepmsg:
			db.handleStepMessage(m)
		}
	}
}

// disconnect refuses further records, stores everything already queued, and
// closes the connection.
func (db *Connection) disconnect() {
	close(db.stopping)
	db.sendLock.Lock()
	db.closed = true
	db.sendLock.Unlock()

	for len(db.sweepmsg) > 0 {
		db.handleSweepMessage(<-db.sweepmsg)
	}
	for len(db.stepmsg) > 0 {
		db.handleStepMessage(<-db.stepmsg)
	}
	if db.session != nil {
		db.session.End = time.Now()
		db.logSession()
	}
	if db.conn != nil {
		db.conn.Close()
	}
}

// send queues one record for the handler. It returns at once if the
// connection is closed, and gives up if the handler starts to disconnect
// while the queue is full.
func send[T any](db *Connection, queue chan *T, msg *T) {
	if !db.canInsert() {
		return
	}
	db.sendLock.RLock()
	defer db.sendLock.RUnlock()
	if db.closed {
		return
	}
	select {
	case queue <- msg:
	case <-db.stopping:
	}
}

// RecordSweep stores the start of a sweep. The record is copied, so the
// caller may go on to modify msg.
func (db *Connection) RecordSweep(msg *SweepMessage) {
	if msg == nil {
		return
	}
	m := *msg
	send(db, db.sweepmsg, &m)
}

// FinishSweep stores the final state of a sweep, stamping its end time.
// Once it returns, the record is stored even if the connection is aborted.
func (db *Connection) FinishSweep(msg *SweepMessage) {
	if msg == nil {
		return
	}
	msg.End = time.Now()
	m := *msg
	send(db, db.sweepmsg, &m)
}

// RecordStep stores one emitted sweep step.
func (db *Connection) RecordStep(msg *StepMessage) {
	if msg == nil {
		return
	}
	m := *msg
	send(db, db.stepmsg, &m)
}

func (db *Connection) handleSweepMessage(m *SweepMessage) {
	if !db.canInsert() {
		return
	}
	const nowait = false
	sessionID := ""
	if db.session != nil {
		sessionID = db.session.ID
	}
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO sweeps VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, sessionID, m.Device, m.Mode, m.Shape, m.Frequency, m.SampleRate, m.SampleCount,
		m.RampStart, m.RampStop, m.RampSteps, m.Steps, m.Completed, m.Interrupted, m.Error,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sweeps ", err)
		db.setErr(err)
	}
}

func (db *Connection) handleStepMessage(m *StepMessage) {
	if !db.canInsert() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(), `INSERT INTO steps VALUES (?, ?, ?, ?)`, nowait,
		m.SweepID, m.Index, m.Amplitude, m.Time.Format(timeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into steps ", err)
		db.setErr(err)
	}
}
