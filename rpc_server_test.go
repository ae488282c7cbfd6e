package bvcurve

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// pipeClient serves control over an in-memory connection and returns a
// JSON-RPC client for it.
func pipeClient(t *testing.T, control *SweepControl) *rpc.Client {
	t.Helper()
	server, err := NewRPCServer(control)
	if err != nil {
		t.Fatal(err)
	}
	serverConn, clientConn := net.Pipe()
	go ServeConn(server, serverConn)
	client := jsonrpc.NewClient(clientConn)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestServer(t *testing.T) {
	inv, dev := newTestInventory()
	updates := make(chan ClientUpdate, 100)
	control := NewSweepControl(inv, nil, updates)
	client := pipeClient(t, control)
	dummy := ""

	var devices []DeviceDescriptor
	if err := client.Call("SweepControl.ListDevices", &dummy, &devices); err != nil {
		t.Fatalf("SweepControl.ListDevices error: %v", err)
	}
	assert.Len(t, devices, 2)
	assert.Equal(t, "USB-202", devices[0].ProductName)
	assert.Equal(t, "USB-3101FS", devices[1].ProductName)
	assert.True(t, devices[1].SupportsOutput)

	var okay bool
	err := client.Call("SweepControl.Stop", &dummy, &okay)
	assert.Error(t, err, "Stop with no sweep running")

	bad := fastConfig()
	bad.Shape = "triangle"
	err = client.Call("SweepControl.Start", &bad, &okay)
	assert.Error(t, err)
	assert.False(t, okay)
	assert.ErrorIs(t, control.Start(&bad, &okay), ErrInvalidConfig)

	cfg := fastConfig()
	cfg.StepDuration = time.Hour
	if err := client.Call("SweepControl.Start", &cfg, &okay); err != nil {
		t.Fatalf("SweepControl.Start error: %v", err)
	}
	assert.True(t, okay)

	var status SweepStatus
	assert.Eventually(t, func() bool {
		client.Call("SweepControl.Status", &dummy, &status)
		return status.StepIndex == 0
	}, 5*time.Second, time.Millisecond)
	assert.True(t, status.Running)
	assert.Equal(t, "USB-3101FS", status.Device)
	assert.Equal(t, 0.5, status.Amplitude)
	assert.Equal(t, 3, status.TotalSteps)
	assert.NotEmpty(t, status.SweepID)

	err = client.Call("SweepControl.Start", &cfg, &okay)
	assert.Error(t, err, "second concurrent sweep")
	huge := fastConfig()
	huge.Ramp = nil
	huge.RampStop = 1e300
	err = client.Call("SweepControl.Start", &huge, &okay)
	assert.Error(t, err, "oversized ramp during a sweep")
	assert.NoError(t, client.Call("SweepControl.Status", &dummy, &status))
	assert.True(t, status.Running)
	err = client.Call("SweepControl.ListDevices", &dummy, &devices)
	assert.Error(t, err, "enumeration while a sweep runs")

	if err := client.Call("SweepControl.Stop", &dummy, &okay); err != nil {
		t.Fatalf("SweepControl.Stop error: %v", err)
	}
	assert.True(t, okay)
	assert.NoError(t, client.Call("SweepControl.Status", &dummy, &status))
	assert.False(t, status.Running)
	assert.True(t, status.Interrupted)
	assert.False(t, status.Completed)
	assert.Contains(t, status.LastError, "stop requested")
	assertSafe(t, dev)

	// A sweep that runs to completion.
	cfg.StepDuration = 0
	assert.NoError(t, client.Call("SweepControl.Start", &cfg, &okay))
	control.Wait()
	assert.NoError(t, client.Call("SweepControl.Status", &dummy, &status))
	assert.True(t, status.Completed)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 1.5, status.Amplitude)
	assertSafe(t, dev)

	var sawStatus bool
	for len(updates) > 0 {
		if u := <-updates; u.tag == "STATUS" {
			sawStatus = true
		}
	}
	assert.True(t, sawStatus)
}
