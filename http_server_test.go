package bvcurve

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPGateway(t *testing.T) {
	inv, dev := newTestInventory()
	control := NewSweepControl(inv, nil, nil)
	srv := httptest.NewServer(NewHTTPHandler(control))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/devices")
	if err != nil {
		t.Fatal(err)
	}
	var devices []DeviceDescriptor
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	resp.Body.Close()
	assert.Len(t, devices, 2)

	resp, err = http.Post(srv.URL+"/start", "application/json", strings.NewReader(`{"Shape": "hexagon"}`))
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/start", "application/json", strings.NewReader(`not json`))
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := `{"Ramp": [0.25, 0.5], "SampleCount": 100, "Duration": 0.001, "StepDuration": 3600000000000}`
	resp, err = http.Post(srv.URL+"/start", "application/json", strings.NewReader(body))
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var status SweepStatus
	assert.Eventually(t, func() bool {
		control.Status(nil, &status)
		return status.StepIndex == 0
	}, 5*time.Second, time.Millisecond)

	resp, err = http.Get(srv.URL + "/status")
	assert.NoError(t, err)
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.True(t, status.Running)
	assert.Equal(t, 2, status.TotalSteps)

	resp, err = http.Get(srv.URL + "/devices")
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// A valid config conflicts with the running sweep, an invalid one is refused outright.
	resp, err = http.Post(srv.URL+"/start", "application/json", strings.NewReader(body))
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, err = http.Post(srv.URL+"/start", "application/json", strings.NewReader(`{"RampStop": 1e300}`))
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/stop", "application/json", nil)
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assertSafe(t, dev)

	resp, err = http.Post(srv.URL+"/stop", "application/json", nil)
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
