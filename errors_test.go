package bvcurve

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHardwareError(t *testing.T) {
	cause := errors.New("USB timeout")
	err := hardwareErrorf("USB-3101FS", "start scan", cause)
	assert.ErrorIs(t, err, ErrHardwareFailure)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "hardware failure: start scan (device USB-3101FS): USB timeout", err.Error())

	var hwerr *HardwareError
	assert.True(t, errors.As(err, &hwerr))
	assert.Equal(t, "start scan", hwerr.Op)

	assert.Equal(t, "hardware failure: enumerate devices", hardwareErrorf("", "enumerate devices", nil).Error())
	assert.NotErrorIs(t, err, ErrInterrupted)
}

func TestScanFlags(t *testing.T) {
	assert.Equal(t, "NONE", ScanOptions(0).String())
	assert.Equal(t, "BACKGROUND", Background.String())
	assert.Equal(t, "CONTINUOUS", Continuous.String())
	assert.Equal(t, "IDLE", Idle.String())
	assert.Equal(t, "RUNNING", Running.String())
	assert.Equal(t, "square", Square.String())
	assert.Equal(t, "Shape(9)", Shape(9).String())
}
