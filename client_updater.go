package bvcurve

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest sweep state.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// NewClientUpdate pairs a message tag (e.g. "STEP") with a JSON-encodable state.
func NewClientUpdate(tag string, state interface{}) ClientUpdate {
	return ClientUpdate{tag: tag, state: state}
}

// SweepStep is published with tag "STEP" each time a ramp amplitude is applied.
type SweepStep struct {
	SweepID   string
	Index     int
	Amplitude float64
	Total     int
}

// frames returns the two message frames published for an update.
func (u ClientUpdate) frames() ([][]byte, error) {
	message, err := json.Marshal(u.state)
	if err != nil {
		return nil, fmt.Errorf("encoding %s update: %w", u.tag, err)
	}
	return [][]byte{[]byte(u.tag), message}, nil
}

// publishNonBlocking queues an update if there is room, and otherwise drops it
// so that sweep timing never waits on status clients.
func publishNonBlocking(updates chan<- ClientUpdate, update ClientUpdate) {
	if updates == nil {
		return
	}
	select {
	case updates <- update:
	default:
		ProblemLogger.Printf("client update queue full, dropping %s message", update.tag)
	}
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket, until abort is closed.
func RunClientUpdater(portstatus int, updates <-chan ClientUpdate, abort <-chan struct{}) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		return fmt.Errorf("binding status publisher to %s: %w", hostname, err)
	}

	for {
		select {
		case <-abort:
			return nil
		case update := <-updates:
			frames, err := update.frames()
			if err != nil {
				ProblemLogger.Print(err)
				continue
			}
			if _, err := pubSocket.SendMessage(frames[0], frames[1]); err != nil {
				ProblemLogger.Printf("publishing %s update: %v", update.tag, err)
			}
		}
	}
}
