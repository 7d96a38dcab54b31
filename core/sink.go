package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ControllerSink applies control parameter patches to the external
// controller. Implementations must be idempotent: applying the same
// patch twice has the same observable effect as once.
type ControllerSink interface {
	ApplyControlPatch(ctx context.Context, patch ControlPatch) error
}

// NetworkSink applies QoS patches to the network fabric, under the same
// idempotence contract.
type NetworkSink interface {
	ApplyNetworkPatch(ctx context.Context, patch NetworkPatch) error
}

// HTTPControllerSink POSTs control patches as JSON to the controller
// service.
type HTTPControllerSink struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPControllerSink creates a controller sink for the given base URL.
func NewHTTPControllerSink(baseURL string, timeout time.Duration) *HTTPControllerSink {
	return &HTTPControllerSink{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPControllerSink) ApplyControlPatch(ctx context.Context, patch ControlPatch) error {
	return postJSON(ctx, s.Client, s.BaseURL+"/control/patch", patch)
}

// HTTPNetworkSink POSTs network patches as JSON to the network
// configuration service.
type HTTPNetworkSink struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPNetworkSink creates a network sink for the given base URL.
func NewHTTPNetworkSink(baseURL string, timeout time.Duration) *HTTPNetworkSink {
	return &HTTPNetworkSink{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPNetworkSink) ApplyNetworkPatch(ctx context.Context, patch NetworkPatch) error {
	return postJSON(ctx, s.Client, s.BaseURL+"/network/patch", patch)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding patch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("sink rejected patch: %s", resp.Status)
	}
	return nil
}

// LogSink is the dry-run implementation of both sink interfaces: it logs
// patches instead of applying them. Used by replay mode and when no sink
// URLs are configured.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a logging sink.
func NewLogSink() *LogSink {
	return &LogSink{log: logrus.WithField("component", "sink")}
}

func (s *LogSink) ApplyControlPatch(_ context.Context, patch ControlPatch) error {
	s.log.WithField("patch", patch).Info("control patch (dry-run)")
	return nil
}

func (s *LogSink) ApplyNetworkPatch(_ context.Context, patch NetworkPatch) error {
	s.log.WithField("patch", patch).Info("network patch (dry-run)")
	return nil
}

// DispatchAck reports the asynchronous outcome of one envelope dispatch.
type DispatchAck struct {
	EnvelopeID  string
	Tick        int64
	CooldownKey string
	Err         error
}

// Dispatcher fans an ActionEnvelope out to the controller and network
// sinks without blocking the control loop: each dispatch runs on its own
// goroutine under a bounded timeout, and the outcome is delivered on the
// ack channel for bookkeeping on a later tick. Failed dispatches are
// never retried within the same tick.
type Dispatcher struct {
	controller ControllerSink
	network    NetworkSink
	timeout    time.Duration
	acks       chan DispatchAck
	log        *logrus.Entry
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(controller ControllerSink, network NetworkSink, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		controller: controller,
		network:    network,
		timeout:    timeout,
		acks:       make(chan DispatchAck, 64),
		log:        logrus.WithField("component", "dispatcher"),
	}
}

// Acks delivers dispatch outcomes. The channel is buffered; the loop
// drains it at tick boundaries.
func (d *Dispatcher) Acks() <-chan DispatchAck {
	return d.acks
}

// Dispatch fires the envelope at the sinks and returns immediately.
// A Hold envelope acks success without touching the sinks.
func (d *Dispatcher) Dispatch(env *ActionEnvelope) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		var err error
		if !env.Bundle.Control.Empty() {
			if cerr := d.controller.ApplyControlPatch(ctx, env.Bundle.Control); cerr != nil {
				err = &SinkDispatchError{Sink: "controller", Key: env.CooldownKey, Err: cerr}
			}
		}
		if err == nil && !env.Bundle.Network.Empty() {
			if nerr := d.network.ApplyNetworkPatch(ctx, env.Bundle.Network); nerr != nil {
				err = &SinkDispatchError{Sink: "network", Key: env.CooldownKey, Err: nerr}
			}
		}

		ack := DispatchAck{EnvelopeID: env.ID, Tick: env.Tick, CooldownKey: env.CooldownKey, Err: err}
		select {
		case d.acks <- ack:
		default:
			// The loop is far behind on acks; dropping one only loses a
			// bookkeeping sample, never an action.
			d.log.WithField("envelope", env.ID).Warn("ack channel full, dropping ack")
		}
	}()
}
