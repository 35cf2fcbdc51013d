package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the client.
const (
	// ReadingsMeasurement holds the sampled properties of active
	// instruments, one field per property.
	ReadingsMeasurement = "instrument_readings"

	// SlotChangesMeasurement records every activation attempt.
	SlotChangesMeasurement = "slot_changes"
)

// WriteReading queues the sampled properties of one active instrument,
// tagged by contract, slot id and implementation name.
//
//	client.WriteReading("laser", "Laser", "FakeLaser",
//	    map[string]any{"actual_power": 0.42, "on": true}, time.Now())
func (c *Client) WriteReading(contract, slot, implementation string, fields map[string]any, ts time.Time) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: reading for %s/%s has no fields", ErrWriteFailed, contract, slot)
	}
	return c.queue(write.NewPoint(
		ReadingsMeasurement,
		map[string]string{"contract": contract, "slot": slot, "implementation": implementation},
		fields,
		ts,
	))
}

// WriteSlotChange queues one activation outcome. An empty implementation
// means the slot was disabled; activationErr marks a failed construction.
func (c *Client) WriteSlotChange(contract, slot, implementation string, activationErr error, ts time.Time) error {
	p := write.NewPointWithMeasurement(SlotChangesMeasurement).
		AddTag("contract", contract).
		AddTag("slot", slot).
		AddField("implementation", implementation).
		AddField("ok", activationErr == nil).
		SetTime(ts)
	if activationErr != nil {
		p.AddField("error", activationErr.Error())
	}
	return c.queue(p)
}

func (c *Client) queue(p *write.Point) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writer.WritePoint(p)
	c.points.Add(1)
	return nil
}
