// Package influxdb is the telemetry sink for instrument readings.
//
// Two measurements are written, both through the batched, non-blocking
// write API of influxdb-client-go:
//
//   - instrument_readings: sampled properties of active instruments,
//     tagged contract, slot and implementation
//   - slot_changes: every activation attempt with its outcome
//
// Timestamps are stored with millisecond precision and every point carries
// the site id as a tag.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package influxdb
