// Package telemetry samples live instrument properties into a time-series
// store.
//
// Every interval the Sampler walks the container's slots and, for each
// active instance, writes one point of readings: laser power and state,
// stage and rotation axis positions, ADC channel voltages, pressure, and
// camera framerate and buffer usage. Disabled slots are skipped.
//
//	s := telemetry.New(container, influxClient, cfg.Telemetry.Interval())
//	s.SetLogger(logger.Component("telemetry"))
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop()
package telemetry
