// Package influxdb writes enrollment metrics to InfluxDB v2.
//
// Two measurements are written:
//
//	enrollment_outcome  one point per finished item (tags station, class, status)
//	bus_stats           transport counters at the end of a run
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are reported through
// SetOnError. The integration is optional and off by default.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteOutcome(influxdb.Outcome{Station: "bench-01", Class: "sensor", Status: "ok"})
package influxdb
