// Package influxdb keeps a history of sensor readings and socket commands
// in InfluxDB v2.
//
// Two measurements are written:
//
//	sensor_reading,uid=amm,kind=illuminance value=123.4
//	socket_switch,socket=30_3 state=1i,ok=true
//
// Writes go through the batching, non-blocking WriteAPI of
// influxdb-client-go. Connect fails fast when the server does not answer a
// ping; the rest of the controller keeps working without a time series
// store.
package influxdb
