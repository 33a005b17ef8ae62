// Package telemetry decodes the ASCII frames GLAS probes send over BLE.
//
// A frame is a single line of ';'-separated tokens. The first token is a
// header that selects a schema:
//
//	WAKE;<runtime>;<acousticLevel>;<levelRaw>;<axisX>;<axisY>;<axisZ>;<rotationDelta>
//	MAIN;<runtime>;<clock>;<battery>;<t1>;<t2>[;<t3>;<t4>];<pH>;<turbidity>[;<countdown>]
//
// Frames with an unknown header are not errors: they classify as Unknown and
// produce no entries. Frames with a known header that do not fit the schema
// are dropped whole and reported as ErrMalformedFrame.
package telemetry
