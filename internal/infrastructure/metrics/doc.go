// Package metrics emits amcrest2mqtt operational counters to a Datadog agent
// over DogStatsD.
//
// Counters track camera events, handled and failed commands, and failed
// publishes; a gauge tracks storage usage. Every metric carries the camera
// serial and model as constant tags.
package metrics
