// Package catalog defines the local target catalog used by the alert
// pipeline: targets with key-value extras, reduced data points, target
// lists and broker-query records, plus the Store interface that persists them.
package catalog
