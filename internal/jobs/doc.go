// Package jobs runs the catalog maintenance jobs: the TNS classification
// refresh, the per-target magnitude updaters and the Lasair ingestion loop.
//
// Jobs are sequential and do not retry. A failed run is reported to the
// caller and the next scheduled run starts from the last recorded state.
package jobs
