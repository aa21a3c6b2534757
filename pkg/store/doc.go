// Package store persists trace runs and their rows and rebuilds them as
// named time series.
//
// A run fixes an ordered list of column names when it is created. Each row
// is a positional []float64 aligned with those columns and stamped with its
// arrival time by the store. Reading a trace projects the stored arrays
// back onto the column names, producing either CSV text
//
//	time,v1,v2
//	2024-01-02 15:04:05,1,2
//
// or a column-major map suited to charting.
//
// TraceStore holds the domain rules and delegates persistence to a Backend.
// NewMemoryBackend is provided for tests and single-process use; durable
// backends live in the redisstore, postgres and sqlite subpackages.
package store
