package util

// MetricsBucketsMicroSeconds are histogram buckets, in seconds, for in-memory
// operations: 8µs to 65ms.
var MetricsBucketsMicroSeconds = []float64{
	8e-6, 16e-6, 32e-6, 64e-6, 128e-6, 256e-6, 512e-6, 1024e-6, 2048e-6, 4096e-6, 8192e-6, 16384e-6, 32768e-6, 65536e-6,
}

// MetricsBucketsMilliSeconds are histogram buckets, in seconds, for requests
// and message handling: 1ms to 4s.
var MetricsBucketsMilliSeconds = []float64{
	1e-3, 2e-3, 4e-3, 16e-3, 32e-3, 64e-3, 128e-3, 256e-3, 512e-3, 1024e-3, 2048e-3, 4096e-3,
}

// MetricsBucketsSize are histogram buckets for batch sizes in records.
var MetricsBucketsSize = []float64{
	1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024, 2048,
}
