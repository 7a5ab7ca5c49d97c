package util

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api/write"
)

func TimeOperationMicroseconds(op func()) int64 {
	start := time.Now()
	op()
	return time.Since(start).Microseconds()
}

// MockWriteAPI stands in for InfluxDB when no host is configured. It only counts
// the points written per measurement name.
type MockWriteAPI struct {
	mu     sync.Mutex
	points map[string]int
}

func (m *MockWriteAPI) WriteRecord(line string) {}

func (m *MockWriteAPI) WritePoint(point *write.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points == nil {
		m.points = make(map[string]int)
	}
	m.points[point.Name()]++
}

// Points returns how many points named measurement were written.
func (m *MockWriteAPI) Points(measurement string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.points[measurement]
}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

// Errors never delivers; nothing is sent anywhere.
func (m *MockWriteAPI) Errors() <-chan error { return nil }
