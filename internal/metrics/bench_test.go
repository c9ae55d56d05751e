package metrics

import "testing"

// BenchmarkCollector_Inbound measures the per-chunk accounting done by
// a session reader: bytes in plus one delivered record.
func BenchmarkCollector_Inbound(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(64)
		c.RecordDelivered()
	}
}

// BenchmarkCollector_Dial measures a dial that needed the fallback.
func BenchmarkCollector_Dial(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.DialAttempt()
		c.DialFallback()
		c.DialAttempt()
	}
}

// BenchmarkCollector_Snapshot measures the cost behind the host
// bridge's stats action.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.SessionOpened()
	c.BytesSent(1024)
	c.Relisten()
	c.RecordError("accept: connection reset")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}

// BenchmarkNilCollector verifies a manager built without metrics pays
// nothing.
func BenchmarkNilCollector(b *testing.B) {
	var c *Collector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.BytesReceived(64)
		c.RecordDelivered()
		c.ConnectionLost()
	}
}
