package audit

import (
	"bytes"
	"io"
	"testing"
)

func BenchmarkWriteExport(b *testing.B) {
	x := testExport(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := WriteExport(io.Discard, x, exportedAt); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadAndVerify(b *testing.B) {
	var buf bytes.Buffer
	if err := WriteExport(&buf, testExport(b), exportedAt); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x, _, err := ReadExport(bytes.NewReader(data))
		if err != nil {
			b.Fatal(err)
		}
		if err := x.Verify(); err != nil {
			b.Fatal(err)
		}
	}
}
