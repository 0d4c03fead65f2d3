package spreadsheet

import (
	"fmt"
	"testing"
)

func newBenchSpreadsheet(b *testing.B, rows, cols uint32) *Spreadsheet {
	b.Helper()
	config := DefaultConfig()
	config.DefaultRows, config.DefaultCols = rows, cols
	s, err := NewSpreadsheetWithConfig(config)
	if err != nil {
		b.Fatal(err)
	}
	if err := s.AddWorksheet("Sheet1"); err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkLargeCellPopulation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := newBenchSpreadsheet(b, 1000, 26)
		for row := uint32(0); row < 100; row++ {
			for col := uint32(0); col < 26; col++ {
				s.Set("Sheet1!"+FormatA1(col, row), float64((row+1)*(col+1)))
			}
		}
	}
}

func BenchmarkFormulaDependencyChain(b *testing.B) {
	s := newBenchSpreadsheet(b, 1000, 26)
	s.Set("Sheet1!A1", 1.0)
	for i := 2; i <= 100; i++ {
		s.Set(fmt.Sprintf("Sheet1!A%d", i), fmt.Sprintf("=A%d+1", i-1))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("Sheet1!A1", float64(i))
	}
}

func BenchmarkWideDependencyFanOut(b *testing.B) {
	s := newBenchSpreadsheet(b, 1000, 26)
	s.Set("Sheet1!A1", 100.0)
	for i := 2; i <= 500; i++ {
		s.Set(fmt.Sprintf("Sheet1!B%d", i), "=A1*2")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("Sheet1!A1", float64(i))
	}
}

func BenchmarkLargeRangeSUM(b *testing.B) {
	s := newBenchSpreadsheet(b, 1000, 26)
	for i := 1; i <= 1000; i++ {
		s.Set(fmt.Sprintf("Sheet1!A%d", i), float64(i))
	}
	s.Set("Sheet1!B1", "=SUM(A1:A1000)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Calculate()
	}
}

func BenchmarkSparseMatrix(b *testing.B) {
	s := newBenchSpreadsheet(b, 1000, 1024)
	for row := uint32(0); row < 1000; row += 10 {
		for col := uint32(0); col < 1000; col += 10 {
			s.Set("Sheet1!"+FormatA1(col, row), float64(row+col))
		}
	}
	s.Set("Sheet1!AMZ1", "=SUM(A2:ALL1000)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("Sheet1!A11", float64(i))
	}
}

func BenchmarkCircularReferenceDetection(b *testing.B) {
	for i := 0; i < b.N; i++ {
		s := newBenchSpreadsheet(b, 100, 26)
		s.Set("Sheet1!A1", "=B1+C1")
		s.Set("Sheet1!B1", "=C1+D1")
		s.Set("Sheet1!C1", "=D1+E1")
		s.Set("Sheet1!D1", "=E1+F1")
		s.Set("Sheet1!E1", "=F1+G1")
		s.Set("Sheet1!F1", "=G1+H1")
		s.Set("Sheet1!G1", "=H1+A1")
		s.Set("Sheet1!H1", "=A1")
		s.Calculate()
	}
}

func BenchmarkSpill(b *testing.B) {
	s := newBenchSpreadsheet(b, 1000, 26)
	s.Set("Sheet1!A1", "=SEQUENCE(500, 10)")
	s.Set("Sheet1!L1", "=SUM(A1:J500)")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("Sheet1!A1", fmt.Sprintf("=SEQUENCE(500, 10, %d)", i))
	}
}

func BenchmarkVectorizedOperators(b *testing.B) {
	s := newBenchSpreadsheet(b, 1000, 26)
	for i := 1; i <= 500; i++ {
		s.Set(fmt.Sprintf("Sheet1!A%d", i), float64(i))
	}
	s.Set("Sheet1!B1", "=A1:A500*2+1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("Sheet1!A1", float64(i))
	}
}

func BenchmarkDirtyPropagation(b *testing.B) {
	s := newBenchSpreadsheet(b, 100, 26)
	size := uint32(20)
	for row := uint32(0); row < size; row++ {
		for col := uint32(0); col < size; col++ {
			address := "Sheet1!" + FormatA1(col, row)
			switch {
			case row == 0 && col == 0:
				s.Set(address, 1.0)
			case row == 0:
				s.Set(address, "="+FormatA1(col-1, row)+"+1")
			case col == 0:
				s.Set(address, "="+FormatA1(col, row-1)+"+1")
			default:
				s.Set(address, "="+FormatA1(col-1, row)+"+"+FormatA1(col, row-1))
			}
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Set("Sheet1!A1", float64(i%100))
	}
}
