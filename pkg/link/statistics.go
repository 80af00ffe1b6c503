// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/gyrostat/pkg/mlx"
)

// Statistics tracks report statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalReports     uint64
	ValidReports     uint64
	MalformedReports uint64
	AnomalousReports uint64
	Faults           uint64
	HighVelocity     uint64
	HighTemp         uint64
	SensorCRCErrors  uint64
	SensorDecode     uint64
	SensorErrors     uint64
	SensorNTT        uint64
	WritesSent       uint64
	WritesSkipped    uint64

	// Rates (calculated)
	ReportRate float64 // reports/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a report and its errors
func (s *Statistics) Update(r *ReadData, decodeErr error, validationErrors []ValidationError) {
	s.TotalReports++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrReportLength) {
			s.MalformedReports++
		}
		return
	}

	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyFault:
			s.Faults++
		case AnomalyHighVelocity:
			s.HighVelocity++
		case AnomalyHighTemp:
			s.HighTemp++
		case AnomalySensorCRC:
			s.SensorCRCErrors++
		case AnomalySensorDecode:
			s.SensorDecode++
		}
	}
	if len(validationErrors) > 0 {
		s.AnomalousReports++
	} else {
		s.ValidReports++
	}

	if r != nil && r.IsManual() {
		if p, err := r.Sensor(); err == nil && p.Marker() == mlx.MarkerOpcode {
			switch p.Opcode() {
			case mlx.OpErrorFrame:
				s.SensorErrors++
			case mlx.OpNothingToTransmit:
				s.SensorNTT++
			}
		}
	}
}

// CalculateRates calculates report and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.ReportRate = float64(s.TotalReports) / elapsed
		errorCount := s.MalformedReports + s.AnomalousReports
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) * 100.0 / float64(total)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Reports:   %8d\n", s.TotalReports)
	result += fmt.Sprintf("Valid Reports:   %8d (%.1f%%)\n", s.ValidReports, percent(s.ValidReports, s.TotalReports))

	if s.MalformedReports > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedReports, percent(s.MalformedReports, s.TotalReports))
	}
	if s.AnomalousReports > 0 {
		result += fmt.Sprintf("Anomalous:       %8d (%.1f%%)\n", s.AnomalousReports, percent(s.AnomalousReports, s.TotalReports))
		if s.Faults > 0 {
			result += fmt.Sprintf("  Faulted:          %5d\n", s.Faults)
		}
		if s.HighVelocity > 0 {
			result += fmt.Sprintf("  Velocity Glitch:  %5d\n", s.HighVelocity)
		}
		if s.HighTemp > 0 {
			result += fmt.Sprintf("  Over Temp:        %5d\n", s.HighTemp)
		}
		if s.SensorCRCErrors > 0 {
			result += fmt.Sprintf("  Sensor CRC:       %5d\n", s.SensorCRCErrors)
		}
		if s.SensorDecode > 0 {
			result += fmt.Sprintf("  Sensor Decode:    %5d\n", s.SensorDecode)
		}
	}
	if s.SensorErrors > 0 || s.SensorNTT > 0 {
		result += fmt.Sprintf("Sensor Errors:   %8d (NTT %d)\n", s.SensorErrors, s.SensorNTT)
	}
	result += fmt.Sprintf("Writes:          %8d (skipped %d)\n", s.WritesSent, s.WritesSkipped)
	result += fmt.Sprintf("Report Rate:     %8.1f reports/sec\n", s.ReportRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "=====================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
