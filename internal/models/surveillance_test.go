package models

import (
	"testing"
	"time"
)

func TestRawCaseRecord_ToCaseCount(t *testing.T) {
	tests := []struct {
		name        string
		record      RawCaseRecord
		wantErr     bool
		checkValues func(*testing.T, *CaseCount)
	}{
		{
			name:   "valid record",
			record: RawCaseRecord{RegionCode: "DE", Period: "2020-03", Count: "57"},
			checkValues: func(t *testing.T, cc *CaseCount) {
				if cc.RegionCode != "DE" {
					t.Errorf("RegionCode = %v, want DE", cc.RegionCode)
				}
				want := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
				if !cc.Period.Equal(want) {
					t.Errorf("Period = %v, want %v", cc.Period, want)
				}
				if cc.Count != 57 {
					t.Errorf("Count = %v, want 57", cc.Count)
				}
			},
		},
		{
			name:   "surrounding whitespace is trimmed",
			record: RawCaseRecord{RegionCode: " FR ", Period: " 2021-11 ", Count: " 3 "},
			checkValues: func(t *testing.T, cc *CaseCount) {
				if cc.RegionCode != "FR" {
					t.Errorf("RegionCode = %q, want FR", cc.RegionCode)
				}
				if cc.Count != 3 {
					t.Errorf("Count = %v, want 3", cc.Count)
				}
			},
		},
		{
			name:   "zero count is valid",
			record: RawCaseRecord{RegionCode: "IT", Period: "2020-01", Count: "0"},
			checkValues: func(t *testing.T, cc *CaseCount) {
				if cc.Count != 0 {
					t.Errorf("Count = %v, want 0", cc.Count)
				}
			},
		},
		{
			name:    "empty region code",
			record:  RawCaseRecord{RegionCode: "  ", Period: "2020-03", Count: "5"},
			wantErr: true,
		},
		{
			name:    "invalid period format",
			record:  RawCaseRecord{RegionCode: "DE", Period: "03/2020", Count: "5"},
			wantErr: true,
		},
		{
			name:    "negative count",
			record:  RawCaseRecord{RegionCode: "DE", Period: "2020-03", Count: "-1"},
			wantErr: true,
		},
		{
			name:    "non-integer count",
			record:  RawCaseRecord{RegionCode: "DE", Period: "2020-03", Count: "5.5"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc, err := tt.record.ToCaseCount()

			if (err != nil) != tt.wantErr {
				t.Errorf("ToCaseCount() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkValues != nil {
				tt.checkValues(t, cc)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{
		Field:   "count",
		Value:   "-4",
		Message: "case count must be non-negative",
	}

	if err.Error() != "case count must be non-negative" {
		t.Errorf("Error() = %v", err.Error())
	}

	if err.IsTransient() {
		t.Error("ValidationError should not be transient")
	}
}
