package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"wisefido-medication/internal/domain"
	"wisefido-medication/internal/repository"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCLIFlags(t *testing.T) {
	var args cli
	parser, err := kong.New(&args, kong.Name("check-workflow-records"))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"--patient", "pt-1", "--start", "2025-01-10", "--end", "2025-01-11", "--delete"})
	require.NoError(t, err)
	assert.Equal(t, cli{Patient: "pt-1", Start: "2025-01-10", End: "2025-01-11", Delete: true}, args)
}

func TestRun_ReportsCompleteness(t *testing.T) {
	p := &domain.Prescription{
		PrescriptionID: "rx-1",
		PatientID:      "pt-1",
		FrequencyType:  domain.FrequencyDaily,
		StartDate:      "2025-01-01",
		Status:         domain.PrescriptionActive,
		TimeSlots:      []string{"08:00"},
	}
	records := repository.NewMemoryWorkflowRecordsRepo()
	_, err := records.CreateRecord(context.Background(), domain.NewPendingRecord("r1", p, "2025-01-10", "08:00", time.Now()))
	require.NoError(t, err)

	var out bytes.Buffer
	err = run(context.Background(), cli{Patient: "pt-1", Start: "2025-01-10", End: "2025-01-11"},
		records, repository.NewMemoryPrescriptionsRepo(p), zap.NewNop(), &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "No duplicates")
	assert.Contains(t, out.String(), "expected=2 actual=1 missing=1")
}

func TestRun_InvalidRange(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), cli{Start: "2025-01-11", End: "2025-01-10"},
		repository.NewMemoryWorkflowRecordsRepo(), repository.NewMemoryPrescriptionsRepo(), zap.NewNop(), &out)
	assert.Error(t, err)
}
