package steps

import (
	"testing"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/fsexport/fsexport/internal/engine/encoders"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTableStep(t *testing.T) {
	enc, err := encoders.NewCSVEncoder(encoders.Options{UseLabels: true, CSV: encoders.CSVOptions{Encoding: "utf-8", LineTerminator: "lf"}})
	require.NoError(t, err)

	t.Run("writes the encoded table", func(t *testing.T) {
		fs, sink := memSink(t, "/out")
		step, err := NewWriteTableStep("results", nopLogger(), WriteTableStepConfig{
			Encoder:  enc,
			Sink:     sink,
			Filename: "export.csv",
		})
		require.NoError(t, err)
		assert.Equal(t, WriteTableStepKind, step.Kind())

		require.NoError(t, step.Run(t.Context(), resultsTable()))

		content := readFile(t, fs, "/out/export.csv")
		assert.Contains(t, content, "Reference #,Upload,Date\n")
		assert.Contains(t, content, "10,"+fileURL("f-1-3-a.pdf")+",\n")
	})

	t.Run("default file name uses the step name", func(t *testing.T) {
		fs, sink := memSink(t, "/out")
		step, err := NewWriteTableStep("results", nopLogger(), WriteTableStepConfig{Encoder: enc, Sink: sink})
		require.NoError(t, err)

		require.NoError(t, step.Run(t.Context(), resultsTable()))

		exists, err := afero.Exists(fs, "/out/results.csv")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("requires an encoder and a sink", func(t *testing.T) {
		_, sink := memSink(t, "/out")
		_, err := NewWriteTableStep("results", nopLogger(), WriteTableStepConfig{Sink: sink})
		assert.ErrorContains(t, err, "encoder is required")

		_, err = NewWriteTableStep("results", nopLogger(), WriteTableStepConfig{Encoder: enc})
		assert.ErrorContains(t, err, "sink is required")
	})
}

func TestLatestReferenceStep(t *testing.T) {
	t.Run("writes the highest reference", func(t *testing.T) {
		fs, sink := memSink(t, "/out")
		step, err := NewLatestReferenceStep("latest", nopLogger(), LatestReferenceStepConfig{Sink: sink, Filename: "latest_id.txt"})
		require.NoError(t, err)

		table := resultsTable()
		table.Rows[0], table.Rows[2] = table.Rows[2], table.Rows[0]
		require.NoError(t, step.Run(t.Context(), table))

		assert.Equal(t, "12\n", readFile(t, fs, "/out/latest_id.txt"))
	})

	t.Run("empty table writes nothing", func(t *testing.T) {
		fs, sink := memSink(t, "/out")
		step, err := NewLatestReferenceStep("latest", nopLogger(), LatestReferenceStepConfig{Sink: sink})
		require.NoError(t, err)

		require.NoError(t, step.Run(t.Context(), engine.NewTable(nil, nil)))

		exists, err := afero.Exists(fs, "/out/latest.txt")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
