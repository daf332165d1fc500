package steps

import (
	"testing"
	"time"

	"github.com/fsexport/fsexport/internal/engine"
	"github.com/fsexport/fsexport/internal/engine/sinks"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testServer    = "fs8"
	testDirectory = "acme"
)

func fileURL(name string) string {
	return "https://" + testServer + ".formsite.com/" + testDirectory + "/files/" + name
}

func resultsTable() *engine.Table {
	return engine.NewTable(
		[]engine.Column{
			{ID: "id", Label: "Reference #"},
			{ID: "3", Label: "Upload"},
			{ID: "date_update", Label: "Date"},
		},
		[]engine.Row{
			{"id": int64(12), "3": fileURL("f-1-2-a.pdf") + " | " + fileURL("b.png"), "date_update": time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)},
			{"id": int64(11), "3": "not a link", "date_update": time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
			{"id": int64(10), "3": fileURL("f-1-3-a.pdf"), "date_update": nil},
		},
	)
}

func memSink(t *testing.T, dir string) (afero.Fs, engine.Sink) {
	t.Helper()

	fs := afero.NewMemMapFs()
	sink, err := sinks.NewFilesystemSinkFromPath(fs, dir)
	require.NoError(t, err)
	return fs, sink
}

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(data)
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}
