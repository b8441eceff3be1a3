package mirror

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laneflow/pkg/eventlog"
)

func TestEventLogMirrorPublishes(t *testing.T) {
	dir := t.TempDir()
	writer, err := eventlog.NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	m := NewEventLogMirror(writer, 8)
	m.Publish(eventlog.Event{Type: eventlog.TypeStatusChange, WorkItemID: "item-001"})
	m.Publish(eventlog.Event{Type: eventlog.TypeMergeCompleted, WorkItemID: "item-001"})
	m.Close()

	path := filepath.Join(dir, "events-"+time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], eventlog.TypeStatusChange)
}

func TestEventLogMirrorCloseIsIdempotent(t *testing.T) {
	writer, err := eventlog.NewWriter(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	m := NewEventLogMirror(writer, 1)
	m.Close()
	m.Close()
}

func TestEventLogMirrorDropsAfterClose(t *testing.T) {
	dir := t.TempDir()
	writer, err := eventlog.NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()

	m := NewEventLogMirror(writer, 8)
	m.Close()

	require.NotPanics(t, func() {
		m.Publish(eventlog.Event{Type: eventlog.TypeStatusChange, WorkItemID: "item-001"})
	})

	path := filepath.Join(dir, "events-"+time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(string(data)))
}

func TestNopMirror(t *testing.T) {
	var m Mirror = Nop{}
	m.Publish(eventlog.Event{Type: eventlog.TypeStatusChange})
	m.Close()
}
