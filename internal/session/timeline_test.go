package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/storage"
)

func TestRegenerateTimelineIndexesWritesDailyMonthlyYearlyIndexes(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.CreateSession("t1")
	require.NoError(t, err)

	_, err = mgr.AppendMessage("t1", NewMessage(cortextypes.RoleUser, "one"), "")
	require.NoError(t, err)
	_, err = mgr.AppendMessage("t1", NewMessage(cortextypes.RoleAssistant, "two"), "")
	require.NoError(t, err)

	generated, err := mgr.RegenerateTimelineIndexes("t1")
	require.NoError(t, err)
	require.Len(t, generated, 3) // one day, one month, one year

	now := time.Now().UTC()
	yearMonth := now.Format("2006-01")
	day := now.Format("02")

	dayIndex := timelineRoot("t1").Child(yearMonth).Child(day).Child(storage.IndexFile)
	content, err := mgr.fs.Read(dayIndex)
	require.NoError(t, err)
	assert.Contains(t, content, "**Messages**: 2")

	monthIndex := timelineRoot("t1").Child(yearMonth).Child(storage.IndexFile)
	content, err = mgr.fs.Read(monthIndex)
	require.NoError(t, err)
	assert.Contains(t, content, "Total Messages**: 2")

	yearIndex := timelineRoot("t1").Child(now.Format("2006")).Child(storage.IndexFile)
	content, err = mgr.fs.Read(yearIndex)
	require.NoError(t, err)
	assert.Contains(t, content, yearMonth)
}

func TestRegenerateTimelineIndexesExcludedFromListMessages(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.CreateSession("t1")
	require.NoError(t, err)
	_, err = mgr.AppendMessage("t1", NewMessage(cortextypes.RoleUser, "one"), "")
	require.NoError(t, err)

	_, err = mgr.RegenerateTimelineIndexes("t1")
	require.NoError(t, err)

	uris, err := mgr.ListMessages("t1")
	require.NoError(t, err)
	assert.Len(t, uris, 1, "index.md files must never be counted as messages")
}

func TestCloseSessionRegeneratesTimelineIndexes(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.CreateSession("t1")
	require.NoError(t, err)
	_, err = mgr.AppendMessage("t1", NewMessage(cortextypes.RoleUser, "one"), "")
	require.NoError(t, err)

	require.NoError(t, mgr.CloseSession("t1"))

	now := time.Now().UTC()
	monthIndex := timelineRoot("t1").Child(now.Format("2006-01")).Child(storage.IndexFile)
	exists, err := mgr.fs.Exists(monthIndex)
	require.NoError(t, err)
	assert.True(t, exists, "CloseSession should regenerate timeline indexes")
}

func TestRegenerateTimelineIndexesOnEmptySessionIsNoop(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.CreateSession("t1")
	require.NoError(t, err)

	generated, err := mgr.RegenerateTimelineIndexes("t1")
	require.NoError(t, err)
	assert.Empty(t, generated)
}
